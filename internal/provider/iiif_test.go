package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeManifestURL(t *testing.T) {
	assert.True(t, LooksLikeManifestURL("https://iiif.archive.org/iiif/foo/manifest.json"))
	assert.True(t, LooksLikeManifestURL("https://example.org/manifest.json"))
	assert.True(t, LooksLikeManifestURL("https://iiif.io/api/presentation/3/context.json"))
	assert.False(t, LooksLikeManifestURL("https://archive.org/details/foo"))
}

func TestExtractImageServiceBases_V2Sequences(t *testing.T) {
	raw := map[string]any{
		"sequences": []any{
			map[string]any{
				"canvases": []any{
					map[string]any{
						"images": []any{
							map[string]any{
								"resource": map[string]any{
									"service": map[string]any{"@id": "https://img.example/1"},
								},
							},
						},
					},
					map[string]any{
						"images": []any{
							map[string]any{
								"resource": map[string]any{
									"service": map[string]any{"@id": "https://img.example/2/"},
								},
							},
						},
					},
				},
			},
		},
	}
	bases := ExtractImageServiceBases(raw)
	assert.Equal(t, []string{"https://img.example/1", "https://img.example/2"}, bases)
}

func TestExtractImageServiceBases_V3Items(t *testing.T) {
	raw := map[string]any{
		"items": []any{
			map[string]any{
				"items": []any{
					map[string]any{
						"items": []any{
							map[string]any{
								"body": map[string]any{
									"service": map[string]any{"id": "https://img.example/a"},
								},
							},
						},
					},
				},
			},
		},
	}
	bases := ExtractImageServiceBases(raw)
	assert.Equal(t, []string{"https://img.example/a"}, bases)
}

func TestExtractImageServiceBases_DedupesRepeatedBases(t *testing.T) {
	raw := map[string]any{
		"sequences": []any{
			map[string]any{
				"canvases": []any{
					map[string]any{
						"images": []any{
							map[string]any{"resource": map[string]any{"service": map[string]any{"@id": "https://img.example/1"}}},
						},
					},
					map[string]any{
						"images": []any{
							map[string]any{"resource": map[string]any{"service": map[string]any{"@id": "https://img.example/1/"}}},
						},
					},
				},
			},
		},
	}
	assert.Equal(t, []string{"https://img.example/1"}, ExtractImageServiceBases(raw))
}

func TestImageURLCandidates(t *testing.T) {
	got := ImageURLCandidates("https://img.example/svc/")
	assert.Equal(t, []string{
		"https://img.example/svc/full/full/0/default.jpg",
		"https://img.example/svc/full/max/0/default.jpg",
		"https://img.example/svc/full/pct:100/0/default.jpg",
	}, got)
}

func TestFilterRenderingsByMime_EmptyWhitelistAdmitsAll(t *testing.T) {
	rs := []Rendering{{URL: "a.pdf", Format: "application/pdf"}, {URL: "b.epub", Format: "application/epub+zip"}}
	out := FilterRenderingsByMime(rs, nil, 0)
	assert.Len(t, out, 2)
}

func TestFilterRenderingsByMime_WhitelistFiltersByFormatOrExt(t *testing.T) {
	rs := []Rendering{
		{URL: "a.pdf", Format: "application/pdf"},
		{URL: "b.epub", Format: "application/epub+zip"},
		{URL: "c.jpg"},
	}
	out := FilterRenderingsByMime(rs, []string{"application/pdf"}, 0)
	assert.Len(t, out, 1)
	assert.Equal(t, "a.pdf", out[0].URL)
}

func TestFilterRenderingsByMime_DedupesByURL(t *testing.T) {
	rs := []Rendering{{URL: "a.pdf", Format: "application/pdf"}, {URL: "a.pdf", Format: "application/pdf"}}
	out := FilterRenderingsByMime(rs, nil, 0)
	assert.Len(t, out, 1)
}

func TestFilterRenderingsByMime_RespectsMaxN(t *testing.T) {
	rs := []Rendering{{URL: "a.pdf"}, {URL: "b.pdf"}, {URL: "c.pdf"}}
	out := FilterRenderingsByMime(rs, nil, 2)
	assert.Len(t, out, 2)
}

func TestExtractItemIDFromURL(t *testing.T) {
	assert.Equal(t, "item123", ExtractItemIDFromURL("https://example.org/details/item123"))
	assert.Equal(t, "item123", ExtractItemIDFromURL("https://example.org/details/item123/"))
}
