package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pdiddy/archivist/internal/httpexec"
	"github.com/pdiddy/archivist/internal/naming"
	"github.com/pdiddy/archivist/pkg/types"
)

// InternetArchiveAdapter searches archive.org's Advanced Search API and
// downloads items, preferring a bundled PDF/EPUB file over IIIF page images
// when prefer_pdf_over_images is set, and falling back to a cover thumbnail
// when the IIIF manifest cannot be fetched. Grounded on
// `api/internet_archive_api.py`.
type InternetArchiveAdapter struct {
	exec *httpexec.Executor
}

// NewInternetArchiveAdapter returns an adapter wired to exec.
func NewInternetArchiveAdapter(exec *httpexec.Executor) *InternetArchiveAdapter {
	return &InternetArchiveAdapter{exec: exec}
}

func (a *InternetArchiveAdapter) ProviderKey() string { return "internetarchive" }
func (a *InternetArchiveAdapter) DisplayName() string { return "Internet Archive" }

type iaSearchResponse struct {
	Response struct {
		Docs []iaDoc `json:"docs"`
	} `json:"response"`
}

type iaDoc struct {
	Identifier string   `json:"identifier"`
	Title      string   `json:"title"`
	Creator    any      `json:"creator"`
	Date       string   `json:"date"`
	Mediatype  string   `json:"mediatype"`
}

func (d iaDoc) creators() []string {
	switch c := d.Creator.(type) {
	case string:
		if c == "" {
			return nil
		}
		return []string{c}
	case []any:
		var out []string
		for _, v := range c {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Search queries archive.org's Advanced Search API for title/creator and
// returns up to maxResults candidates.
func (a *InternetArchiveAdapter) Search(ctx context.Context, title, creator string, maxResults int) ([]types.Candidate, error) {
	query := fmt.Sprintf(`title:(%s)`, title)
	if creator != "" {
		query += fmt.Sprintf(` AND creator:(%s)`, creator)
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("fl[]", "identifier")
	params.Add("fl[]", "title")
	params.Add("fl[]", "creator")
	params.Add("fl[]", "date")
	params.Add("fl[]", "mediatype")
	params.Set("rows", fmt.Sprintf("%d", maxResults))
	params.Set("output", "json")

	reqURL := "https://archive.org/advancedsearch.php?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	res, err := a.exec.Do(ctx, a.ProviderKey(), req)
	if err != nil {
		return nil, err
	}
	var parsed iaSearchResponse
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return nil, &types.IOError{Op: "parse internetarchive search response", Err: err}
	}

	candidates := make([]types.Candidate, 0, len(parsed.Response.Docs))
	for _, d := range parsed.Response.Docs {
		if d.Identifier == "" {
			continue
		}
		itemURL := "https://archive.org/details/" + d.Identifier
		manifestURL := "https://iiif.archive.org/iiif/" + d.Identifier + "/manifest.json"
		candidates = append(candidates, types.Candidate{
			ProviderKey:     a.ProviderKey(),
			ProviderDisplay: a.DisplayName(),
			Title:           d.Title,
			Creators:        d.creators(),
			Date:            d.Date,
			SourceID:        d.Identifier,
			ItemURL:         itemURL,
			IIIFManifestURL: manifestURL,
			DownloadHint:    d.Identifier,
			RawMetadata:     map[string]any{"mediatype": d.Mediatype},
		})
		if len(candidates) >= maxResults {
			break
		}
	}
	return candidates, nil
}

type iaFile struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Source string `json:"source"`
}

type iaMetadataResponse struct {
	Files []iaFile `json:"files"`
}

// preferredBundleFormats lists archive.org's `files.json` `format` values
// that represent a single bundled document, in download preference order.
var preferredBundleFormats = []string{"Text PDF", "DjVuTXT PDF", "Additional Text PDF", "EPUB"}

// Download fetches archive.org's per-item files listing and writes the best
// available artifact: a bundled PDF/EPUB file first (only when
// opts.PreferPDFOverImages is set), then IIIF page images via the manifest,
// and a cover thumbnail only when the manifest cannot be fetched. Grounded on
// `api/internet_archive_api.py`'s download priority order.
func (a *InternetArchiveAdapter) Download(ctx context.Context, candidate types.ScoredCandidate, workDir string, opts Options) (Outcome, error) {
	identifier, _ := candidate.DownloadHint.(string)
	if identifier == "" {
		identifier = candidate.SourceID
	}
	stem := candidate.SourceID
	// Scoped to this call: a Sequencer's counters are only meaningful within
	// one work_dir, never shared across downloads.
	seq := naming.NewSequencer()

	if !opts.PreferPDFOverImages {
		return a.downloadViaManifest(ctx, candidate, workDir, stem, seq, opts)
	}

	metaURL := "https://archive.org/metadata/" + identifier
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metaURL, nil)
	if err == nil {
		if res, err := a.exec.Do(ctx, a.ProviderKey(), req); err == nil {
			var meta iaMetadataResponse
			if json.Unmarshal(res.Body, &meta) == nil {
				if f := pickBundleFile(meta.Files); f != nil {
					artifactURL := fmt.Sprintf("https://archive.org/download/%s/%s", identifier, f.Name)
					out, derr := a.downloadArtifactURL(ctx, artifactURL, stem, workDir, seq, opts)
					if derr == nil && len(out.FilesWritten) > 0 {
						return out, nil
					}
				}
			}
		}
	}

	return a.downloadViaManifest(ctx, candidate, workDir, stem, seq, opts)
}

func pickBundleFile(files []iaFile) *iaFile {
	for _, want := range preferredBundleFormats {
		for i := range files {
			if files[i].Format == want {
				return &files[i]
			}
		}
	}
	return nil
}

func (a *InternetArchiveAdapter) downloadArtifactURL(ctx context.Context, artifactURL, stem, workDir string, seq *naming.Sequencer, opts Options) (Outcome, error) {
	filename, n, err := downloadOneArtifact(ctx, a.exec, a.ProviderKey(), artifactURL, stem, workDir, seq, opts)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{FilesWritten: []string{filename}, BytesWritten: n}, nil
}

func (a *InternetArchiveAdapter) downloadViaManifest(ctx context.Context, candidate types.ScoredCandidate, workDir, stem string, seq *naming.Sequencer, opts Options) (Outcome, error) {
	if candidate.IIIFManifestURL == "" {
		return Outcome{SkippedReason: "no-manifest"}, nil
	}
	manifest, err := FetchManifest(ctx, a.exec, a.ProviderKey(), candidate.IIIFManifestURL)
	if err != nil {
		identifier, _ := candidate.DownloadHint.(string)
		if identifier == "" {
			identifier = candidate.SourceID
		}
		thumbURL := "https://archive.org/services/img/" + identifier
		return a.downloadArtifactURL(ctx, thumbURL, stem, workDir, seq, opts)
	}
	return downloadManifestArtifacts(ctx, a.exec, a.ProviderKey(), stem, workDir, seq, manifest, opts)
}
