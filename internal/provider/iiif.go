package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/archivist/internal/httpexec"
	"github.com/pdiddy/archivist/internal/naming"
	"github.com/pdiddy/archivist/pkg/types"
)

// Rendering is a bundled artifact (PDF/EPUB) referenced from a manifest,
// mirroring the original's `api/direct_iiif_api.py` rendering extraction.
type Rendering struct {
	URL    string
	Format string
	Label  string
}

// Manifest is the provider-agnostic shape extracted from either a IIIF
// Presentation API v2 or v3 manifest document: image-service base URLs (one
// per canvas/page, in reading order) plus any top-level renderings.
type Manifest struct {
	Label             string
	Attribution       string
	ImageServiceBases []string
	Renderings        []Rendering
}

// manifestURLPatterns are the regexes the original's `IIIF_MANIFEST_PATTERNS`
// uses to recognize a URL as pointing at a IIIF manifest rather than a plain
// item landing page, grounded on `api/direct_iiif_api.py`.
var manifestURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/iiif/.*/manifest(\.json)?$`),
	regexp.MustCompile(`(?i)/manifest\.json$`),
	regexp.MustCompile(`(?i)iiif\.io/api/presentation`),
}

// LooksLikeManifestURL reports whether rawURL matches a known IIIF manifest
// path shape.
func LooksLikeManifestURL(rawURL string) bool {
	for _, re := range manifestURLPatterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// FetchManifest retrieves and parses a IIIF Presentation manifest (v2 or
// v3), normalizing both shapes into Manifest.
func FetchManifest(ctx context.Context, exec *httpexec.Executor, providerKey, manifestURL string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, err
	}
	res, err := exec.Do(ctx, providerKey, req)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(res.Body, &raw); err != nil {
		return nil, &types.IOError{Op: "parse IIIF manifest", Err: err}
	}
	m := &Manifest{
		Label:             extractLabel(raw["label"]),
		Attribution:       extractLabel(raw["attribution"]),
		ImageServiceBases: ExtractImageServiceBases(raw),
		Renderings:        extractRenderings(raw),
	}
	return m, nil
}

// extractLabel handles both v2's string/array-of-strings label and v3's
// language-map label ({"none": ["..."]}).
func extractLabel(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	case map[string]any:
		for _, vals := range t {
			if arr, ok := vals.([]any); ok && len(arr) > 0 {
				if s, ok := arr[0].(string); ok {
					return s
				}
			}
		}
	}
	return ""
}

// ExtractImageServiceBases walks a parsed manifest document (v2's
// sequences[0].canvases[].images[0].resource.service, or v3's
// items[].items[0].items[0].body[].service) and returns each canvas's
// image-service @id/id, deduplicated, in reading order. Grounded on the
// original's `api/iiif.py::extract_image_service_bases`.
func ExtractImageServiceBases(raw map[string]any) []string {
	var bases []string
	seen := map[string]bool{}
	add := func(id string) {
		id = strings.TrimSuffix(id, "/")
		if id != "" && !seen[id] {
			seen[id] = true
			bases = append(bases, id)
		}
	}

	if sequences, ok := raw["sequences"].([]any); ok && len(sequences) > 0 {
		if seq, ok := sequences[0].(map[string]any); ok {
			if canvases, ok := seq["canvases"].([]any); ok {
				for _, cv := range canvases {
					canvas, ok := cv.(map[string]any)
					if !ok {
						continue
					}
					images, _ := canvas["images"].([]any)
					if len(images) == 0 {
						continue
					}
					img, ok := images[0].(map[string]any)
					if !ok {
						continue
					}
					resource, _ := img["resource"].(map[string]any)
					if resource == nil {
						continue
					}
					service := serviceID(resource["service"])
					if service != "" {
						add(service)
					}
				}
			}
		}
	}

	if items, ok := raw["items"].([]any); ok {
		for _, it := range items {
			canvas, ok := it.(map[string]any)
			if !ok {
				continue
			}
			canvasItems, _ := canvas["items"].([]any)
			if len(canvasItems) == 0 {
				continue
			}
			anno, ok := canvasItems[0].(map[string]any)
			if !ok {
				continue
			}
			innerItems, _ := anno["items"].([]any)
			if len(innerItems) == 0 {
				continue
			}
			page, ok := innerItems[0].(map[string]any)
			if !ok {
				continue
			}
			body := page["body"]
			var bodies []any
			switch b := body.(type) {
			case []any:
				bodies = b
			case map[string]any:
				bodies = []any{b}
			}
			for _, bb := range bodies {
				bm, ok := bb.(map[string]any)
				if !ok {
					continue
				}
				service := serviceID(bm["service"])
				if service != "" {
					add(service)
				}
			}
		}
	}
	return bases
}

func serviceID(v any) string {
	switch s := v.(type) {
	case map[string]any:
		if id, ok := s["@id"].(string); ok {
			return id
		}
		if id, ok := s["id"].(string); ok {
			return id
		}
	case []any:
		if len(s) > 0 {
			return serviceID(s[0])
		}
	}
	return ""
}

// extractRenderings pulls top-level "rendering" entries (v2 object-or-array,
// v3 array) off a manifest document.
func extractRenderings(raw map[string]any) []Rendering {
	var out []Rendering
	add := func(m map[string]any) {
		r := Rendering{}
		if id, ok := m["@id"].(string); ok {
			r.URL = id
		} else if id, ok := m["id"].(string); ok {
			r.URL = id
		}
		if f, ok := m["format"].(string); ok {
			r.Format = f
		}
		r.Label = extractLabel(m["label"])
		if r.URL != "" {
			out = append(out, r)
		}
	}
	switch v := raw["rendering"].(type) {
	case map[string]any:
		add(v)
	case []any:
		for _, e := range v {
			if m, ok := e.(map[string]any); ok {
				add(m)
			}
		}
	}
	return out
}

// ImageURLCandidates returns the default IIIF Image API request URLs for one
// service base, in preference order (largest/full first), mirroring the
// original's `api/iiif.py::image_url_candidates`.
func ImageURLCandidates(serviceBase string) []string {
	base := strings.TrimSuffix(serviceBase, "/")
	return []string{
		base + "/full/full/0/default.jpg",
		base + "/full/max/0/default.jpg",
		base + "/full/pct:100/0/default.jpg",
	}
}

// FilterRenderingsByMime keeps only renderings whose Format (or URL
// extension, when Format is empty) appears in whitelist, up to maxN,
// deduplicated by URL. An empty whitelist admits everything. Grounded on
// `api/utils.py::download_iiif_renderings`'s dedupe-and-cap behavior.
func FilterRenderingsByMime(renderings []Rendering, whitelist []string, maxN int) []Rendering {
	allow := make(map[string]bool, len(whitelist))
	for _, w := range whitelist {
		allow[strings.ToLower(w)] = true
	}
	seen := map[string]bool{}
	var out []Rendering
	for _, r := range renderings {
		if seen[r.URL] {
			continue
		}
		if len(allow) > 0 {
			fmtKey := strings.ToLower(r.Format)
			if fmtKey == "" {
				fmtKey = strings.ToLower(extFromURL(r.URL))
			}
			if !allow[fmtKey] && !allow[strings.TrimPrefix(fmtKey, ".")] {
				continue
			}
		}
		seen[r.URL] = true
		out = append(out, r)
		if maxN > 0 && len(out) >= maxN {
			break
		}
	}
	return out
}

func extFromURL(u string) string {
	if idx := strings.LastIndex(u, "."); idx >= 0 {
		return u[idx:]
	}
	return ""
}

// manifestItemIDPattern extracts a trailing numeric/alnum item identifier
// from common digitized-library item URLs, grounded on the original's
// `extract_item_id_from_url`.
var manifestItemIDPattern = regexp.MustCompile(`([A-Za-z0-9_\-]+)/?$`)

// ExtractItemIDFromURL returns the last path segment of itemURL, used by
// adapters that derive a manifest URL from an item landing page URL.
func ExtractItemIDFromURL(itemURL string) string {
	m := manifestItemIDPattern.FindStringSubmatch(strings.TrimSuffix(itemURL, "/"))
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// downloadManifestArtifacts is the shared renderings-then-page-images flow
// used by the Europeana adapter and by the Internet Archive adapter's
// manifest-fallback path. It writes through exec so budget/rate/breaker
// apply to every request, and stops as soon as the accountant reports the
// budget is exhausted.
func downloadManifestArtifacts(ctx context.Context, exec *httpexec.Executor, providerKey, stem, workDir string, seq *naming.Sequencer, manifest *Manifest, opts Options) (Outcome, error) {
	var out Outcome

	if opts.DownloadManifestRenderings && len(manifest.Renderings) > 0 {
		renderings := FilterRenderingsByMime(manifest.Renderings, opts.RenderingMimeWhitelist, opts.MaxRenderingsPerManifest)
		for _, r := range renderings {
			if exec.Accountant() != nil && exec.Accountant().Stopped() {
				out.SkippedReason = "budget-stop"
				return out, nil
			}
			written, n, err := downloadOneArtifact(ctx, exec, providerKey, r.URL, stem, workDir, seq, opts)
			if err != nil {
				continue
			}
			out.FilesWritten = append(out.FilesWritten, written)
			out.BytesWritten += n
		}
		if len(out.FilesWritten) > 0 {
			return out, nil
		}
	}

	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = len(manifest.ImageServiceBases)
	}
	for i, base := range manifest.ImageServiceBases {
		if i >= maxPages {
			break
		}
		if exec.Accountant() != nil && exec.Accountant().Stopped() {
			out.SkippedReason = "budget-stop"
			break
		}
		candidates := ImageURLCandidates(base)
		var written string
		var n int64
		var err error
		for _, cand := range candidates {
			written, n, err = downloadOneArtifact(ctx, exec, providerKey, cand, stem, workDir, seq, opts)
			if err == nil {
				break
			}
		}
		if err != nil {
			continue
		}
		out.FilesWritten = append(out.FilesWritten, written)
		out.BytesWritten += n
	}
	if len(out.FilesWritten) == 0 {
		out.SkippedReason = "no-artifacts"
	}
	return out, nil
}

// downloadOneArtifact streams one artifact URL into workDir/objects via exec
// (so rate/breaker/budget apply), naming it through seq.
func downloadOneArtifact(ctx context.Context, exec *httpexec.Executor, providerKey, artifactURL, stem, workDir string, seq *naming.Sequencer, opts Options) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := exec.DoStream(ctx, providerKey, req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	cd := naming.FilenameFromContentDisposition(resp.Header.Get("Content-Disposition"))
	ext := naming.InferExt(artifactURL, resp.Header, cd)
	if !extensionAllowed(ext, opts.AllowedExtensions) {
		return "", 0, fmt.Errorf("extension %s not allowed", ext)
	}
	filename := seq.ObjectFilename(stem, providerKey, ext)
	path := workDir + "/objects/" + filename

	n, err := streamToFile(exec, providerKey, resp, path)
	if err != nil {
		return "", 0, err
	}
	return filename, n, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, ext) || strings.EqualFold(a, strings.TrimPrefix(ext, ".")) {
			return true
		}
	}
	return false
}

// parseContentLength returns the Content-Length header as int64, or 0.
func parseContentLength(header string) int64 {
	n, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
