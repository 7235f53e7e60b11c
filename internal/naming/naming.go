// Package naming derives the deterministic on-disk layout's slugs and
// sequence-numbered filenames from a work's title/creator/year and each
// artifact's provider key and content type.
package naming

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"unicode"
)

// imageExtensions mirrors the original's image_exts set used to classify an
// artifact as "image" for sequencing purposes.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".jp2": true,
	".tif": true, ".tiff": true, ".gif": true, ".bmp": true, ".webp": true,
}

// contentTypeExt maps a Content-Type (ignoring parameters) to a file
// extension when the URL path carries no suffix of its own.
var contentTypeExt = map[string]string{
	"application/pdf":      ".pdf",
	"application/epub+zip": ".epub",
	"image/jpeg":           ".jpg",
	"image/jpg":            ".jpg",
	"image/png":            ".png",
	"image/jp2":            ".jp2",
	"text/plain":           ".txt",
	"text/html":            ".html",
	"application/json":     ".json",
}

// Slugify NFKC-folds (approximated via unicode.IsMark stripping, since no
// normalization library appears anywhere in the retrieval pack), lowercases,
// replaces every run of non-[a-z0-9] with a single underscore, trims
// leading/trailing underscores, and caps the result at maxLen.
func Slugify(s string, maxLen int) string {
	folded := foldDiacritics(strings.ToLower(s))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if maxLen > 0 && len(out) > maxLen {
		out = strings.TrimRight(out[:maxLen], "_")
	}
	return out
}

// foldDiacritics strips combining marks so accented characters fold to
// their base ASCII letter (e.g. "é" -> "e") ahead of Slugify's ASCII filter.
func foldDiacritics(s string) string {
	var b strings.Builder
	for _, r := range decomposeApprox(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// decomposeApprox folds common Latin-1 accented letters to their ASCII base
// letters with the replacer below; other characters are returned unchanged.
// True Unicode decomposition needs golang.org/x/text/unicode/norm, which
// nothing in the retrieval pack imports.
func decomposeApprox(s string) string {
	return latin1Fold.Replace(s)
}

var latin1Fold = strings.NewReplacer(
	"à", "a", "á", "a", "â", "a", "ã", "a", "ä", "a", "å", "a",
	"è", "e", "é", "e", "ê", "e", "ë", "e",
	"ì", "i", "í", "i", "î", "i", "ï", "i",
	"ò", "o", "ó", "o", "ô", "o", "õ", "o", "ö", "o", "ø", "o",
	"ù", "u", "ú", "u", "û", "u", "ü", "u",
	"ñ", "n", "ç", "c", "ý", "y", "ÿ", "y",
	"æ", "ae", "œ", "oe", "ß", "ss",
)

// WorkDirName builds "<entry_id>_<title_slug>[_<creator_slug>][_<year>]".
func WorkDirName(entryID, title, creator string, year int, maxLen int) string {
	parts := []string{entryID, Slugify(title, maxLen)}
	if creator != "" {
		if cs := Slugify(creator, maxLen); cs != "" {
			parts = append(parts, cs)
		}
	}
	if year > 0 {
		parts = append(parts, fmt.Sprintf("%d", year))
	}
	return strings.Join(parts, "_")
}

// FilenameFromContentDisposition extracts the filename or filename* (RFC
// 5987) parameter from a Content-Disposition header value.
func FilenameFromContentDisposition(cd string) string {
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename*"]; ok {
		if charset, _, enc, ok2 := splitExtended(fn); ok2 {
			_ = charset
			if u, err := url.QueryUnescape(enc); err == nil {
				return u
			}
			return enc
		}
		return fn
	}
	if fn, ok := params["filename"]; ok {
		return fn
	}
	return ""
}

func splitExtended(v string) (charset, lang, value string, ok bool) {
	idx := strings.Index(v, "''")
	if idx < 0 {
		return "", "", "", false
	}
	return v[:idx], "", v[idx+2:], true
}

// InferExt picks the artifact's extension: the requested URL's own
// path suffix first, then a Content-Type mapping, then the
// Content-Disposition filename's suffix, falling back to ".bin".
func InferExt(requestURL string, header http.Header, cdFilename string) string {
	if u, err := url.Parse(requestURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			return strings.ToLower(ext)
		}
	}
	ct := header.Get("Content-Type")
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = ct[:idx]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	for k, v := range contentTypeExt {
		if strings.Contains(ct, k) {
			return v
		}
	}
	if cdFilename != "" {
		if ext := path.Ext(cdFilename); ext != "" {
			return strings.ToLower(ext)
		}
	}
	return ".bin"
}

// IsImageExt reports whether ext (including the leading dot, lowercase)
// classifies an artifact as the "image" content type for sequencing.
func IsImageExt(ext string) bool {
	return imageExtensions[ext]
}

// Sequencer hands out per-(stem, providerKey, typeKey) sequence numbers so
// concurrent downloads within one work get distinct, deterministic-order
// filenames. One Sequencer is scoped to a single work_dir.
type Sequencer struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewSequencer returns an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{counters: make(map[string]int)}
}

func seqKey(stem, providerKey, typeKey string) string {
	return stem + "\x00" + providerKey + "\x00" + typeKey
}

// Next returns the 1-indexed sequence number for the given key, in call
// order.
func (s *Sequencer) Next(stem, providerKey, typeKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seqKey(stem, providerKey, typeKey)
	s.counters[key]++
	return s.counters[key]
}

// ObjectFilename builds the objects/ filename for one artifact, following
// the image-counter-vs-plain-numbering split: images always carry a
// zero-padded 3-digit counter; other types are numbered _2, _3, ... only
// past the first occurrence for that (stem, providerKey, extension).
func (s *Sequencer) ObjectFilename(stem, providerKey, ext string) string {
	ext = strings.ToLower(ext)
	typeKey := strings.TrimPrefix(ext, ".")
	if typeKey == "" {
		typeKey = "bin"
	}
	if IsImageExt(ext) {
		n := s.Next(stem, providerKey, "image")
		return Sanitize(fmt.Sprintf("%s_%s_image_%03d%s", stem, providerKey, n, ext))
	}
	n := s.Next(stem, providerKey, typeKey)
	if n <= 1 {
		return Sanitize(fmt.Sprintf("%s_%s%s", stem, providerKey, ext))
	}
	return Sanitize(fmt.Sprintf("%s_%s_%d%s", stem, providerKey, n, ext))
}

// MetadataFilename builds the metadata/ filename for one artifact's sidecar
// JSON, following the original's "don't number the first file" rule.
func (s *Sequencer) MetadataFilename(stem, providerKey string) string {
	n := s.Next(stem, providerKey, "metadata")
	if n <= 1 {
		return Sanitize(fmt.Sprintf("%s_%s.json", stem, providerKey))
	}
	return Sanitize(fmt.Sprintf("%s_%s_%d.json", stem, providerKey, n))
}

// Sanitize removes characters that are unsafe in a filename on common
// filesystems, without touching the extension's dot.
func Sanitize(name string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_",
	)
	return replacer.Replace(name)
}
