package scrape

import "unicode/utf8"

// Excerpt returns at most limit runes of body. A limit <= 0 uses
// DefaultExcerptLimit. Invalid UTF-8 bytes are counted as one rune each and
// replaced, so the excerpt is always valid UTF-8.
func Excerpt(body []byte, limit int) string {
	if limit <= 0 {
		limit = DefaultExcerptLimit
	}
	if len(body) <= limit && utf8.Valid(body) {
		return string(body)
	}
	out := make([]rune, 0, min(limit, len(body)))
	for len(body) > 0 && len(out) < limit {
		r, size := utf8.DecodeRune(body)
		out = append(out, r)
		body = body[size:]
	}
	return string(out)
}
