package chunking

import (
	"bytes"
	"encoding/json"
	"mime"
	"regexp"
	"strings"
)

var (
	lineEndings    = regexp.MustCompile(`\r+\n`)
	excessNewlines = regexp.MustCompile(`\n{3,}`)
)

// CleanText normalizes line endings, expands tabs to two spaces and collapses
// runs of three or more newlines to a single blank line.
func CleanText(text string) string {
	text = lineEndings.ReplaceAllString(text, "\n")
	text = strings.ReplaceAll(text, "\t", "  ")
	return excessNewlines.ReplaceAllString(text, "\n\n")
}

// ExtractText turns raw resource bytes into text. Only text/* and JSON are
// understood; any other type is decoded as UTF-8.
func ExtractText(data []byte, mimeType string) string {
	mediaType := normalizeMediaType(mimeType)
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return decodeUTF8(data)
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		if text, ok := prettyJSON(data); ok {
			return text
		}
		return decodeUTF8(data)
	default:
		return decodeUTF8(data)
	}
}

// prettyJSON re-serializes parsed JSON with two-space indentation. Escapes
// and number spellings are normalized and object keys come out sorted.
func prettyJSON(data []byte) (string, bool) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", false
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", false
	}
	return strings.TrimSuffix(buf.String(), "\n"), true
}

func normalizeMediaType(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		return strings.ToLower(mediaType)
	}
	return strings.ToLower(mimeType)
}

func decodeUTF8(data []byte) string {
	text := strings.ToValidUTF8(string(data), "\uFFFD")
	return strings.TrimPrefix(text, "\uFEFF")
}
