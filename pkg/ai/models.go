package ai

import "strings"

// DefaultDimensions is assumed for models missing from the table.
const DefaultDimensions = 768

// legacyModelIDs are placeholder ids stored by older profiles; they resolve
// to the configured default model.
var legacyModelIDs = map[string]struct{}{
	"default":         {},
	"local-embedding": {},
}

// knownDimensions must match what the backends actually return, otherwise
// collections get created with the wrong vector size.
var knownDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"bge-m3":                 1024,
	"bge-large":              1024,
	"snowflake-arctic-embed": 1024,
	"text-embedding-004":     768,
	"gemini-embedding-001":   3072,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// IsLegacyModel reports whether id is a placeholder rather than a real model.
func IsLegacyModel(id string) bool {
	_, ok := legacyModelIDs[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// lookupDimensions finds a model in table, ignoring a "models/" prefix and a
// ":tag" suffix.
func lookupDimensions(table map[string]int, model string) (int, bool) {
	key := strings.ToLower(strings.TrimSpace(model))
	key = strings.TrimPrefix(key, "models/")
	if dim, ok := table[key]; ok {
		return dim, true
	}
	if i := strings.LastIndex(key, ":"); i > 0 {
		if dim, ok := table[key[:i]]; ok {
			return dim, true
		}
	}
	return 0, false
}
