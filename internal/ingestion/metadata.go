package ingestion

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// InferredMetadata holds the party and election year inferred from a chunk
// file's name. Values present on a chunk take precedence; this is the
// best-effort fallback when the export did not carry them.
type InferredMetadata struct {
	// PartyName is the display name of the party, e.g. "Liberal Democrats".
	PartyName string
	// Year is the four-digit election year, or "" when none was found.
	Year string
}

// yearPattern matches a plausible election year inside a file name.
var yearPattern = regexp.MustCompile(`(?:^|[^0-9])((?:19|20)[0-9]{2})(?:[^0-9]|$)`)

// noiseWords are dropped from file names before they become party names.
var noiseWords = map[string]bool{
	"manifesto": true,
	"chunks":    true,
	"chunk":     true,
	"embedded":  true,
	"export":    true,
	"party":     true,
}

// InferMetadata inspects a chunk file path and returns best-effort metadata.
//
// Supported file name patterns:
//
//	labour-2024.jsonl                      -> Labour, 2024
//	liberal_democrats_manifesto_2019.json  -> Liberal Democrats, 2019
//	green-party-chunks.json                -> Green, ""
func InferMetadata(path string) InferredMetadata {
	var m InferredMetadata

	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if match := yearPattern.FindStringSubmatch(base); match != nil {
		m.Year = match[1]
		base = strings.Replace(base, match[1], " ", 1)
	}

	fields := strings.FieldsFunc(base, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || unicode.IsSpace(r)
	})
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		lower := strings.ToLower(f)
		if noiseWords[lower] {
			continue
		}
		words = append(words, titleCase(lower))
	}
	m.PartyName = strings.Join(words, " ")
	return m
}

// titleCase upper-cases the first rune of a lower-case word.
func titleCase(word string) string {
	for i, r := range word {
		return string(unicode.ToUpper(r)) + word[i+len(string(r)):]
	}
	return word
}
