package idgen

import (
	"regexp"
	"strings"
	"unicode"
)

// StopWords are common words removed from titles during slug
// generation. These words don't add meaning to the slug.
var StopWords = map[string]bool{
	// Articles
	"a": true, "an": true, "the": true,
	// Prepositions
	"in": true, "on": true, "at": true, "to": true, "for": true,
	"of": true, "with": true, "by": true, "from": true, "as": true,
	// Conjunctions
	"and": true, "or": true, "but": true, "nor": true,
	// Common verbs that don't add meaning
	"is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	// Other common words
	"this": true, "that": true, "these": true, "those": true,
	"it": true, "its": true,
}

// PriorityPrefixes are words that indicate priority but don't add
// meaning to the slug.
var PriorityPrefixes = map[string]bool{
	"urgent":   true,
	"critical": true,
	"p0":       true,
	"p1":       true,
	"p2":       true,
	"p3":       true,
	"p4":       true,
	"blocker":  true,
	"hotfix":   true,
}

// nonAlphanumericRegex matches any non-alphanumeric character.
var nonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9]+`)

// multipleUnderscoreRegex matches multiple consecutive underscores.
var multipleUnderscoreRegex = regexp.MustCompile(`_+`)

// Slugger normalizes item titles into comparable slugs. Two titles
// that slug identically are near-certain duplicates regardless of
// casing, punctuation, or filler words, which the duplicate
// classifier uses as a strong signal.
type Slugger struct {
	maxSlugLength int
}

// NewSlugger returns a Slugger with the default length cap.
func NewSlugger() *Slugger {
	return &Slugger{maxSlugLength: 46}
}

// Slug converts a title to its normalized form: lowercase,
// underscore-separated, stop words and priority noise removed.
func (g *Slugger) Slug(title string) string {
	if title == "" {
		return "untitled"
	}

	slug := strings.ToLower(title)
	slug = nonAlphanumericRegex.ReplaceAllString(slug, " ")
	words := strings.Fields(slug)

	filtered := make([]string, 0, len(words))
	for _, word := range words {
		if !StopWords[word] && !PriorityPrefixes[word] {
			filtered = append(filtered, word)
		}
	}
	// If all words were filtered, fall back to the first word so the
	// slug is never empty.
	if len(filtered) == 0 && len(words) > 0 {
		filtered = []string{words[0]}
	}

	slug = strings.Join(filtered, "_")

	// A leading digit gets an 'n' prefix so slugs always start with a
	// letter.
	if len(slug) > 0 && !unicode.IsLetter(rune(slug[0])) {
		slug = "n" + slug
	}

	if len(slug) > g.maxSlugLength {
		truncated := slug[:g.maxSlugLength]
		if lastUnderscore := strings.LastIndex(truncated, "_"); lastUnderscore > g.maxSlugLength/2 {
			truncated = truncated[:lastUnderscore]
		}
		slug = truncated
	}

	if len(slug) < 3 {
		slug = slug + strings.Repeat("x", 3-len(slug))
	}

	slug = strings.Trim(slug, "_")
	slug = multipleUnderscoreRegex.ReplaceAllString(slug, "_")

	return slug
}
