package seo

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gracechurch/publisher/internal/models"
	"github.com/microcosm-cc/bluemonday"
)

var controlChars = regexp.MustCompile(`[\x00-\x1F\x7F]`)

// Builder derives SEO metadata for an article.
type Builder struct {
	maxTitleLength       int
	maxDescriptionLength int
	policy               *bluemonday.Policy
}

// NewBuilder returns a builder with search-engine friendly limits.
func NewBuilder() *Builder {
	return &Builder{
		maxTitleLength:       60,
		maxDescriptionLength: 160,
		policy:               bluemonday.StrictPolicy(),
	}
}

// Build returns the metadata for the given title, excerpt and poster.
// The poster is only used as og image once it is persisted.
func (b *Builder) Build(title, excerpt string, poster *models.ImageBlock) models.SEO {
	meta := models.SEO{
		Title:       truncate(b.cleanText(title), b.maxTitleLength),
		Description: truncate(b.cleanText(excerpt), b.maxDescriptionLength),
	}
	if meta.Description == "" {
		meta.Description = meta.Title
	}
	if poster.IsPersisted() {
		meta.OgImage = models.NewPersistedImage(poster.AssetRef, poster.Alt)
	}
	return meta
}

// cleanText removes markup and control characters and normalizes whitespace
func (b *Builder) cleanText(s string) string {
	s = html.UnescapeString(b.policy.Sanitize(s))
	s = controlChars.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max-3])) + "..."
}
