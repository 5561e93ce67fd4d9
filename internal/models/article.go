package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContentBlock is one entry of an article's rich-text body. Image blocks are
// decoded into Image; every other block keeps its raw fields untouched.
type ContentBlock struct {
	Type   string
	Key    string
	Image  *ImageBlock
	Fields map[string]any
}

// IsImage reports whether the block is an embedded image.
func (b ContentBlock) IsImage() bool {
	return b.Image != nil
}

// MarshalJSON implements json.Marshaler
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	var m map[string]any
	if b.Image != nil {
		m = b.Image.Fields()
	} else {
		m = copyMap(b.Fields)
		if m == nil {
			m = make(map[string]any, 2)
		}
		m["_type"] = b.Type
	}
	if b.Key != "" {
		m["_key"] = b.Key
	}
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	blockType, _ := raw["_type"].(string)
	if blockType == "" {
		return fmt.Errorf("content block is missing _type")
	}
	key, _ := raw["_key"].(string)

	out := ContentBlock{Type: blockType, Key: key}
	if blockType == ImageType {
		img, err := ImageFromFields(raw)
		if err != nil {
			return fmt.Errorf("content block %q: %w", key, err)
		}
		out.Image = img
	} else {
		delete(raw, "_type")
		delete(raw, "_key")
		out.Fields = raw
	}
	*b = out
	return nil
}

// Slug is the article's stable public identifier.
type Slug struct {
	Type    string `json:"_type,omitempty"`
	Current string `json:"current" validate:"omitempty,slug,max=96"`
}

// NewSlug returns a slug value in its stored shape.
func NewSlug(current string) Slug {
	return Slug{Type: "slug", Current: current}
}

// Reference points at another content-store document.
type Reference struct {
	Type string `json:"_type"`
	Ref  string `json:"_ref"`
}

// NewReference returns a reference to the document with the given id.
func NewReference(id string) Reference {
	return Reference{Type: "reference", Ref: id}
}

// SEO holds the metadata derived from the title, excerpt and poster.
type SEO struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	OgImage     *ImageBlock `json:"ogImage,omitempty"`
}

// Author identifies the writer in both stores. It is resolved upstream by the
// session layer and trusted as given.
type Author struct {
	Handle      string `json:"handle" validate:"notblank,max=100"`
	ContentRef  string `json:"contentRef" validate:"notblank"`
	DatabaseRef string `json:"databaseRef" validate:"notblank"`
}

// ArticleDraft is what the author submits for creation or update.
type ArticleDraft struct {
	Title       string         `json:"title" validate:"notblank,max=200"`
	Slug        *Slug          `json:"slug,omitempty"`
	Excerpt     string         `json:"excerpt" validate:"max=1000"`
	Content     []ContentBlock `json:"content"`
	PosterImage *ImageBlock    `json:"posterImage,omitempty"`
	// Revision is the _rev the author edited; empty skips the concurrency check.
	Revision string `json:"revision,omitempty"`
}

// Article is the typed view of a persisted article document.
type Article struct {
	ID                        string         `json:"_id"`
	Rev                       string         `json:"_rev,omitempty"`
	Type                      string         `json:"_type"`
	Title                     string         `json:"title"`
	Slug                      Slug           `json:"slug"`
	Excerpt                   string         `json:"excerpt"`
	Content                   []ContentBlock `json:"content"`
	PosterImage               *ImageBlock    `json:"posterImage,omitempty"`
	Author                    Reference      `json:"author"`
	AuthorDatabaseReferenceID string         `json:"authorDatabaseReferenceId"`
	IsApprovedToBePublished   bool           `json:"isApprovedToBePublished"`
	PublishedAt               *time.Time     `json:"publishedAt,omitempty"`
	ReadingTime               int            `json:"readingTime"`
	SEO                       SEO            `json:"seo"`
	CreatedAt                 time.Time      `json:"createdAt"`
	UpdatedAt                 time.Time      `json:"updatedAt"`
}

// InlineImages counts images that still embed their bytes, including images
// nested inside other blocks.
func (a *Article) InlineImages() int {
	n := 0
	for _, b := range a.Content {
		if b.Image.IsInline() {
			n++
		}
		n += inlineIn(b.Fields)
	}
	if a.PosterImage.IsInline() {
		n++
	}
	if a.SEO.OgImage.IsInline() {
		n++
	}
	return n
}

// inlineIn counts raw image nodes with a data URI src.
func inlineIn(node any) int {
	n := 0
	switch v := node.(type) {
	case map[string]any:
		if t, _ := v["_type"].(string); t == ImageType {
			if src, _ := v["src"].(string); IsDataURI(src) {
				return 1
			}
		}
		for _, child := range v {
			n += inlineIn(child)
		}
	case []any:
		for _, child := range v {
			n += inlineIn(child)
		}
	case []map[string]any:
		for _, child := range v {
			n += inlineIn(child)
		}
	}
	return n
}
