package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/gracechurch/publisher/internal/models"
)

// DefaultMaxDepth bounds recursion when no explicit limit is configured.
const DefaultMaxDepth = 64

// WordsPerMinute is the reading speed used for ReadingTime.
const WordsPerMinute = 200

// ErrDepthExceeded means the document nests deeper than the walker allows.
var ErrDepthExceeded = errors.New("content nesting exceeds maximum depth")

// AssetSet is a set of asset ids.
type AssetSet map[string]struct{}

// Add inserts id; empty ids are ignored.
func (s AssetSet) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

// Has reports membership.
func (s AssetSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Minus returns the members of s that are not in other.
func (s AssetSet) Minus(other AssetSet) []string {
	out := make([]string, 0, len(s))
	for id := range s {
		if !other.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Union adds every member of other to s.
func (s AssetSet) Union(other AssetSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// ExtractAssetReferences walks a decoded JSON tree and collects the asset id
// of every node shaped like {"_type": "image", "asset": {"_ref": id}}.
// Typed values (content blocks, image blocks) are normalised to their JSON form first.
func ExtractAssetReferences(v any, maxDepth int) (AssetSet, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	tree, err := normalise(v)
	if err != nil {
		return nil, err
	}

	refs := make(AssetSet)
	if err := collectRefs(tree, 0, maxDepth, refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func collectRefs(node any, depth, maxDepth int, refs AssetSet) error {
	if depth > maxDepth {
		return fmt.Errorf("%w (%d)", ErrDepthExceeded, maxDepth)
	}

	switch n := node.(type) {
	case map[string]any:
		if t, _ := n["_type"].(string); t == models.ImageType {
			if asset, ok := n["asset"].(map[string]any); ok {
				if ref, ok := asset["_ref"].(string); ok {
					refs.Add(ref)
				}
			}
		}
		for _, child := range n {
			if err := collectRefs(child, depth+1, maxDepth, refs); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range n {
			if err := collectRefs(child, depth+1, maxDepth, refs); err != nil {
				return err
			}
		}
	}
	return nil
}

// RewriteInlineImages returns a copy of a raw tree in which every image node
// carrying a data URI has been replaced by the result of persist. Image nodes
// keep their _key. The input is not modified.
func RewriteInlineImages(node any, maxDepth int, persist func(*models.ImageBlock) (*models.ImageBlock, error)) (any, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return rewriteImages(node, 0, maxDepth, persist)
}

func rewriteImages(node any, depth, maxDepth int, persist func(*models.ImageBlock) (*models.ImageBlock, error)) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w (%d)", ErrDepthExceeded, maxDepth)
	}

	switch n := node.(type) {
	case map[string]any:
		if t, _ := n["_type"].(string); t == models.ImageType {
			if src, _ := n["src"].(string); models.IsDataURI(src) {
				img, err := models.ImageFromFields(n)
				if err != nil {
					return nil, err
				}
				persisted, err := persist(img)
				if err != nil {
					return nil, err
				}
				out := persisted.Fields()
				if key, ok := n["_key"]; ok {
					out["_key"] = key
				}
				return out, nil
			}
		}
		// Sorted keys keep upload order stable between attempts.
		out := make(map[string]any, len(n))
		for _, k := range slices.Sorted(maps.Keys(n)) {
			next, err := rewriteImages(n[k], depth+1, maxDepth, persist)
			if err != nil {
				return nil, err
			}
			out[k] = next
		}
		return out, nil
	case []any:
		out := make([]any, len(n))
		for i, child := range n {
			next, err := rewriteImages(child, depth+1, maxDepth, persist)
			if err != nil {
				return nil, err
			}
			out[i] = next
		}
		return out, nil
	}
	return node, nil
}

// PlainText concatenates the text of every span in the tree.
func PlainText(v any, maxDepth int) (string, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	tree, err := normalise(v)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if err := collectText(tree, 0, maxDepth, &b); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

func collectText(node any, depth, maxDepth int, b *strings.Builder) error {
	if depth > maxDepth {
		return fmt.Errorf("%w (%d)", ErrDepthExceeded, maxDepth)
	}

	switch n := node.(type) {
	case map[string]any:
		if t, _ := n["_type"].(string); t == "span" {
			if text, ok := n["text"].(string); ok {
				b.WriteString(text)
				b.WriteByte(' ')
			}
		}
		if children, ok := n["children"]; ok {
			return collectText(children, depth+1, maxDepth, b)
		}
	case []any:
		for _, child := range n {
			if err := collectText(child, depth+1, maxDepth, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadingTime returns the estimated minutes needed to read text, at least one.
func ReadingTime(text string) int {
	words := len(strings.FieldsFunc(text, unicode.IsSpace))
	minutes := int(math.Ceil(float64(words) / WordsPerMinute))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// normalise turns typed values into plain decoded JSON so the walkers only
// deal with maps, slices and scalars.
func normalise(v any) (any, error) {
	switch t := v.(type) {
	case nil, map[string]any, []any:
		return v, nil
	case models.Document:
		return map[string]any(t), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content: %w", err)
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode content: %w", err)
	}
	return tree, nil
}
