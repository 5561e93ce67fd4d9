package content

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/gracechurch/publisher/internal/models"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("invalid fixture: %v", err)
	}
	return v
}

func sortedIDs(s AssetSet) []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func TestExtractAssetReferences(t *testing.T) {
	tree := decode(t, `[
		{"_type":"block","children":[{"_type":"span","text":"Sunday service"}]},
		{"_type":"image","asset":{"_type":"reference","_ref":"image-a"}},
		{"_type":"block","listItem":"bullet","children":[
			{"_type":"span","text":"item"},
			{"_type":"image","asset":{"_ref":"image-nested"}}
		]},
		{"_type":"gallery","images":[{"_type":"image","asset":{"_ref":"image-b"}}]},
		{"_type":"file","asset":{"_ref":"file-ignored"}},
		{"_type":"image","src":"data:image/png;base64,AA=="}
	]`)

	refs, err := ExtractAssetReferences(tree, 0)
	if err != nil {
		t.Fatalf("ExtractAssetReferences failed: %v", err)
	}

	got := strings.Join(sortedIDs(refs), ",")
	if want := "image-a,image-b,image-nested"; got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestExtractAssetReferencesFromTypedBlocks(t *testing.T) {
	blocks := []models.ContentBlock{
		{Type: models.ImageType, Key: "k1", Image: models.NewPersistedImage("image-kept", "")},
		{Type: models.ImageType, Key: "k2", Image: models.NewInlineImage("data:image/png;base64,AA==", "")},
		{Type: "block", Key: "k3", Fields: map[string]any{
			"children": []any{map[string]any{"_type": "image", "asset": map[string]any{"_ref": "image-deep"}}},
		}},
	}

	refs, err := ExtractAssetReferences(blocks, 0)
	if err != nil {
		t.Fatalf("ExtractAssetReferences failed: %v", err)
	}
	if got := strings.Join(sortedIDs(refs), ","); got != "image-deep,image-kept" {
		t.Errorf("Unexpected refs: %s", got)
	}
}

func TestExtractAssetReferencesDepthCap(t *testing.T) {
	var node any = map[string]any{"_type": "image", "asset": map[string]any{"_ref": "image-bottom"}}
	for i := 0; i < 20; i++ {
		node = []any{node}
	}

	if _, err := ExtractAssetReferences(node, 10); !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("Expected ErrDepthExceeded, got %v", err)
	}

	refs, err := ExtractAssetReferences(node, 30)
	if err != nil {
		t.Fatalf("Unexpected error with a larger cap: %v", err)
	}
	if !refs.Has("image-bottom") {
		t.Error("Expected the deep reference to be found")
	}
}

func TestExtractAssetReferencesNil(t *testing.T) {
	refs, err := ExtractAssetReferences(nil, 0)
	if err != nil || len(refs) != 0 {
		t.Fatalf("Expected empty set, got %v, %v", refs, err)
	}
}

func TestAssetSetMinus(t *testing.T) {
	before := AssetSet{}
	before.Add("a")
	before.Add("b")
	before.Add("")
	after := AssetSet{}
	after.Add("a")
	after.Add("c")

	unused := before.Minus(after)
	if len(unused) != 1 || unused[0] != "b" {
		t.Errorf("Expected [b], got %v", unused)
	}
	if len(before) != 2 {
		t.Errorf("Empty ids must be ignored, got %d members", len(before))
	}
}

func TestPlainTextAndReadingTime(t *testing.T) {
	tree := decode(t, `[
		{"_type":"block","children":[{"_type":"span","text":"Join us"},{"_type":"span","text":"on Sunday."}]},
		{"_type":"image","asset":{"_ref":"image-a"},"alt":"not counted"},
		{"_type":"block","children":[{"_type":"span","text":"Bring a friend"}]}
	]`)

	text, err := PlainText(tree, 0)
	if err != nil {
		t.Fatalf("PlainText failed: %v", err)
	}
	if text != "Join us on Sunday. Bring a friend" {
		t.Errorf("Unexpected text %q", text)
	}

	if got := ReadingTime(text); got != 1 {
		t.Errorf("Expected 1 minute, got %d", got)
	}
	if got := ReadingTime(strings.Repeat("word ", 401)); got != 3 {
		t.Errorf("Expected 3 minutes for 401 words, got %d", got)
	}
	if got := ReadingTime(""); got != 1 {
		t.Errorf("Expected minimum of 1 minute, got %d", got)
	}
}

func TestRewriteInlineImages(t *testing.T) {
	tree := decode(t, `{
		"images":[
			{"_type":"image","_key":"g1","src":"data:image/png;base64,AA==","alt":"choir"},
			{"_type":"image","_key":"g2","asset":{"_ref":"image-kept"}}
		],
		"cover":{"nested":[{"_type":"image","src":"data:image/gif;base64,AA=="}]}
	}`)

	var seen []string
	out, err := RewriteInlineImages(tree, 0, func(img *models.ImageBlock) (*models.ImageBlock, error) {
		id := "image-new-" + string(rune('a'+len(seen)))
		seen = append(seen, img.Alt)
		return img.Persisted(id), nil
	})
	if err != nil {
		t.Fatalf("RewriteInlineImages failed: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("Expected 2 inline images, got %d", len(seen))
	}

	refs, err := ExtractAssetReferences(out, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(sortedIDs(refs), ","); got != "image-kept,image-new-a,image-new-b" {
		t.Errorf("Unexpected refs %s", got)
	}

	node := out.(map[string]any)["images"].([]any)[0].(map[string]any)
	if node["_key"] != "g1" || node["alt"] != "choir" {
		t.Errorf("Rewritten node lost fields: %v", node)
	}
	if _, ok := node["src"]; ok {
		t.Error("Rewritten node still carries its data URI")
	}

	original := tree.(map[string]any)["images"].([]any)[0].(map[string]any)
	if _, ok := original["src"]; !ok {
		t.Error("Input tree must not be modified")
	}
}

func TestRewriteInlineImagesErrors(t *testing.T) {
	boom := errors.New("upload failed")
	_, err := RewriteInlineImages(decode(t, `[{"_type":"image","src":"data:image/png;base64,AA=="}]`), 0,
		func(*models.ImageBlock) (*models.ImageBlock, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Errorf("Expected upload error, got %v", err)
	}

	_, err = RewriteInlineImages(decode(t, `[{"_type":"image","src":"data:image/png;base64,AA==","asset":{"_ref":"x"}}]`), 0,
		func(img *models.ImageBlock) (*models.ImageBlock, error) { return img, nil })
	if !errors.Is(err, models.ErrInvalidImage) {
		t.Errorf("Expected ErrInvalidImage, got %v", err)
	}

	_, err = RewriteInlineImages(decode(t, `{"a":{"b":{"c":{"d":1}}}}`), 2,
		func(img *models.ImageBlock) (*models.ImageBlock, error) { return img, nil })
	if !errors.Is(err, ErrDepthExceeded) {
		t.Errorf("Expected ErrDepthExceeded, got %v", err)
	}
}
