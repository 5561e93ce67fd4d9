package models

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

const pixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func TestImageBlockClassification(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		wantKind ImageKind
		wantErr  bool
	}{
		{
			name:     "inline data uri",
			json:     `{"_type":"image","src":"data:image/png;base64,` + pixelPNG + `","alt":"dot"}`,
			wantKind: ImageInline,
		},
		{
			name:     "persisted reference",
			json:     `{"_type":"image","asset":{"_type":"reference","_ref":"image-abc-1x1-png"}}`,
			wantKind: ImagePersisted,
		},
		{
			name:    "remote url is neither",
			json:    `{"_type":"image","src":"https://example.com/a.png"}`,
			wantErr: true,
		},
		{
			name:    "both states",
			json:    `{"_type":"image","src":"data:image/png;base64,AA==","asset":{"_ref":"x"}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var img ImageBlock
			err := json.Unmarshal([]byte(tt.json), &img)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidImage) {
					t.Fatalf("Expected ErrInvalidImage, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if img.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s", tt.wantKind, img.Kind)
			}
		})
	}
}

func TestPersistedKeepsAltAndExtra(t *testing.T) {
	var img ImageBlock
	raw := `{"_type":"image","src":"data:image/png;base64,` + pixelPNG + `","alt":"dot","hotspot":{"x":0.5}}`
	if err := json.Unmarshal([]byte(raw), &img); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	out := img.Persisted("image-123")
	if !out.IsPersisted() || out.AssetRef != "image-123" {
		t.Fatalf("Expected persisted image-123, got %+v", out)
	}
	if out.Alt != "dot" {
		t.Errorf("Expected alt to survive, got %q", out.Alt)
	}
	if _, ok := out.Extra["hotspot"]; !ok {
		t.Error("Expected hotspot to survive")
	}

	data, _ := json.Marshal(out)
	var back map[string]any
	_ = json.Unmarshal(data, &back)
	if _, ok := back["src"]; ok {
		t.Error("Persisted image must not carry src")
	}
	asset := back["asset"].(map[string]any)
	if asset["_ref"] != "image-123" || asset["_type"] != "reference" {
		t.Errorf("Unexpected asset shape: %v", asset)
	}
}

func TestContentBlockKeepsUnknownFields(t *testing.T) {
	raw := `[
		{"_type":"block","_key":"a1","style":"h2","children":[{"_type":"span","text":"Welcome"}],"markDefs":[]},
		{"_type":"image","_key":"a2","asset":{"_type":"reference","_ref":"image-1"},"caption":"Choir"}
	]`

	var blocks []ContentBlock
	if err := json.Unmarshal([]byte(raw), &blocks); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("Expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].IsImage() || !blocks[1].IsImage() {
		t.Fatal("Block classification is wrong")
	}
	if blocks[0].Fields["style"] != "h2" {
		t.Errorf("Expected style to be kept, got %v", blocks[0].Fields["style"])
	}

	data, err := json.Marshal(blocks)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var back []map[string]any
	_ = json.Unmarshal(data, &back)
	if back[0]["_key"] != "a1" || back[0]["_type"] != "block" {
		t.Errorf("Block identity lost: %v", back[0])
	}
	if back[1]["caption"] != "Choir" || back[1]["_key"] != "a2" {
		t.Errorf("Image extras lost: %v", back[1])
	}
}

func TestContentBlockRequiresType(t *testing.T) {
	var b ContentBlock
	if err := json.Unmarshal([]byte(`{"_key":"x"}`), &b); err == nil {
		t.Fatal("Expected error for block without _type")
	}
}

func TestArticleInlineImages(t *testing.T) {
	a := Article{
		Content: []ContentBlock{
			{Type: ImageType, Image: NewInlineImage("data:image/png;base64,AA==", "")},
			{Type: "block", Fields: map[string]any{}},
			{Type: ImageType, Image: NewPersistedImage("image-1", "")},
			{Type: "gallery", Fields: map[string]any{"images": []any{
				map[string]any{"_type": "image", "src": "data:image/png;base64,AA=="},
				map[string]any{"_type": "image", "asset": map[string]any{"_ref": "image-2"}},
			}}},
		},
		PosterImage: NewInlineImage("data:image/png;base64,AA==", ""),
	}
	if got := a.InlineImages(); got != 3 {
		t.Errorf("Expected 3 inline images, got %d", got)
	}
}

func TestPersistedImageKeepsExternalSrc(t *testing.T) {
	raw := map[string]any{
		"_type": "image",
		"src":   "https://cdn.example.org/choir.jpg",
		"asset": map[string]any{"_type": "reference", "_ref": "image-1"},
	}
	img, err := ImageFromFields(raw)
	if err != nil {
		t.Fatalf("ImageFromFields failed: %v", err)
	}
	if !img.IsPersisted() {
		t.Fatalf("Expected persisted image, got %s", img.Kind)
	}
	if img.Fields()["src"] != "https://cdn.example.org/choir.jpg" {
		t.Errorf("External src lost: %v", img.Fields())
	}

	inline, err := ImageFromFields(map[string]any{"_type": "image", "src": "data:image/png;base64,AA=="})
	if err != nil {
		t.Fatalf("ImageFromFields failed: %v", err)
	}
	if _, ok := inline.Persisted("image-2").Fields()["src"]; ok {
		t.Error("Uploaded inline image must drop its data URI")
	}
}

func TestParseDataURI(t *testing.T) {
	d, err := ParseDataURI("data:image/png;base64,"+pixelPNG, 0)
	if err != nil {
		t.Fatalf("ParseDataURI failed: %v", err)
	}
	want, _ := base64.StdEncoding.DecodeString(pixelPNG)
	if string(d.Data) != string(want) {
		t.Error("Decoded payload mismatch")
	}
	if d.Extension() != "png" {
		t.Errorf("Expected png extension, got %q", d.Extension())
	}

	unpadded := "data:image/jpeg;base64," + base64.RawStdEncoding.EncodeToString([]byte("jpeg!"))
	d, err = ParseDataURI(unpadded, 0)
	if err != nil {
		t.Fatalf("Unpadded payload should decode: %v", err)
	}
	if d.Extension() != "jpg" || string(d.Data) != "jpeg!" {
		t.Errorf("Unexpected decode: %q %q", d.Extension(), d.Data)
	}
}

func TestParseDataURIErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		max  int64
		want error
	}{
		{"no prefix", "image/png;base64,AA==", 0, ErrInvalidDataURI},
		{"not an image", "data:text/plain;base64,AA==", 0, ErrInvalidDataURI},
		{"not base64", "data:image/svg+xml,<svg/>", 0, ErrInvalidDataURI},
		{"garbage payload", "data:image/png;base64,***", 0, ErrInvalidDataURI},
		{"too large", "data:image/png;base64," + base64.StdEncoding.EncodeToString(make([]byte, 64)), 16, ErrAssetTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDataURI(tt.src, tt.max)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDocumentHelpers(t *testing.T) {
	doc := Document{"_id": "post-1", "_rev": "r1", "_updatedAt": "x", "title": "Hi", "legacyField": 3.0}
	if doc.ID() != "post-1" || doc.Rev() != "r1" {
		t.Fatalf("Unexpected id/rev: %q %q", doc.ID(), doc.Rev())
	}
	set := doc.WithoutSystemFields()
	if _, ok := set["_id"]; ok {
		t.Error("_id should be stripped")
	}
	if set["legacyField"] != 3.0 {
		t.Error("Unknown fields must survive")
	}
	if _, ok := doc["_id"]; !ok {
		t.Error("Original document must not be mutated")
	}
}
