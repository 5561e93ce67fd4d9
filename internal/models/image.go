package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ImageKind tells whether an image still carries its bytes or points at a stored asset.
type ImageKind int

const (
	// ImageInline images embed a base64 data URI and have not been uploaded yet.
	ImageInline ImageKind = iota + 1
	// ImagePersisted images reference an asset already held by the content store.
	ImagePersisted
)

func (k ImageKind) String() string {
	switch k {
	case ImageInline:
		return "inline"
	case ImagePersisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// ImageType is the block type shared by embedded content images and the poster.
const ImageType = "image"

// ErrInvalidImage is returned when an image block is neither inline nor persisted.
var ErrInvalidImage = errors.New("invalid image block")

// ImageBlock is an image in one of two storage states. The state is decided
// once when the block is decoded; nothing downstream re-inspects Src.
type ImageBlock struct {
	Kind     ImageKind
	Src      string // data URI, set only for ImageInline
	AssetRef string // asset id, set only for ImagePersisted
	Alt      string
	// Extra carries fields this service does not interpret (crop, hotspot, caption).
	Extra map[string]any
}

// NewInlineImage returns an image that still has to be uploaded.
func NewInlineImage(src, alt string) *ImageBlock {
	return &ImageBlock{Kind: ImageInline, Src: src, Alt: alt}
}

// NewPersistedImage returns an image pointing at an uploaded asset.
func NewPersistedImage(assetRef, alt string) *ImageBlock {
	return &ImageBlock{Kind: ImagePersisted, AssetRef: assetRef, Alt: alt}
}

// IsInline reports whether the image still embeds its bytes.
func (i *ImageBlock) IsInline() bool {
	return i != nil && i.Kind == ImageInline
}

// IsPersisted reports whether the image references a stored asset.
func (i *ImageBlock) IsPersisted() bool {
	return i != nil && i.Kind == ImagePersisted && i.AssetRef != ""
}

// Persisted returns a copy of the image pointing at assetID, keeping alt text and extra fields.
func (i *ImageBlock) Persisted(assetID string) *ImageBlock {
	out := NewPersistedImage(assetID, i.Alt)
	out.Extra = copyMap(i.Extra)
	return out
}

// Fields renders the image in its stored shape.
func (i *ImageBlock) Fields() map[string]any {
	m := copyMap(i.Extra)
	if m == nil {
		m = make(map[string]any, 3)
	}
	m["_type"] = ImageType
	switch i.Kind {
	case ImageInline:
		m["src"] = i.Src
	case ImagePersisted:
		m["asset"] = map[string]any{"_type": "reference", "_ref": i.AssetRef}
	}
	if i.Alt != "" {
		m["alt"] = i.Alt
	}
	return m
}

// MarshalJSON implements json.Marshaler
func (i ImageBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Fields())
}

// UnmarshalJSON implements json.Unmarshaler
func (i *ImageBlock) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	img, err := ImageFromFields(raw)
	if err != nil {
		return err
	}
	*i = *img
	return nil
}

// ImageFromFields classifies a raw image object. A data URI src makes it
// inline, an asset reference makes it persisted; anything else is rejected.
func ImageFromFields(raw map[string]any) (*ImageBlock, error) {
	src, _ := raw["src"].(string)
	ref := assetRef(raw)
	inline := IsDataURI(src)

	img := &ImageBlock{}
	switch {
	case inline && ref != "":
		return nil, fmt.Errorf("%w: both inline data and asset reference present", ErrInvalidImage)
	case inline:
		img.Kind = ImageInline
		img.Src = src
	case ref != "":
		img.Kind = ImagePersisted
		img.AssetRef = ref
	default:
		return nil, fmt.Errorf("%w: no inline data or asset reference", ErrInvalidImage)
	}
	img.Alt, _ = raw["alt"].(string)

	for k, v := range raw {
		switch k {
		case "_type", "_key", "asset", "alt":
			continue
		case "src":
			if inline {
				continue
			}
		}
		if img.Extra == nil {
			img.Extra = make(map[string]any)
		}
		img.Extra[k] = v
	}
	return img, nil
}

func assetRef(raw map[string]any) string {
	asset, ok := raw["asset"].(map[string]any)
	if !ok {
		return ""
	}
	ref, _ := asset["_ref"].(string)
	return ref
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
