package models

import (
	"encoding/json"
	"fmt"
)

// Document is the raw form of a content-store document. It carries every
// field the store returned, including ones this service does not model.
type Document map[string]any

// System fields maintained by the content store.
var systemFields = []string{"_id", "_rev", "_createdAt", "_updatedAt"}

// ToDocument converts any JSON-serialisable value into a Document.
func ToDocument(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, nil
}

// Decode unmarshals the document into out.
func (d Document) Decode(out any) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}

// ID returns the document id.
func (d Document) ID() string {
	id, _ := d["_id"].(string)
	return id
}

// Rev returns the document revision.
func (d Document) Rev() string {
	rev, _ := d["_rev"].(string)
	return rev
}

// Clone returns a shallow copy.
func (d Document) Clone() Document {
	return Document(copyMap(d))
}

// WithoutSystemFields returns a copy without store-maintained fields, suitable for a patch set.
func (d Document) WithoutSystemFields() Document {
	out := d.Clone()
	for _, f := range systemFields {
		delete(out, f)
	}
	return out
}

// Asset is an uploaded binary held by the content store or object storage.
type Asset struct {
	ID  string `json:"_id"`
	URL string `json:"url"`
}
