package contentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gracechurch/publisher/internal/models"
)

// MockClient is an in-memory Client for tests and local development.
// Failure hooks let tests break individual calls.
type MockClient struct {
	mu     sync.Mutex
	docs   map[string]models.Document
	assets map[string][]byte
	events []string

	UploadCount int
	CreateCount int
	PatchCount  int
	Deleted     []string

	// UploadErr is called before every upload with its 1-based sequence number.
	UploadErr func(n int, filename string) error
	FetchErr  error
	CreateErr error
	PatchErr  error
	// DeleteErr is called before every asset delete.
	DeleteErr func(id string) error
}

// NewMockClient returns an empty in-memory content store.
func NewMockClient() *MockClient {
	return &MockClient{
		docs:   make(map[string]models.Document),
		assets: make(map[string][]byte),
	}
}

// Put stores a document as-is, assigning a revision when missing.
func (m *MockClient) Put(doc models.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc = doc.Clone()
	if doc.Rev() == "" {
		doc["_rev"] = uuid.NewString()
	}
	m.docs[doc.ID()] = doc
}

// PutAsset registers an existing asset.
func (m *MockClient) PutAsset(id string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[id] = data
}

// Document returns a copy of the stored document.
func (m *MockClient) Document(id string) (models.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	return doc.Clone(), ok
}

// HasAsset reports whether the asset is still stored.
func (m *MockClient) HasAsset(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.assets[id]
	return ok
}

// AssetCount returns the number of stored assets.
func (m *MockClient) AssetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.assets)
}

// Events returns the ordered call log ("upload:<file>", "create:<id>", "patch:<id>", "delete:<id>").
func (m *MockClient) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// DeletedIDs returns the ids passed to DeleteAsset, in call order.
func (m *MockClient) DeletedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Deleted...)
}

// Fetch understands the queries in queries.go: a count on $slug or a lookup on $id.
func (m *MockClient) Fetch(ctx context.Context, query string, params map[string]any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FetchErr != nil {
		return m.FetchErr
	}

	if strings.HasPrefix(query, "count(") {
		slug, _ := params["slug"].(string)
		n := 0
		for _, doc := range m.docs {
			if s, ok := doc["slug"].(map[string]any); ok && s["current"] == slug {
				n++
			}
		}
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, out)
	}

	id, _ := params["id"].(string)
	doc, ok := m.docs[id]
	if !ok {
		return nil
	}
	return doc.Decode(out)
}

// Create stores a new document.
func (m *MockClient) Create(ctx context.Context, doc models.Document) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCount++
	m.events = append(m.events, "create:"+doc.ID())
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}

	stored := doc.Clone()
	if stored.ID() == "" {
		stored["_id"] = uuid.NewString()
	}
	if _, exists := m.docs[stored.ID()]; exists {
		return nil, &APIError{Status: http.StatusConflict, Message: "document already exists"}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	stored["_rev"] = uuid.NewString()
	stored["_createdAt"] = now
	stored["_updatedAt"] = now
	m.docs[stored.ID()] = stored
	return stored.Clone(), nil
}

// Patch applies set, unset, inc and append to a stored document.
func (m *MockClient) Patch(ctx context.Context, id string, ops PatchOps) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PatchCount++
	m.events = append(m.events, "patch:"+id)
	if m.PatchErr != nil {
		return nil, m.PatchErr
	}

	doc, ok := m.docs[id]
	if !ok {
		return nil, &APIError{Status: http.StatusNotFound, Message: "document not found"}
	}
	if ops.IfRevisionID != "" && ops.IfRevisionID != doc.Rev() {
		return nil, &APIError{Status: http.StatusConflict, Message: "revision mismatch"}
	}

	doc = doc.Clone()
	for k, v := range ops.Set {
		doc[k] = v
	}
	for _, k := range ops.Unset {
		delete(doc, k)
	}
	for k, v := range ops.Inc {
		cur, _ := doc[k].(float64)
		inc, _ := v.(float64)
		if n, ok := v.(int); ok {
			inc = float64(n)
		}
		doc[k] = cur + inc
	}
	for k, items := range ops.Append {
		cur, _ := doc[k].([]any)
		doc[k] = append(cur, items...)
	}
	doc["_rev"] = uuid.NewString()
	doc["_updatedAt"] = time.Now().UTC().Format(time.RFC3339)
	m.docs[id] = doc
	return doc.Clone(), nil
}

// UploadAsset stores data under a generated asset id.
func (m *MockClient) UploadAsset(ctx context.Context, data []byte, filename, contentType string) (models.Asset, error) {
	if err := ctx.Err(); err != nil {
		return models.Asset{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UploadCount++
	m.events = append(m.events, "upload:"+filename)
	if m.UploadErr != nil {
		if err := m.UploadErr(m.UploadCount, filename); err != nil {
			return models.Asset{}, err
		}
	}

	id := fmt.Sprintf("image-%s", strings.ReplaceAll(uuid.NewString(), "-", ""))
	m.assets[id] = append([]byte(nil), data...)
	return models.Asset{ID: id, URL: "https://cdn.example.test/" + id}, nil
}

// DeleteAsset removes an asset. Deleting an unknown asset succeeds.
func (m *MockClient) DeleteAsset(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Deleted = append(m.Deleted, id)
	m.events = append(m.events, "delete:"+id)
	if m.DeleteErr != nil {
		if err := m.DeleteErr(id); err != nil {
			return err
		}
	}
	delete(m.assets, id)
	return nil
}
