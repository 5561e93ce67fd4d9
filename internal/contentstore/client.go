// Package contentstore talks to the headless CMS that holds articles and image assets.
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gracechurch/publisher/internal/models"
)

var (
	// ErrNotFound is returned when a document or asset does not exist.
	ErrNotFound = errors.New("content store: not found")
	// ErrConflict is returned for revision mismatches and duplicate ids.
	ErrConflict = errors.New("content store: conflict")
)

// APIError is a non-2xx answer from the content store.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("content store: status %d: %s", e.Status, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	}
	return false
}

// IsNotFound reports whether err means the target does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a revision or id conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// PatchOps is a single-document patch. Set is applied before Unset.
type PatchOps struct {
	Set   map[string]any `json:"set,omitempty"`
	Unset []string       `json:"unset,omitempty"`
	Inc   map[string]any `json:"inc,omitempty"`

	// Append adds items to the end of the array at each path.
	Append map[string][]any `json:"-"`

	// IfRevisionID makes the store reject the patch when the document has moved on.
	IfRevisionID string `json:"ifRevisionID,omitempty"`
}

// AssetStore uploads and deletes binary assets.
type AssetStore interface {
	UploadAsset(ctx context.Context, data []byte, filename, contentType string) (models.Asset, error)
	DeleteAsset(ctx context.Context, id string) error
}

// Client is the subset of content store operations the publishing pipeline needs.
type Client interface {
	AssetStore
	// Fetch runs a query and decodes its result into out.
	Fetch(ctx context.Context, query string, params map[string]any, out any) error
	Create(ctx context.Context, doc models.Document) (models.Document, error)
	Patch(ctx context.Context, id string, ops PatchOps) (models.Document, error)
}

type routedClient struct {
	Client
	assets AssetStore
}

// WithAssetStore returns a client that keeps documents in docs but sends
// asset uploads and deletes to assets.
func WithAssetStore(docs Client, assets AssetStore) Client {
	return &routedClient{Client: docs, assets: assets}
}

func (c *routedClient) UploadAsset(ctx context.Context, data []byte, filename, contentType string) (models.Asset, error) {
	return c.assets.UploadAsset(ctx, data, filename, contentType)
}

func (c *routedClient) DeleteAsset(ctx context.Context, id string) error {
	return c.assets.DeleteAsset(ctx, id)
}
