package contentstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gracechurch/publisher/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(HTTPConfig{BaseURL: srv.URL, Dataset: "production", Token: "secret", RetryCount: 2})
}

func TestFetchEncodesParams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/query/production" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("$id"); got != `"post-1"` {
			t.Errorf("Expected JSON encoded $id, got %s", got)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Missing bearer token")
		}
		w.Write([]byte(`{"result":{"_id":"post-1","_rev":"r1","title":"Hello"}}`))
	})

	var doc models.Document
	if err := client.Fetch(context.Background(), ArticleByIDQuery("post"), map[string]any{"id": "post-1"}, &doc); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if doc.ID() != "post-1" || doc["title"] != "Hello" {
		t.Errorf("Unexpected document %v", doc)
	}
}

func TestFetchNullResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":null}`))
	})

	var doc models.Document
	if err := client.Fetch(context.Background(), "*[0]", nil, &doc); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if doc != nil {
		t.Errorf("Expected nil document, got %v", doc)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"result":2}`))
	})

	var n int
	if err := client.Fetch(context.Background(), SlugCountQuery("post"), map[string]any{"slug": "x"}, &n); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if n != 2 || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("Expected result 2 after 3 calls, got %d after %d", n, calls)
	}
}

func TestMutationsAreNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Create(context.Background(), models.Document{"_type": "post"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("Expected APIError 503, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Create must not be retried, got %d calls", calls)
	}
}

func TestPatchBuildsMutations(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("returnDocuments") != "true" {
			t.Error("Expected returnDocuments=true")
		}
		var body struct {
			Mutations []map[string]map[string]any `json:"mutations"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Invalid body: %v", err)
		}
		if len(body.Mutations) != 2 {
			t.Fatalf("Expected patch plus one insert, got %d mutations", len(body.Mutations))
		}
		patch := body.Mutations[0]["patch"]
		if patch["id"] != "post-1" || patch["ifRevisionID"] != "r1" {
			t.Errorf("Unexpected patch header %v", patch)
		}
		if patch["set"].(map[string]any)["title"] != "New" {
			t.Errorf("Unexpected set %v", patch["set"])
		}
		insert := body.Mutations[1]["patch"]["insert"].(map[string]any)
		if insert["after"] != "tags[-1]" {
			t.Errorf("Unexpected insert %v", insert)
		}
		w.Write([]byte(`{"transactionId":"tx","results":[
			{"id":"post-1","operation":"update","document":{"_id":"post-1","_rev":"r2","title":"New"}},
			{"id":"post-1","operation":"update","document":{"_id":"post-1","_rev":"r3","title":"New","tags":["a"]}}
		]}`))
	})

	doc, err := client.Patch(context.Background(), "post-1", PatchOps{
		Set:          map[string]any{"title": "New"},
		Append:       map[string][]any{"tags": {"a"}},
		IfRevisionID: "r1",
	})
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if doc.Rev() != "r3" {
		t.Errorf("Expected the last returned document, got rev %q", doc.Rev())
	}
}

func TestPatchConflict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"description":"Document has been modified","type":"mutationError"}}`))
	})

	_, err := client.Patch(context.Background(), "post-1", PatchOps{Set: map[string]any{"title": "x"}, IfRevisionID: "old"})
	if !IsConflict(err) {
		t.Fatalf("Expected conflict, got %v", err)
	}
}

func TestUploadAsset(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/assets/images/production" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("filename") != "poster.png" {
			t.Errorf("Unexpected filename %s", r.URL.Query().Get("filename"))
		}
		if r.Header.Get("Content-Type") != "image/png" {
			t.Errorf("Unexpected content type %s", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "png-bytes" {
			t.Errorf("Unexpected body %q", body)
		}
		w.Write([]byte(`{"document":{"_id":"image-abc-1x1-png","url":"https://cdn.example/abc.png"}}`))
	})

	asset, err := client.UploadAsset(context.Background(), []byte("png-bytes"), "poster.png", "image/png")
	if err != nil {
		t.Fatalf("UploadAsset failed: %v", err)
	}
	if asset.ID != "image-abc-1x1-png" {
		t.Errorf("Unexpected asset %+v", asset)
	}
}

func TestDeleteAssetTreatsNotFoundAsDone(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	if err := client.DeleteAsset(context.Background(), "image-gone"); err != nil {
		t.Fatalf("Expected nil for missing asset, got %v", err)
	}
}

func TestWithAssetStoreRoutesAssets(t *testing.T) {
	docs := NewMockClient()
	assets := NewMockClient()
	client := WithAssetStore(docs, assets)

	asset, err := client.UploadAsset(context.Background(), []byte("x"), "a.png", "image/png")
	if err != nil {
		t.Fatalf("UploadAsset failed: %v", err)
	}
	if docs.UploadCount != 0 || assets.UploadCount != 1 {
		t.Errorf("Upload went to the wrong store: docs=%d assets=%d", docs.UploadCount, assets.UploadCount)
	}
	if err := client.DeleteAsset(context.Background(), asset.ID); err != nil {
		t.Fatalf("DeleteAsset failed: %v", err)
	}
	if assets.HasAsset(asset.ID) {
		t.Error("Asset should be deleted from the asset store")
	}
	if _, err := client.Create(context.Background(), models.Document{"_id": "post-1"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, ok := docs.Document("post-1"); !ok {
		t.Error("Document should be stored in the document store")
	}
}
