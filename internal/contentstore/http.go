package contentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gracechurch/publisher/internal/models"
)

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	BaseURL    string // e.g. https://<project>.api.sanity.io/v2024-01-01
	Dataset    string
	Token      string
	Timeout    time.Duration
	RetryCount int
}

// HTTPClient implements Client over the content store's HTTP API.
type HTTPClient struct {
	client  *resty.Client
	dataset string
}

type queryResponse struct {
	Result json.RawMessage `json:"result"`
}

type mutateResponse struct {
	TransactionID string `json:"transactionId"`
	Results       []struct {
		ID        string          `json:"id"`
		Operation string          `json:"operation"`
		Document  models.Document `json:"document"`
	} `json:"results"`
}

type assetResponse struct {
	Document models.Asset `json:"document"`
}

// NewHTTPClient creates a content store client. Only reads are retried.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(retryableRead).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &HTTPClient{client: client, dataset: cfg.Dataset}
}

func retryableRead(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return true
	}
	return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
}

// Fetch runs a query. A null result leaves out untouched.
func (c *HTTPClient) Fetch(ctx context.Context, query string, params map[string]any, out any) error {
	values := url.Values{}
	values.Set("query", query)
	for name, value := range params {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode query param %s: %w", name, err)
		}
		values.Set("$"+name, string(encoded))
	}

	var resp queryResponse
	r, err := c.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(values).
		Get("/data/query/" + c.dataset)
	if err != nil {
		return fmt.Errorf("query request failed: %w", err)
	}
	if r.IsError() {
		return apiError(r)
	}
	if err := json.Unmarshal(r.Body(), &resp); err != nil {
		return fmt.Errorf("failed to decode query response: %w", err)
	}

	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode query result: %w", err)
	}
	return nil
}

// Create commits a new document and returns it as stored.
func (c *HTTPClient) Create(ctx context.Context, doc models.Document) (models.Document, error) {
	return c.mutate(ctx, []map[string]any{{"create": doc}})
}

// Patch applies ops to the document with the given id and returns it as stored.
func (c *HTTPClient) Patch(ctx context.Context, id string, ops PatchOps) (models.Document, error) {
	patch := map[string]any{"id": id}
	if len(ops.Set) > 0 {
		patch["set"] = ops.Set
	}
	if len(ops.Unset) > 0 {
		patch["unset"] = ops.Unset
	}
	if len(ops.Inc) > 0 {
		patch["inc"] = ops.Inc
	}
	if ops.IfRevisionID != "" {
		patch["ifRevisionID"] = ops.IfRevisionID
	}
	mutations := []map[string]any{{"patch": patch}}

	// The store takes one insert per patch, so each append becomes its own mutation.
	paths := make([]string, 0, len(ops.Append))
	for path := range ops.Append {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		mutations = append(mutations, map[string]any{"patch": map[string]any{
			"id": id,
			"insert": map[string]any{
				"after": path + "[-1]",
				"items": ops.Append[path],
			},
		}})
	}

	return c.mutate(ctx, mutations)
}

// DeleteAsset removes an uploaded asset document.
func (c *HTTPClient) DeleteAsset(ctx context.Context, id string) error {
	_, err := c.mutate(ctx, []map[string]any{{"delete": map[string]any{"id": id}}})
	if err != nil && IsNotFound(err) {
		return nil
	}
	return err
}

// UploadAsset stores an image binary.
func (c *HTTPClient) UploadAsset(ctx context.Context, data []byte, filename, contentType string) (models.Asset, error) {
	var resp assetResponse
	r, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetQueryParam("filename", filename).
		SetBody(data).
		Post("/assets/images/" + c.dataset)
	if err != nil {
		return models.Asset{}, fmt.Errorf("asset upload request failed: %w", err)
	}
	if r.IsError() {
		return models.Asset{}, apiError(r)
	}
	if err := json.Unmarshal(r.Body(), &resp); err != nil {
		return models.Asset{}, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if resp.Document.ID == "" {
		return models.Asset{}, fmt.Errorf("asset upload returned no id")
	}
	return resp.Document, nil
}

func (c *HTTPClient) mutate(ctx context.Context, mutations []map[string]any) (models.Document, error) {
	var resp mutateResponse
	r, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetQueryParam("returnDocuments", "true").
		SetQueryParam("visibility", "sync").
		SetBody(map[string]any{"mutations": mutations}).
		Post("/data/mutate/" + c.dataset)
	if err != nil {
		return nil, fmt.Errorf("mutate request failed: %w", err)
	}
	if r.IsError() {
		return nil, apiError(r)
	}
	if err := json.Unmarshal(r.Body(), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode mutate response: %w", err)
	}

	for i := len(resp.Results) - 1; i >= 0; i-- {
		if resp.Results[i].Document != nil {
			return resp.Results[i].Document, nil
		}
	}
	return models.Document{}, nil
}

func apiError(r *resty.Response) error {
	msg := strings.TrimSpace(r.String())
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return &APIError{Status: r.StatusCode(), Message: msg}
}
