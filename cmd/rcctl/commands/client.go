package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/your-org/rollcall/pkg/dto"
)

// apiClient calls the tracker HTTP API.
type apiClient struct {
	base   string
	apiKey string
	http   *http.Client
}

func newAPIClient(base, apiKey string, timeout time.Duration) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) Sync(ctx context.Context, classID string) (*dto.SyncResponse, error) {
	path := "/v1/sync"
	if classID != "" {
		path += "?class_id=" + url.QueryEscape(classID)
	}
	var resp dto.SyncResponse
	if err := c.do(ctx, http.MethodPost, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Build(ctx context.Context, scope string) (*dto.BuildResponse, error) {
	var resp dto.BuildResponse
	if err := c.do(ctx, http.MethodPost, "/v1/indexes/"+url.PathEscape(scope)+"/build", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Index(ctx context.Context, scope string) (*dto.BuildResponse, error) {
	var resp dto.BuildResponse
	if err := c.do(ctx, http.MethodGet, "/v1/indexes/"+url.PathEscape(scope), "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Schedule(ctx context.Context) (*dto.ScheduleResponse, error) {
	var resp dto.ScheduleResponse
	if err := c.do(ctx, http.MethodGet, "/v1/schedule", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Identity(ctx context.Context, scope string, externalID int64) (*dto.IdentityResponse, error) {
	var resp dto.IdentityResponse
	path := fmt.Sprintf("/v1/identities/%s/%d", url.PathEscape(scope), externalID)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

var audioExt = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".ogg": true, ".oga": true,
	".flac": true, ".webm": true, ".aac": true, ".opus": true,
}

// Search uploads path as "audio" when its extension is an audio format,
// otherwise as "image". A zero topK or nil threshold uses the server default.
func (c *apiClient) Search(ctx context.Context, scope, path string, topK int, threshold *float64) (*dto.SearchResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("scope", scope)
	if topK > 0 {
		_ = mw.WriteField("top_k", strconv.Itoa(topK))
	}
	if threshold != nil {
		_ = mw.WriteField("threshold", strconv.FormatFloat(*threshold, 'f', -1, 32))
	}

	field := "image"
	if audioExt[strings.ToLower(filepath.Ext(path))] {
		field = "audio"
	}
	fw, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var resp dto.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/search", mw.FormDataContentType(), &body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
