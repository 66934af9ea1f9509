package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// MaxFileSize mirrors the document store's upload limit.
const MaxFileSize = 10 * 1024 * 1024

// AllowedExtensions lists the document types the store can process.
var AllowedExtensions = []string{"pdf", "docx", "pptx", "xlsx", "csv", "txt"}

// ErrUnsupportedType is returned before any request is made for files
// whose extension is not in AllowedExtensions.
var ErrUnsupportedType = errors.New("unsupported file type")

// ErrTooLarge is returned by UploadFile for files above MaxFileSize.
var ErrTooLarge = errors.New("file too large")

const listCacheKey = "files"

// Client provides access to the document store.
type Client struct {
	baseURL    string
	httpClient *http.Client
	listCache  *cache.Cache
}

// NewClient creates a new document store client.
// baseURL should be the base URL of the API, e.g., "http://localhost:8000/api/v1".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// EnableListCache keeps ListFiles results for ttl. Upload and Delete
// invalidate it.
func (c *Client) EnableListCache(ttl time.Duration) {
	if ttl <= 0 {
		c.listCache = nil
		return
	}
	c.listCache = cache.New(ttl, 2*ttl)
}

// ValidateExtension checks name against AllowedExtensions, ignoring case.
func ValidateExtension(name string) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: only %s files are allowed", ErrUnsupportedType, strings.Join(AllowedExtensions, ", "))
}

// FormatSize renders a byte count as B, KB or MB.
func FormatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}

// Document endpoints

// ListFiles returns uploaded documents, newest first. The returned slice
// belongs to the caller.
func (c *Client) ListFiles(ctx context.Context) ([]FileInfo, error) {
	if c.listCache != nil {
		if v, ok := c.listCache.Get(listCacheKey); ok {
			return slices.Clone(v.([]FileInfo)), nil
		}
	}

	var resp []FileInfo
	if err := c.get(ctx, "/files", &resp); err != nil {
		return nil, err
	}
	slices.SortStableFunc(resp, func(a, b FileInfo) int {
		return b.UploadedAt.Compare(a.UploadedAt.Time)
	})
	if c.listCache != nil {
		c.listCache.Set(listCacheKey, slices.Clone(resp), cache.DefaultExpiration)
	}
	return resp, nil
}

// Upload sends the content of r as document name.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (*UploadResponse, error) {
	if err := ValidateExtension(name); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp UploadResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	c.invalidate()
	return &resp, nil
}

// UploadFile uploads the file at path after checking its type and size.
func (c *Client) UploadFile(ctx context.Context, path string) (*UploadResponse, error) {
	if err := ValidateExtension(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}
	if st.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %s exceeds %s", ErrTooLarge, FormatSize(st.Size()), FormatSize(MaxFileSize))
	}
	return c.Upload(ctx, filepath.Base(path), f)
}

// Delete removes document name.
func (c *Client) Delete(ctx context.Context, name string) (*DeleteResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/files/"+url.PathEscape(name), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var resp DeleteResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	c.invalidate()
	return &resp, nil
}

// Helper methods

func (c *Client) invalidate() {
	if c.listCache != nil {
		c.listCache.Flush()
	}
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Handle error responses
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message() != "" {
			return &APIError{StatusCode: resp.StatusCode, Detail: errResp.Message()}
		}
		return &APIError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
