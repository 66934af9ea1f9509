package rest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Document types

// FileInfo describes one uploaded document.
type FileInfo struct {
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"` // bytes
	UploadedAt Timestamp `json:"uploaded_at"`
}

// UploadResponse is returned by a successful upload.
type UploadResponse struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	TextContent string `json:"text_content"`
}

// DeleteResponse is returned by a successful delete.
type DeleteResponse struct {
	Message string `json:"message"`
}

// Timestamp accepts RFC 3339 as well as the zone-less ISO 8601 form the
// document store emits; zone-less values are taken as UTC.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = v
		return nil
	}
	for _, layout := range naiveLayouts {
		if v, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = v
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time)
}

// Error types

// ErrorResponse represents an API error response. Detail is a string for
// rejections and a list for request validation failures.
type ErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// Message renders Detail as text.
func (e ErrorResponse) Message() string {
	if len(e.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Detail, &s); err == nil {
		return s
	}
	return string(e.Detail)
}

// APIError is returned for any response with status >= 400.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Detail)
}
