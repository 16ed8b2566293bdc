// Package httpx provides the HTTP responders and request decoding shared by
// the API handlers. Errors render as RFC 7807 problem documents.
package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// problemTypeBase prefixes the machine-readable problem type, so clients can
// switch on the type URI instead of parsing titles.
const problemTypeBase = "https://meridian-erp.dev/problems/"

// maxBodyBytes caps request bodies; posting payloads stay well under this.
const maxBodyBytes = 1 << 20

// ProblemDetail is an RFC 7807 problem document.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC 7807 problem response. The type URI is derived from
// the title: "Validation Failed" becomes .../validation-failed.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	JSON(w, status, ProblemDetail{
		Type:   problemTypeBase + strings.ReplaceAll(strings.ToLower(title), " ", "-"),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// DecodeJSON decodes the request body into target, rejecting bodies larger
// than maxBodyBytes.
func DecodeJSON(r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("httpx: decode body: %w", err)
	}
	return nil
}
