package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ErrorResponse is the standard error format for REST API responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code. When data
// cannot be encoded a 500 error body is written instead and the encode error
// is returned.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		body, _ = json.Marshal(ErrorResponse{Error: "failed to encode response", Code: "encode_error"})
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(append(body, '\n'))
	return err
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message})
}

// WriteErrorWithCode writes a JSON error response with an error code.
func WriteErrorWithCode(w http.ResponseWriter, statusCode int, message, code string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// RequireMethod validates the HTTP method and returns true if it matches.
// If it doesn't match, it writes a 405 response and returns false.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// maxCommandBody bounds command request bodies such as chat messages.
const maxCommandBody = 64 << 10

// DecodeJSON decodes a command body into v, rejecting unknown fields.
// Returns false and writes a 400 error if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		WriteErrorWithCode(w, http.StatusBadRequest, "Request body is required", "empty_body")
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, "Invalid JSON: "+err.Error(), "invalid_json")
		return false
	}
	return true
}

// walletRoute splits /api/wallets/{name}/{action}. The name is path-unescaped.
func walletRoute(path string) (name, action string, ok bool) {
	rest, found := strings.CutPrefix(path, "/api/wallets/")
	if !found {
		return "", "", false
	}
	escaped, action, found := strings.Cut(strings.Trim(rest, "/"), "/")
	if !found || escaped == "" || action == "" || strings.Contains(action, "/") {
		return "", "", false
	}
	name, err := url.PathUnescape(escaped)
	if err != nil || name == "" {
		return "", "", false
	}
	return name, action, true
}

// QueryInt parses an optional integer query parameter. ok is false when the
// parameter is present but not a non-negative integer.
func QueryInt(r *http.Request, name string, fallback int) (value int, ok bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
