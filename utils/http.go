package utils

import (
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// SuccessResponse is the uniform success envelope
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorBody is the payload of the uniform failure envelope
type ErrorBody struct {
	Status    int                    `json:"status"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
	Path      string                 `json:"path"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse is the uniform failure envelope
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes the success envelope
func WriteSuccess(w http.ResponseWriter, status int, message string, data interface{}) error {
	if message == "" {
		message = http.StatusText(status)
	}
	return WriteJSON(w, status, SuccessResponse{Message: message, Data: data})
}

// WriteOK writes a 200 OK success envelope
func WriteOK(w http.ResponseWriter, message string, data interface{}) error {
	return WriteSuccess(w, http.StatusOK, message, data)
}

// WriteCreated writes a 201 Created success envelope
func WriteCreated(w http.ResponseWriter, message string, data interface{}) error {
	return WriteSuccess(w, http.StatusCreated, message, data)
}

// WriteError writes the failure envelope
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) error {
	return WriteJSON(w, status, ErrorResponse{Error: ErrorBody{
		Status:    status,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Path:      r.URL.Path,
		Details:   details,
	}})
}

// DecodeJSON decodes a request body into dst
func DecodeJSON(body io.Reader, dst interface{}) error {
	return json.NewDecoder(body).Decode(dst)
}

// Marshal encodes v with the package codec
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes data with the package codec
func Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
