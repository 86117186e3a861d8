package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxBodyBytes = 1 << 20 // 1 MiB

var ErrUploadTooLarge = errors.New("upload too large")

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail any    `json:"detail,omitempty"`
}

func DecodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return err
	}
	if len(payload) > maxBodyBytes {
		return errors.New("request body exceeds 1 MiB limit")
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// ReadUpload returns the name and content of the multipart file field.
// Bodies over maxBytes fail with ErrUploadTooLarge.
func ReadUpload(w http.ResponseWriter, r *http.Request, field string, maxBytes int64) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*maxBytes+(1<<20))
	file, header, err := r.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, ErrUploadTooLarge
		}
		return "", nil, fmt.Errorf("read %s field: %w", field, err)
	}
	defer file.Close()

	if header.Size > maxBytes {
		return "", nil, ErrUploadTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", header.Filename, err)
	}
	if int64(len(data)) > maxBytes {
		return "", nil, ErrUploadTooLarge
	}
	name := strings.TrimSpace(header.Filename)
	if name == "" {
		name = field
	}
	return name, data, nil
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteErrorDetail writes an error with a structured detail, such as the
// report of a failed import.
func WriteErrorDetail(w http.ResponseWriter, status int, message string, detail any) {
	WriteJSON(w, status, ErrorResponse{Error: message, Detail: detail})
}
