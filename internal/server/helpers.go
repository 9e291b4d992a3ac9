package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// maxBodyBytes caps login and comment payloads.
const maxBodyBytes = 1 << 20

var (
	errBodyRequired = errors.New("request body is required")
	errTrailingData = errors.New("request body must contain a single JSON object")
)

// errorBody is the shape of every JSON error the API returns.
type errorBody struct {
	Error  string `json:"error"`
	Fields any    `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode response", slog.Any("err", err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorBody{Error: msg})
}

// respondInvalid reports per-field validation failures with a 400.
func respondInvalid(w http.ResponseWriter, msg string, fields any) {
	respondJSON(w, http.StatusBadRequest, errorBody{Error: msg, Fields: fields})
}

// decodeJSON decodes exactly one JSON object from the body into dst,
// rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errBodyRequired
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

// Partial tree and page refreshes from the front end carry HX-Request.
func isHTMXRequest(r *http.Request) bool {
	return r.Header.Get("HX-Request") != ""
}

// triggerHX sets HX-Trigger so the client fires event with detail.
func triggerHX(w http.ResponseWriter, event string, detail map[string]any) {
	payload, err := json.Marshal(map[string]any{event: detail})
	if err != nil {
		slog.Warn("encode HX-Trigger", slog.String("event", event), slog.Any("err", err))
		return
	}
	w.Header().Set("HX-Trigger", string(payload))
}

// sseData renders a change event as a single SSE data line.
func sseData(evt any) (string, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
