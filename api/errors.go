package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/moodmash/authgate/challenge"
	"github.com/moodmash/authgate/storage"
)

// jsonRaw aliases json.RawMessage so request DTOs can defer decoding of
// the browser-produced credential payload to the WebAuthn parser.
type jsonRaw = json.RawMessage

const (
	// maxAuthBodySize caps auth request bodies. WebAuthn attestation
	// objects are the largest legitimate payload and stay well under
	// this.
	maxAuthBodySize = 1 << 20 // 1 MiB
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Message: msg})
}

// writeInternalError logs the underlying error and returns a generic
// 500 so internals never leak to clients.
func writeInternalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, msg)
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrCredentialExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrLastCredential):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrCounterRegression):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, challenge.ErrNotFound):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON decodes a size-capped JSON request body. On failure it
// writes a 400 and returns ok=false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxBytes int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return v, false
	}
	return v, true
}
