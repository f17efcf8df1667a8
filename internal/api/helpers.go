package api

import (
	"encoding/json"
	"net/http"

	"github.com/uho-indexer/uho/internal/uhoerrors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch err.(type) {
	case *uhoerrors.ValidationError:
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case *uhoerrors.ConflictError:
		status, code = http.StatusConflict, "CONFLICT"
	case *uhoerrors.NotFoundError:
		status, code = http.StatusNotFound, "NOT_FOUND"
	case *uhoerrors.DemoLimitError:
		status, code = http.StatusUnprocessableEntity, "DEMO_LIMIT"
	}
	writeJSON(w, status, map[string]any{"error": code, "message": err.Error()})
}

func decodeJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
