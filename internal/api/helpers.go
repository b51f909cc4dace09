// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error kind taxonomy to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetKind(err) {
	case errors.KindValidation:
		status = http.StatusBadRequest
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindConflict:
		status = http.StatusConflict
	case errors.KindPermission:
		status = http.StatusForbidden
	case errors.KindUnavailable:
		status = http.StatusServiceUnavailable
	case errors.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf(errors.KindValidation, "invalid %s: %q", name, raw)
	}
	return id, nil
}

// parseIDList parses a comma separated id list query parameter. Empty input
// yields nil.
func parseIDList(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, errors.Errorf(errors.KindValidation, "invalid rule id: %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, errors.KindValidation, "decode request body")
	}
	return nil
}
