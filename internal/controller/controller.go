// Package controller holds the HTTP write endpoints. Every handler takes the
// principal from the request context and passes it down explicitly.
package controller

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
)

const maxBodyBytes = 1 << 20

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Validation("invalid path parameter", map[string]string{name: "must be a positive integer"})
	}
	return id, nil
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return appErrors.Validation("invalid request body", map[string]string{"body": err.Error()})
	}
	return nil
}
