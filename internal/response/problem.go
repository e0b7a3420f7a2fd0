// Package response writes JSON and application/problem+json bodies.
package response

import (
	"encoding/json"
	"net/http"
	"strings"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
)

type Problem struct {
	Type   string              `json:"type,omitempty"`
	Title  string              `json:"title,omitempty"`
	Status int                 `json:"status,omitempty"`
	Detail string              `json:"detail,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
	Meta   map[string]any      `json:"meta,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteProblem(w http.ResponseWriter, p Problem) {
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// Error maps err onto a problem body. Internal errors never leak their cause.
func Error(w http.ResponseWriter, err error) {
	env := appErrors.Envelope(err)
	p := Problem{
		Type:   problemType(env.TextCode),
		Status: env.Code,
		Detail: env.Message,
		Meta:   env.Metadata,
	}
	if p.Status >= http.StatusInternalServerError && p.Status != http.StatusBadGateway {
		p.Detail = "An unexpected error occurred"
		p.Meta = nil
	}
	if fields := env.AllValidationErrors(); len(fields) > 0 {
		p.Errors = make(map[string][]string, len(fields))
		for _, fe := range fields {
			p.Errors[fe.Field] = append(p.Errors[fe.Field], fe.Message)
		}
	}
	WriteProblem(w, p)
}

func problemType(textCode string) string {
	if textCode == "" {
		return "about:blank"
	}
	return "urn:followup:error:" + strings.ToLower(textCode)
}
