package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
)

// Queries are written with $n placeholders, RETURNING and ON CONFLICT so the
// same text runs on postgres (lib/pq) and sqlite (go-sqlite3).

func notFound(err error, kind string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.NotFound(kind, id)
	}
	return err
}

func now() time.Time {
	return time.Now().UTC()
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(b), nil
}

func decodeJSON(raw sql.NullString, v any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

// placeholders returns "$start, $start+1, ..." for n arguments.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
