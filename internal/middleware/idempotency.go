package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/unclebandit/followup-engine/internal/idempotency"
	"github.com/unclebandit/followup-engine/internal/logger"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"
)

// Idempotency replays the stored answer when a request repeats an
// Idempotency-Key. Keys are scoped to the principal, method and path. Only
// non-error responses are stored, so a failed request can be retried. A
// handler can also refuse storage with Cache-Control: no-store.
func Idempotency(store idempotency.Store, log *zap.Logger) func(http.Handler) http.Handler {
	log = logger.OrNop(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if key == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			scoped := scopedKey(PrincipalFrom(r.Context()), r.Method, r.URL.Path, key)

			stored, err := store.Get(r.Context(), scoped)
			if err != nil {
				log.Warn("idempotency lookup failed", zap.Error(err))
			}
			if stored != nil {
				if stored.ContentType != "" {
					w.Header().Set("Content-Type", stored.ContentType)
				}
				w.Header().Set(ReplayedHeader, "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			var buf bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusBadRequest || ww.Header().Get("Cache-Control") == "no-store" {
				return
			}
			resp := idempotency.Response{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        buf.Bytes(),
			}
			if err := store.Save(r.Context(), scoped, resp); err != nil {
				log.Warn("idempotency save failed", zap.Error(err))
			}
		})
	}
}

func scopedKey(principal, method, path, key string) string {
	sum := sha256.Sum256([]byte(principal + "\x00" + method + "\x00" + path + "\x00" + key))
	return hex.EncodeToString(sum[:])
}
