package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/xraph/tokenledger/account"
	"github.com/xraph/tokenledger/idempotency"
)

// Request headers set by the authentication layer and by clients.
const (
	HeaderAccountID      = "X-Account-ID"
	HeaderAccountType    = "X-Account-Type"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

type ctxKey struct{}

// AccountFrom returns the account attached by the account middleware.
func AccountFrom(ctx context.Context) (account.Ref, bool) {
	ref, ok := ctx.Value(ctxKey{}).(account.Ref)
	return ref, ok
}

func (s *Server) requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawID, rawType := r.Header.Get(HeaderAccountID), r.Header.Get(HeaderAccountType)
		if rawID == "" || rawType == "" {
			writeErrorMessage(w, http.StatusUnauthorized, "missing account headers")
			return
		}
		typ, err := account.ParseType(rawType)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		ref := account.Ref{ID: rawID, Type: typ}
		if err := ref.Validate(); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, ref)))
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("api: handler panic",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprint(rec),
				)
				writeErrorMessage(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// idempotent wraps a mutating handler. Without an Idempotency-Key header the
// handler runs as is. With one, the first response for (account, key) is
// stored and replayed to later requests carrying the same key and body.
func (s *Server) idempotent(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderIdempotencyKey)
		if key == "" {
			h(w, r)
			return
		}
		ref, _ := AccountFrom(r.Context())

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeErrorMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		fp := idempotency.Fingerprint(r.Method, r.URL.Path, ref.ID, string(body))

		rec, replayed, err := s.guard.Do(r.Context(), ref.ID+":"+key, fp, func() (*idempotency.Record, error) {
			cw := newCaptureWriter()
			r.Body = io.NopCloser(bytes.NewReader(body))
			h(cw, r)
			return cw.record(), nil
		})
		if errors.Is(err, idempotency.ErrKeyReused) {
			writeErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if err != nil {
			s.logger.Error("api: idempotent request failed", "path", r.URL.Path, "error", err)
			writeErrorMessage(w, http.StatusInternalServerError, "internal error")
			return
		}

		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		if replayed {
			w.Header().Set(HeaderReplayed, "true")
		}
		w.WriteHeader(rec.Status)
		_, _ = w.Write(rec.Body)
	})
}

// captureWriter buffers a handler's response so it can be stored.
type captureWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{header: make(http.Header)}
}

func (c *captureWriter) Header() http.Header { return c.header }

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *captureWriter) record() *idempotency.Record {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return &idempotency.Record{
		Status:      status,
		ContentType: c.header.Get("Content-Type"),
		Body:        c.body.Bytes(),
	}
}
