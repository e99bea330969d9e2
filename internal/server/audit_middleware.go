package server

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

const maxAuditedBody = 4 << 10

func (s *Server) auditLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := AuditLogEntry{
			Timestamp: time.Now().UTC(),
			Method:    r.Method,
			Path:      r.URL.Path,
			Handler:   handlerName(r),
			OrderID:   mux.Vars(r)["id"],
		}

		if username, _, ok := r.BasicAuth(); ok {
			entry.UserID = username
		}

		// payment webhooks carry provider payloads that are not ours to keep
		skipRequestBody := entry.Handler == routeWebhook ||
			strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data")
		if !skipRequestBody && r.Body != nil {
			// only the audited prefix is buffered; the handler reads the rest
			// from the connection under its own size limit
			head, _ := io.ReadAll(io.LimitReader(r.Body, maxAuditedBody))
			r.Body = replayedBody{Reader: io.MultiReader(bytes.NewReader(head), r.Body), Closer: r.Body}
			entry.Request = string(head)
		}

		wrw := newResponseWriterWrapper(w)

		next.ServeHTTP(wrw, r)

		entry.StatusCode = wrw.GetStatusCode()
		entry.Response = truncate(wrw.GetBody())

		s.AuditManager.LogEntry(r.Context(), entry)
	})
}

type replayedBody struct {
	io.Reader
	io.Closer
}

func handlerName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil && route.GetName() != "" {
		return route.GetName()
	}
	return "unknown"
}

func truncate(body []byte) string {
	if len(body) > maxAuditedBody {
		return string(body[:maxAuditedBody])
	}
	return string(body)
}
