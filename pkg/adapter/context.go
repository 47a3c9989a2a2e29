package adapter

import (
	"context"
	"log/slog"
	"net/http"
)

// requestContext wraps the native request context with the original
// *http.Request, a per-request logger already carrying method/path and a
// request id, and a cancel function the adapter can use to unwind
// background work (e.g. a distributed lock's keepalive) once the handler
// returns.
type requestContext struct {
	context.Context

	req    *http.Request
	log    *slog.Logger
	cancel context.CancelCauseFunc
}

func newRequestContext(r *http.Request, logger *slog.Logger) *requestContext {
	ctx, cancel := context.WithCancelCause(r.Context())

	return &requestContext{
		Context: ctx,
		req:     r,
		cancel:  cancel,
		log:     logger.With("method", r.Method, "path", r.URL.Path, "requestId", getRequestId(r)),
	}
}

func (c *requestContext) close() {
	c.cancel(nil)
}

// getRequestId returns the value of the X-Request-ID header, if available,
// truncated to fit a UUID's length.
func getRequestId(r *http.Request) string {
	reqId := r.Header.Get("X-Request-ID")
	if reqId == "" {
		return ""
	}

	if len(reqId) > 36 {
		reqId = reqId[:36]
	}

	return reqId
}
