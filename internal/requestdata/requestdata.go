// Package requestdata carries per-request facts through context.Context:
// correlation ids set first in the chain, then the verified caller.
package requestdata

import (
	"context"

	"github.com/google/uuid"
)

type (
	requestDataKey struct{}
	traceKey       struct{}
)

// RequestData is the verified caller of one request, set by the auth
// middleware.
type RequestData struct {
	TokenString string
	UserID      uuid.UUID
	SessionID   uuid.UUID
	// TaskID is set when an agent calls on the user's behalf.
	TaskID *uuid.UUID
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd
	}
	return nil
}

// Trace correlates one request across logs, spans and response headers.
type Trace struct {
	TraceID   string
	RequestID string
}

func WithTrace(ctx context.Context, t Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

func GetTrace(ctx context.Context) (Trace, bool) {
	t, ok := ctx.Value(traceKey{}).(Trace)
	return t, ok
}
