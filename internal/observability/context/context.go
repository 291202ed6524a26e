package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type eventKey struct{}

type eventInfo struct {
	ID   string
	Type string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithEvent tags the context with the payment event currently being processed.
func WithEvent(ctx context.Context, eventID, eventType string) context.Context {
	return context.WithValue(ctx, eventKey{}, eventInfo{
		ID:   strings.TrimSpace(eventID),
		Type: strings.TrimSpace(eventType),
	})
}

func EventFromContext(ctx context.Context) (eventID, eventType string) {
	if ctx == nil {
		return "", ""
	}
	if v, ok := ctx.Value(eventKey{}).(eventInfo); ok {
		return v.ID, v.Type
	}
	return "", ""
}
