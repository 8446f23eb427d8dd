// Package appctx provides request-scoped values carried on context.Context.
package appctx

import (
	"context"

	"github.com/google/uuid"
)

// TraceContext contains sync cycle tracing information.
type TraceContext struct {
	TraceID string
	CycleID string
}

type traceContextKey struct{}

// WithTrace adds TraceContext to context.
func WithTrace(ctx context.Context, trace *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// GetTrace returns TraceContext from context.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}

// GetTraceID returns trace ID from context or generates new one.
func GetTraceID(ctx context.Context) string {
	if t := GetTrace(ctx); t != nil {
		return t.TraceID
	}
	return uuid.New().String()
}

// GetCycleID returns the sync cycle ID from context or empty string.
func GetCycleID(ctx context.Context) string {
	if t := GetTrace(ctx); t != nil {
		return t.CycleID
	}
	return ""
}

// NewTraceContext creates a new TraceContext with generated IDs.
func NewTraceContext() *TraceContext {
	return &TraceContext{
		TraceID: uuid.New().String(),
		CycleID: uuid.New().String(),
	}
}
