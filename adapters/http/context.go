package gatehttp

import (
	"context"
	"net/http"
)

type exchangeKey struct{}

type exchange struct {
	w http.ResponseWriter
	r *http.Request
}

func withExchange(ctx context.Context, w http.ResponseWriter, r *http.Request) context.Context {
	return context.WithValue(ctx, exchangeKey{}, exchange{w: w, r: r})
}

// Exchange recovers the in-flight response writer and request from a
// context passed through the orchestrator. SessionHost implementations
// that issue cookies use it to reach the response.
func Exchange(ctx context.Context) (http.ResponseWriter, *http.Request, bool) {
	ex, ok := ctx.Value(exchangeKey{}).(exchange)
	return ex.w, ex.r, ok
}
