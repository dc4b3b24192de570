// Package envctx carries per-call diagnostics settings through contexts.
package envctx

import (
	"context"
	"encoding/hex"
	"log/slog"
)

type ctxIndex int

const ctxIndexVerbose ctxIndex = iota

func IsVerbose(ctx context.Context) bool {
	val := ctx.Value(ctxIndexVerbose)
	if val == nil {
		return false
	}
	return val.(bool)
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// Dump logs a hex dump of a bus frame at debug level when ctx is verbose.
func Dump(ctx context.Context, msg string, frame []byte) {
	if !IsVerbose(ctx) {
		return
	}
	slog.Debug(msg, "frame", hex.EncodeToString(frame), "len", len(frame))
}
