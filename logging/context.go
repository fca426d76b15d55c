package logging

import (
	"context"

	"go.viam.com/utils"
)

type debugRunKey struct{}

// EnableDebugMode marks ctx as a debug run. CDebug* calls made with the returned context are
// logged at any level and tagged with the run name. An empty name is replaced with a random one.
func EnableDebugMode(ctx context.Context, run string) context.Context {
	if run == "" {
		run = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, debugRunKey{}, run)
}

// IsDebugMode reports whether ctx is a debug run.
func IsDebugMode(ctx context.Context) bool {
	return GetName(ctx) != ""
}

// GetName returns the debug run name of ctx, or "".
func GetName(ctx context.Context) string {
	run, _ := ctx.Value(debugRunKey{}).(string)
	return run
}
