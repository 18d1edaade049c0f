package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns base with the correlation ids of ctx attached.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	f := FromContext(ctx)
	if f == (Fields{}) {
		return base
	}

	lc := base.With()
	for _, kv := range [...]struct{ key, val string }{
		{"trace_id", f.TraceID},
		{"run_id", f.RunID},
		{"channel_id", f.ChannelID},
		{"message_id", f.MessageID},
	} {
		if kv.val != "" {
			lc = lc.Str(kv.key, kv.val)
		}
	}
	return lc.Logger()
}
