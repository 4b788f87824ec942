package reqlog

import (
	"io"

	"github.com/rs/zerolog"
)

// StructuredLogger emits one compact structured line per logged request,
// independent of the snapshot artefacts written by Write.
type StructuredLogger struct {
	logger zerolog.Logger
}

// NewStructuredLogger wraps w in a zerolog.Logger configured for
// request-line output.
func NewStructuredLogger(w io.Writer) *StructuredLogger {
	return &StructuredLogger{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// LogRequest writes one structured line describing a logged request
// snapshot.
func (s *StructuredLogger) LogRequest(snap Snapshot) {
	s.logger.Info().
		Str("branch", SanitizeBranchSlug(snap.Branch)).
		Str("path", snap.Path).
		Str("method", snap.Method).
		Float64("latency_ms", snap.LatencyMs).
		Bool("redacted", snap.Redacted).
		Msg("request logged")
}
