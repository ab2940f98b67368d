package log

import (
	"github.com/hashicorp/go-retryablehttp"
)

var _ retryablehttp.LeveledLogger = retryableHTTPLogger{}

// retryableHTTPLogger adapts our session logger to retryablehttp's
// LeveledLogger so every worker HTTP retry shows up attributed to the
// session that made the call, instead of retryablehttp's own stderr
// default.
type retryableHTTPLogger struct {
	sessionID string
}

func NewRetryableHTTPLogger(sessionID string) retryablehttp.LeveledLogger {
	return retryableHTTPLogger{sessionID: sessionID}
}

func (r retryableHTTPLogger) Error(msg string, keysAndValues ...interface{}) {
	Log(r.sessionID, msg, keysAndValues...)
}

func (r retryableHTTPLogger) Warn(msg string, keysAndValues ...interface{}) {
	Log(r.sessionID, msg, keysAndValues...)
}

func (r retryableHTTPLogger) Info(msg string, keysAndValues ...interface{}) {
	Log(r.sessionID, msg, keysAndValues...)
}

func (r retryableHTTPLogger) Debug(msg string, keysAndValues ...interface{}) {
	// Debug-level retry chatter is noisy and not useful in a session log
	// that's already 1 Hz progress lines; swallow it.
}
