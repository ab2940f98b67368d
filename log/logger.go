// Package log provides structured, per-session logging. Every log line
// carries the session_id (a cartridge run is identified the way a
// catalyst-api request is identified by request_id) so a reader can grep
// one session's narrative out of the shared log stream. The JSON records
// in cartridge_events.log are written separately, by EventLogger.
package log

import (
	"net/url"
	"strings"
	"time"

	"github.com/go-kit/log"
	kitlog "github.com/go-kit/log"
	"github.com/patrickmn/go-cache"
)

var loggerCache *cache.Cache
var default_logger_cache_expiry = 6 * time.Hour

// Sink is the underlying writer all loggers write through: logfmt lines
// on stderr. SetSink replaces it; nothing in this module calls SetSink,
// so log lines are not copied into the session directory's
// 00_session.log.
var Sink kitlog.Logger = kitlog.NewLogfmtLogger(log.NewSyncWriter(newStderrWriter()))

func init() {
	loggerCache = cache.New(default_logger_cache_expiry, 10*time.Minute)
}

// SetSink replaces the underlying writer used by newly created (and
// currently cached) loggers.
func SetSink(w kitlog.Logger) {
	Sink = w
	loggerCache.Flush()
}

// AddContext permanently adds context to the logger. Any future logging
// for this session_id will include this context.
func AddContext(sessionID string, keyvals ...interface{}) {
	logger := kitlog.With(getLogger(sessionID), redactKeyvals(keyvals...)...)

	err := loggerCache.Replace(sessionID, logger, default_logger_cache_expiry)
	if err != nil {
		_ = logger.Log("msg", "error replacing logger in cache: "+err.Error())
	}
}

func Log(sessionID string, message string, keyvals ...interface{}) {
	_ = kitlog.With(getLogger(sessionID), "msg", message).Log(redactKeyvals(keyvals...)...)
}

// LogNoRequestID logs in situations where we don't have a session_id yet
// (very early startup, before the session directory exists). Should be
// used sparingly and with as much context inserted into the message as
// possible.
func LogNoRequestID(message string, keyvals ...interface{}) {
	_ = kitlog.With(newLogger(), "msg", message).Log(redactKeyvals(keyvals...)...)
}

func LogError(sessionID string, message string, err error, keyvals ...interface{}) {
	msgLogger := kitlog.With(getLogger(sessionID), "msg", message)
	errLogger := kitlog.With(msgLogger, "err", err.Error())
	_ = errLogger.Log(redactKeyvals(keyvals...)...)
}

// LogAlert marks a protocol-violation log line — missing segments,
// manifest without init, impossible numbering.
func LogAlert(sessionID string, message string, keyvals ...interface{}) {
	_ = kitlog.With(getLogger(sessionID), "msg", message, "level", "ALERT").Log(redactKeyvals(keyvals...)...)
}

func getLogger(sessionID string) kitlog.Logger {
	logger, found := loggerCache.Get(sessionID)
	if found {
		return logger.(kitlog.Logger)
	}

	newLogger := kitlog.With(newLogger(), "session_id", sessionID)
	err := loggerCache.Add(sessionID, newLogger, default_logger_cache_expiry)
	if err != nil {
		_ = newLogger.Log("msg", "error adding logger to cache", "session_id", sessionID, "err", err.Error())
	}
	return newLogger
}

func newLogger() kitlog.Logger {
	return kitlog.With(Sink, "ts", kitlog.DefaultTimestampUTC)
}

func redactKeyvals(keyvals ...interface{}) []interface{} {
	var res []interface{}
	for i := range keyvals {
		if i%2 == 1 {
			k, v := keyvals[i-1], keyvals[i]
			res = append(res, k)
			switch s := v.(type) {
			case string:
				res = append(res, RedactURL(s))
			case url.URL:
				res = append(res, s.Redacted())
			case *url.URL:
				if s != nil {
					res = append(res, s.Redacted())
				}
			default:
				res = append(res, v)
			}
		}
	}
	return res
}

func RedactLogs(str, delim string) string {
	if delim == "" {
		return str
	}

	splitstr := strings.Split(str, delim)
	if len(splitstr) == 1 {
		return str
	}

	redactedstr := []string{}
	for _, v := range splitstr {
		r := RedactURL(v)
		redactedstr = append(redactedstr, r)
	}
	return strings.Join(redactedstr[:], delim)
}

func RedactURL(str string) string {
	strLower := strings.ToLower(str)
	if !strings.HasPrefix(strLower, "http") && !strings.HasPrefix(strLower, "s3") {
		return str
	}

	u, err := url.Parse(str)
	if err != nil {
		return "REDACTED"
	}
	return u.Redacted()
}
