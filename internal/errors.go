package internal

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// DebugEnvVar turns failed assertions into panics when set to "1".
const DebugEnvVar = "DGATE_DEBUG"

// Assert that expr holds. A failed assertion panics when DGATE_DEBUG=1, otherwise it logs an error
// carrying the file/line of the assertion and of its caller.
//
// Only use this for invariants which a correct program never breaks, e.g.
//
//	Assert("sequence only moves forward", next > prev)
//
// not for ordinary runtime failures like network errors.
func Assert(msg string, expr bool) {
	if expr {
		return
	}
	if os.Getenv(DebugEnvVar) == "1" {
		panic(fmt.Sprintf("assert: %s", msg))
	}
	l := logger.Error()
	_, file, line, ok := runtime.Caller(1)
	if ok {
		l = l.Str("assertion", fmt.Sprintf("%s:%d", file, line))
	}
	_, file, line, ok = runtime.Caller(2)
	if ok {
		l = l.Str("caller", fmt.Sprintf("%s:%d", file, line))
	}
	l.Msg("assertion failed: " + msg)
}

// RecoverAndReport recovers a panic in the calling goroutine, logs it with the given context
// and reports it to sentry. It returns true if a panic was recovered. It must be called directly
// by a deferred function:
//
//	defer func() { internal.RecoverAndReport(recover(), hub, "listener") }()
func RecoverAndReport(recovered any, hub *sentry.Hub, where string) bool {
	if recovered == nil {
		return false
	}
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("%v", recovered)
	}
	buf := make([]byte, 4096)
	buf = buf[:runtime.Stack(buf, false)]
	logger.Error().Err(err).Str("where", where).Str("stack", string(buf)).Msg("recovered from panic")
	if hub != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("where", where)
			hub.CaptureException(err)
		})
	}
	return true
}

// ReportPanicsToSentry re-panics after reporting, for goroutines which should still crash.
func ReportPanicsToSentry() {
	if r := recover(); r != nil {
		sentry.CurrentHub().Recover(r)
		sentry.Flush(2 * time.Second)
		panic(r)
	}
}
