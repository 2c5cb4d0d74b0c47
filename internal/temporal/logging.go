package temporal

import (
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// SDKLogger routes Temporal SDK logs through zerolog. The SDK's CamelCase
// keys (WorkflowID, TaskQueue) become snake_case fields.
type SDKLogger struct {
	logger zerolog.Logger
}

var (
	_ log.Logger     = (*SDKLogger)(nil)
	_ log.WithLogger = (*SDKLogger)(nil)
)

func NewSDKLogger(logger zerolog.Logger) *SDKLogger {
	return &SDKLogger{logger: logger.With().Str("component", "temporal-sdk").Logger()}
}

func (l *SDKLogger) Debug(msg string, keyvals ...interface{}) {
	fields(l.logger.Debug(), keyvals).Msg(msg)
}

func (l *SDKLogger) Info(msg string, keyvals ...interface{}) {
	fields(l.logger.Info(), keyvals).Msg(msg)
}

func (l *SDKLogger) Warn(msg string, keyvals ...interface{}) {
	fields(l.logger.Warn(), keyvals).Msg(msg)
}

func (l *SDKLogger) Error(msg string, keyvals ...interface{}) {
	fields(l.logger.Error(), keyvals).Msg(msg)
}

// With returns a logger that carries keyvals on every entry.
func (l *SDKLogger) With(keyvals ...interface{}) log.Logger {
	ctx := l.logger.With()
	forEachPair(keyvals, func(key string, val interface{}) {
		if err, ok := val.(error); ok {
			ctx = ctx.AnErr(key, err)
			return
		}
		ctx = ctx.Interface(key, val)
	})
	return &SDKLogger{logger: ctx.Logger()}
}

func fields(event *zerolog.Event, keyvals []interface{}) *zerolog.Event {
	forEachPair(keyvals, func(key string, val interface{}) {
		if err, ok := val.(error); ok {
			event = event.AnErr(key, err)
			return
		}
		event = event.Interface(key, val)
	})
	return event
}

// forEachPair walks keyvals two at a time. A dangling key gets a
// placeholder value.
func forEachPair(keyvals []interface{}, fn func(key string, val interface{})) {
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = "invalid_key"
		}
		var val interface{} = "MISSING_VALUE"
		if i+1 < len(keyvals) {
			val = keyvals[i+1]
		}
		fn(snakeCase(key), val)
	}
}

func snakeCase(key string) string {
	var b strings.Builder
	runes := []rune(key)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			// break before an upper-case rune that starts a new word:
			// "WorkflowID" -> "workflow_id", "RunID" -> "run_id"
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
