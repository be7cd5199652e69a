// Package obslog is the structured-logging, advisory-warning, and summary
// surface the fuzzing session uses to report its state: a zerolog wrapper
// with a small leveled API, throttled advisory warnings so a misbehaving
// target doesn't flood the console, and a tabular end-of-run summary.
package obslog

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Level names accepted by Config.Level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the wire shape of each log line.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config configures a Logger.
type Config struct {
	Level  Level
	Format Format
	Output io.Writer
}

// Logger wraps zerolog with the key-value variadic API the rest of this
// module uses, plus rate-limited advisory warnings.
type Logger struct {
	logger zerolog.Logger
	warns  *rate.Sometimes
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	var output io.Writer = cfg.Output
	if cfg.Format == FormatText {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339}
	}

	zlog := zerolog.New(output).With().Timestamp().Logger()
	switch cfg.Level {
	case LevelDebug:
		zlog = zlog.Level(zerolog.DebugLevel)
	case LevelWarn:
		zlog = zlog.Level(zerolog.WarnLevel)
	case LevelError:
		zlog = zlog.Level(zerolog.ErrorLevel)
	default:
		zlog = zlog.Level(zerolog.InfoLevel)
	}

	return &Logger{
		logger: zlog,
		warns:  &rate.Sometimes{Interval: 30 * time.Second},
	}
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(l.logger.Debug(), msg, fields...) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.log(l.logger.Info(), msg, fields...) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.log(l.logger.Warn(), msg, fields...) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(l.logger.Error(), msg, fields...) }

// Fatal logs at fatal level and terminates the process immediately via
// zerolog's os.Exit(1), skipping any deferred cleanup. Fatal-severity
// conditions in the error taxonomy (spec.md §7) must not call this: they
// should return a *faultcore.FatalError up the normal call chain instead, so
// that already-registered defers (STR detachment, output directory unlock)
// run before the process exits. This method exists for completeness with
// the other level methods and for genuinely unrecoverable startup errors
// that precede any cleanup-worthy state.
func (l *Logger) Fatal(msg string, fields ...interface{}) { l.log(l.logger.Fatal(), msg, fields...) }

// Advisory logs a Warn-level message at most once per throttle interval,
// regardless of how often it is called, so a condition that recurs on every
// run produces one line per interval. No code in this module calls it
// outside its tests; the session emits no slow-target, oversized-input or
// CPU-governor warnings.
func (l *Logger) Advisory(msg string, fields ...interface{}) {
	l.warns.Do(func() { l.log(l.logger.Warn(), msg, fields...) })
}

func (l *Logger) log(event *zerolog.Event, msg string, fields ...interface{}) {
	if len(fields)%2 != 0 {
		event.Str("logerror", "odd number of fields")
		event.Msg(msg)
		return
	}
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			event.Str("logerror", fmt.Sprintf("field key at index %d is not a string", i))
			continue
		}
		event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}

// With returns a child logger with one additional field attached to every
// subsequent line.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger(), warns: l.warns}
}

// Summary is one row of the end-of-run table.
type Summary struct {
	Label string
	Value string
}

// WriteSummaryTable renders rows as an aligned table to w, in the teacher's
// preferred tablewriter style.
func WriteSummaryTable(w io.Writer, rows []Summary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, r := range rows {
		table.Append([]string{r.Label, r.Value})
	}
	table.Render()
}
