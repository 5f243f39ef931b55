package logging

import (
	"fmt"
	"log"
	"os"

	"github.com/rollbar/rollbar-go"
)

type Options struct {
	RollbarToken string
	Environment  string
	CodeVersion  string
}

// Logger writes to a std logger and, when a Rollbar token is configured, reports
// errors there as well.
type Logger struct {
	std     *log.Logger
	rollbar bool
}

func New(std *log.Logger, opts Options) *Logger {
	if std == nil {
		std = log.New(os.Stderr, "", log.LstdFlags)
	}
	l := &Logger{std: std}
	if opts.RollbarToken != "" {
		rollbar.SetToken(opts.RollbarToken)
		rollbar.SetEnvironment(opts.Environment)
		if opts.CodeVersion != "" {
			rollbar.SetCodeVersion(opts.CodeVersion)
		}
		rollbar.SetEnabled(true)
		l.rollbar = true
	}
	return l
}

func (l *Logger) Printf(format string, args ...any) {
	l.std.Printf(format, args...)
}

// Error logs err under msg. Extras travel to Rollbar as custom data.
func (l *Logger) Error(msg string, err error, extras map[string]any) {
	if extras != nil {
		l.std.Printf("%s: %v %v", msg, err, extras)
	} else {
		l.std.Printf("%s: %v", msg, err)
	}
	if l.rollbar {
		data := map[string]interface{}{"message": msg}
		for k, v := range extras {
			data[k] = v
		}
		rollbar.Error(err, data)
	}
}

func (l *Logger) Fatalf(format string, args ...any) {
	if l.rollbar {
		rollbar.Critical(fmt.Sprintf(format, args...))
		rollbar.Wait()
	}
	l.std.Fatalf(format, args...)
}

// Close flushes queued Rollbar items.
func (l *Logger) Close() {
	if l.rollbar {
		rollbar.Close()
	}
}
