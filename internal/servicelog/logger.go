// Package servicelog is a small structured-logging façade wrapping
// zap, adapted from the teacher driver's internal/driver/servicelog:
// it rotates logs through lumberjack and, when run under
// kardianos/service, mirrors Fatal-level messages to the OS service
// manager's own logger.
package servicelog

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/kardianos/service"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

type lumberjackSink struct {
	*lumberjack.Logger
}

func (lumberjackSink) Sync() error { return nil }

// Attrib is a deferred structured-field writer, applied in order when
// a message is finally rendered.
type Attrib func(sb *strings.Builder)

func printer(name string, val interface{}) Attrib {
	return func(sb *strings.Builder) {
		sb.WriteString(", ")
		sb.WriteString(name)
		sb.WriteString("=")
		fmt.Fprintf(sb, "%v", val)
	}
}

func String(name, value string) Attrib       { return printer(name, value) }
func Error(err error) Attrib                 { return printer("error", err) }
func Bool(name string, value bool) Attrib    { return printer(name, value) }
func Any(name string, value interface{}) Attrib { return printer(name, value) }
func Int(name string, value int) Attrib      { return printer(name, value) }
func Float(name string, value float64) Attrib { return printer(name, value) }
func Time(name string, value time.Time) Attrib { return printer(name, value) }
func Duration(name string, value time.Duration) Attrib { return printer(name, value) }

// Logger is the interface every component takes instead of a bare
// *zap.Logger, so tests can inject a file-less implementation (NewNop).
type Logger interface {
	With(attrs ...Attrib) Logger
	Info(msg string, attrs ...Attrib)
	Error(msg string, attrs ...Attrib)
	Warn(msg string, attrs ...Attrib)
	Debug(msg string, attrs ...Attrib)
	Fatal(msg string, attrs ...Attrib)
}

type logger struct {
	zap     *zap.Logger
	svc     service.Logger // optional: mirrors Fatal to the OS service manager
	debug   bool
	attrs   []Attrib
	logFile string
}

// New builds a Logger writing rotated JSON/console logs to logFile
// (via a lumberjack zap sink) and, if svc is non-nil, mirroring fatal
// messages to the platform service logger.
func New(svc service.Logger, logFile string, debug bool) Logger {
	sinkName := "lumberjack"
	zap.RegisterSink(sinkName, func(u *url.URL) (zap.Sink, error) {
		return lumberjackSink{
			Logger: &lumberjack.Logger{
				Filename:   u.Path,
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     28,
			},
		}, nil
	})

	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.OutputPaths = []string{sinkName + "://" + logFile}
	built, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("servicelog: building zap logger: %v", err))
	}
	return &logger{zap: built, svc: svc, debug: debug, logFile: logFile}
}

func (l *logger) render(msg string, attrs ...Attrib) string {
	var sb strings.Builder
	sb.WriteString(msg)
	if l != nil {
		for _, a := range l.attrs {
			a(&sb)
		}
	}
	for _, a := range attrs {
		a(&sb)
	}
	return sb.String()
}

func (l *logger) Info(msg string, attrs ...Attrib) {
	if l == nil || l.zap == nil {
		log.Println(l.render(msg, attrs...))
		return
	}
	l.zap.Info(l.render(msg, attrs...))
}

func (l *logger) Error(msg string, attrs ...Attrib) {
	if l == nil || l.zap == nil {
		log.Println(l.render(msg, attrs...))
		return
	}
	l.zap.Error(l.render(msg, attrs...))
}

func (l *logger) Warn(msg string, attrs ...Attrib) {
	if l == nil || l.zap == nil {
		log.Println(l.render(msg, attrs...))
		return
	}
	l.zap.Warn(l.render(msg, attrs...))
}

func (l *logger) Debug(msg string, attrs ...Attrib) {
	if l == nil || !l.debug {
		return
	}
	if l.zap == nil {
		log.Println(l.render(msg, attrs...))
		return
	}
	l.zap.Debug(l.render(msg, attrs...))
}

func (l *logger) Fatal(msg string, attrs ...Attrib) {
	rendered := l.render(msg, attrs...)
	if l != nil && l.zap != nil {
		l.zap.Error(rendered)
	}
	if l != nil && l.svc != nil {
		l.svc.Error(rendered)
	}
	log.Fatal(rendered)
}

func (l *logger) With(attrs ...Attrib) Logger {
	newLogger := &logger{debug: false}
	if l != nil {
		newLogger.zap = l.zap
		newLogger.svc = l.svc
		newLogger.debug = l.debug
		newLogger.logFile = l.logFile
		if len(l.attrs) > 0 {
			newLogger.attrs = make([]Attrib, 0, len(l.attrs)+len(attrs))
			newLogger.attrs = append(newLogger.attrs, l.attrs...)
		}
	}
	newLogger.attrs = append(newLogger.attrs, attrs...)
	return newLogger
}

// NewNop returns a Logger with no zap core and no file sink: Info, Warn
// and Error are printed through the standard library log package,
// Debug is dropped, and Fatal still exits through log.Fatal. Messages
// are not discarded.
func NewNop() Logger {
	return &logger{}
}
