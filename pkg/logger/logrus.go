package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the rotating log file used by the daemon.
type FileOptions struct {
	// Path of the log file. Empty means stderr only.
	Path string
	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to keep.
	MaxBackups int
	// Debug enables the debug level.
	Debug bool
}

// LogrusLogger adapts a *logrus.Logger to Logger.
type LogrusLogger struct {
	entry  *logrus.Entry
	closer io.Closer
}

// NewLogrusLogger builds a logrus backed logger. When opts.Path is set the
// output goes to a lumberjack rotated file, otherwise to stderr.
func NewLogrusLogger(component string, opts FileOptions) *LogrusLogger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if opts.Debug {
		l.SetLevel(logrus.DebugLevel)
	}
	var closer io.Closer
	if opts.Path != "" {
		if opts.MaxSizeMB == 0 {
			opts.MaxSizeMB = 10
		}
		if opts.MaxBackups == 0 {
			opts.MaxBackups = 3
		}
		lj := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		l.SetOutput(lj)
		closer = lj
	} else {
		l.SetOutput(os.Stderr)
	}
	return &LogrusLogger{
		entry:  l.WithField("component", component),
		closer: closer,
	}
}

// NewLogrusLoggerFrom wraps an existing logrus logger, mainly for tests.
func NewLogrusLoggerFrom(l *logrus.Logger) *LogrusLogger {
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

func (l *LogrusLogger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *LogrusLogger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *LogrusLogger) Warning(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *LogrusLogger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Close closes the rotated log file, if any.
func (l *LogrusLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

var _ Logger = (*LogrusLogger)(nil)
