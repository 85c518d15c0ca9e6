package common

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// LoggerWrapper wraps a charmbracelet/log.Logger behind the same call shape
// the rest of the codebase expects: Info at a verbosity level, Error always,
// TmpDebug for throwaway tracing, RotateLogFile to reopen after log rotation.
type LoggerWrapper struct {
	impl              *log.Logger
	fileName          string
	verbosity         int
	duplicateToStderr bool
}

func MakeLogger(logFile string, verbosity int64, noLogsIfEmpty bool, duplicateToStderr bool) (*LoggerWrapper, error) {
	if verbosity < -1 || verbosity > 2 {
		return nil, errInvalidVerbosity
	}

	var out io.Writer
	if logFile != "" && logFile != "stderr" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			return nil, err
		}
		out = f
	} else if !noLogsIfEmpty {
		out = os.Stderr
	} else {
		out = io.Discard
	}

	impl := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
	})
	impl.SetLevel(verbosityToLevel(verbosity))

	return &LoggerWrapper{
		impl:              impl,
		fileName:          logFile,
		verbosity:         int(verbosity),
		duplicateToStderr: duplicateToStderr,
	}, nil
}

func verbosityToLevel(verbosity int64) log.Level {
	switch {
	case verbosity < 0:
		return log.FatalLevel
	case verbosity == 0:
		return log.InfoLevel
	default:
		return log.DebugLevel
	}
}

func (logger *LoggerWrapper) Info(verbosity int, v ...interface{}) {
	if logger.verbosity >= verbosity {
		logger.impl.Info(sprint(v...))
	}
}

func (logger *LoggerWrapper) Error(v ...interface{}) {
	logger.impl.Error(sprint(v...))
	if logger.duplicateToStderr {
		log.New(os.Stderr).Error(sprint(v...))
	}
}

func (logger *LoggerWrapper) Warn(v ...interface{}) {
	logger.impl.Warn(sprint(v...))
}

func (logger *LoggerWrapper) TmpDebug(v ...interface{}) {
	logger.impl.Debug(sprint(v...))
}

func (logger *LoggerWrapper) RotateLogFile() error {
	if logger.fileName == "" {
		return nil
	}
	f, err := os.OpenFile(logger.fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	impl := log.NewWithOptions(f, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
	})
	impl.SetLevel(verbosityToLevel(int64(logger.verbosity)))
	logger.impl = impl
	return nil
}

func (logger *LoggerWrapper) GetFileName() string {
	return logger.fileName
}

func (logger *LoggerWrapper) GetFileSize() int64 {
	if logger.fileName == "" {
		return 0
	}
	stat, err := os.Stat(logger.fileName)
	if err != nil {
		return 0
	}
	return stat.Size()
}
