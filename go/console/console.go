// Package console defines the minimal contracts the core needs from its
// two out-of-scope external collaborators: a console for user-facing
// messages/prompts, and a leveled logger. Neither is implemented here
// beyond a thin wrapper over the teacher's own logging library; a real
// shell, CLI, or test harness supplies the concrete console.
package console

import (
	"github.com/openark/golib/log"
)

// Level mirrors the six verbosity levels the spec's logger exposes.
type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
	LevelDebug2
	LevelDebug3
)

// Console is the narrow interface C6/C7 commands depend on for
// user-facing output; it is supplied by the embedding application (shell,
// operator, test harness) and never implemented by this module.
type Console interface {
	PrintInfo(format string, args ...interface{})
	PrintWarning(format string, args ...interface{})
	PrintError(format string, args ...interface{})
	Prompt(message string) (string, error)
	Confirm(message string) (bool, error)
	Select(message string, options []string) (int, error)
}

// Logger adapts the module's six-level verbosity onto golib/log, which
// natively has five (DEBUG has no sub-levels); DEBUG2/DEBUG3 collapse onto
// golib's DEBUG once the threshold allows any debug output at all. This is
// the same compromise the teacher's own code makes when it logs
// fine-grained replication detail through a logger built for coarser ops
// messages.
type Logger struct {
	level Level
}

// NewLogger returns a Logger gated at level.
func NewLogger(level Level) *Logger {
	return &Logger{level: level}
}

func (l *Logger) enabled(min Level) bool { return l.level >= min }

func (l *Logger) Error(format string, args ...interface{}) {
	if l.enabled(LevelError) {
		log.Errorf(format, args...)
	}
}

func (l *Logger) Warning(format string, args ...interface{}) {
	if l.enabled(LevelWarning) {
		log.Warningf(format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.enabled(LevelInfo) {
		log.Infof(format, args...)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.enabled(LevelDebug) {
		log.Debugf(format, args...)
	}
}

func (l *Logger) Debug2(format string, args ...interface{}) {
	if l.enabled(LevelDebug2) {
		log.Debugf(format, args...)
	}
}

func (l *Logger) Debug3(format string, args ...interface{}) {
	if l.enabled(LevelDebug3) {
		log.Debugf(format, args...)
	}
}
