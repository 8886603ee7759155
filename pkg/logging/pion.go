package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/pion/logging"
)

// PionFactory routes pion's internal logging through log. Each pion scope
// becomes a named logger. Pion's trace and debug chatter map to V(2) and V(1).
func PionFactory(log logr.Logger) logging.LoggerFactory {
	return pionFactory{log: log}
}

type pionFactory struct {
	log logr.Logger
}

func (f pionFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{log: f.log.WithName("pion").WithValues("scope", scope)}
}

type pionLogger struct {
	log logr.Logger
}

var _ logging.LeveledLogger = pionLogger{}

func (l pionLogger) Trace(msg string) { l.log.V(2).Info(msg) }
func (l pionLogger) Tracef(format string, args ...interface{}) {
	l.log.V(2).Info(fmt.Sprintf(format, args...))
}
func (l pionLogger) Debug(msg string) { l.log.V(1).Info(msg) }
func (l pionLogger) Debugf(format string, args ...interface{}) {
	l.log.V(1).Info(fmt.Sprintf(format, args...))
}
func (l pionLogger) Info(msg string) { l.log.Info(msg) }
func (l pionLogger) Infof(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...))
}
func (l pionLogger) Warn(msg string) { l.log.Info(msg, "warning", true) }
func (l pionLogger) Warnf(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...), "warning", true)
}
func (l pionLogger) Error(msg string) { l.log.Error(nil, msg) }
func (l pionLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(nil, fmt.Sprintf(format, args...))
}
