package observability

import (
	"io"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger

func init() {
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)
}

// InitLogger sets the process log level and stamps every entry with the
// service name. Unknown levels fall back to info.
func InitLogger(level, service string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	if service != "" {
		logger.AddHook(serviceHook(service))
	}
}

func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func GetLogger() *logrus.Logger {
	return logger
}

// OrDefault returns l, or the process logger when l is nil
func OrDefault(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logger
	}
	return l
}

func WithField(key string, value interface{}) *logrus.Entry {
	return logger.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

type serviceHook string

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = string(h)
	}
	return nil
}
