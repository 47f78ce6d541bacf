// Package logger держит общий logrus-логгер процесса.
package logger

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Init настраивает уровень и формат ("json" или "text").
// Неизвестный уровень понижается до info.
func Init(level, format string) {
	l := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	Log = l
}

// L возвращает логгер. До Init записи отбрасываются, поэтому тестам настройка не нужна.
func L() *logrus.Logger {
	if Log == nil {
		return discard
	}
	return Log
}
