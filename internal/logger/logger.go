package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup настраивает logrus: уровень, формат и, если задан файл, ротацию через lumberjack
func Setup(level, format, file string) {
	var out io.Writer = os.Stdout
	if file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // мегабайты
			MaxBackups: 7,
			MaxAge:     7, // дни
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
	}
	logrus.SetOutput(out)

	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
		logrus.WithField("level", level).Warn("Неизвестный уровень логирования, используем info")
	}
	logrus.SetLevel(lvl)
}
