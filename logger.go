package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var logFile *os.File

// SetupLogger 日志写到文件，文件打不开时写到stderr
func SetupLogger(path string, level string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logrus.SetLevel(lvl)
	}
	if path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			logFile = file
			logrus.SetOutput(file)
			logrus.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
			return
		}
		logrus.Warnf("open log file %s fail, err = %v", path, err)
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:   term.IsTerminal(int(os.Stderr.Fd())),
		FullTimestamp: true,
	})
}

func CloseLogger() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
