package main

import (
	"io"
	"log"
	"os"

	jww "github.com/spf13/jwalterweatherman"
)

// InitLog sets the log threshold and, when logPath is set, sends logs to
// that file instead of stdout.
func InitLog(debug bool, logPath string) {
	if logPath != "" && logPath != "-" {
		logOutput, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			jww.ERROR.Printf("Opening log file %s: %v", logPath, err)
		} else {
			jww.SetStdoutOutput(io.Discard)
			jww.SetLogOutput(logOutput)
		}
	}

	if debug {
		jww.SetStdoutThreshold(jww.LevelDebug)
		jww.SetLogThreshold(jww.LevelDebug)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
		jww.INFO.Printf("log level set to: DEBUG")
		return
	}
	jww.SetStdoutThreshold(jww.LevelInfo)
	jww.SetLogThreshold(jww.LevelInfo)
	jww.INFO.Printf("log level set to: INFO")
}
