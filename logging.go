package main

import (
	"log"
	"strings"
)

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

var logLevels = map[string]int{
	"debug": levelDebug,
	"info":  levelInfo,
	"warn":  levelWarn,
	"error": levelError,
}

// current log threshold, set once at startup
var logLevel = levelInfo

// setLogLevel sets the threshold from a config value, keeping info for unknown names
func setLogLevel(name string) {
	if lvl, ok := logLevels[name]; ok {
		logLevel = lvl
	}
}

func debugf(format string, args ...interface{}) {
	if logLevel <= levelDebug {
		log.Printf(format, args...)
	}
}

func infof(format string, args ...interface{}) {
	if logLevel <= levelInfo {
		log.Printf(format, args...)
	}
}

func warnf(format string, args ...interface{}) {
	if logLevel <= levelWarn {
		log.Printf("Warning: "+format, args...)
	}
}

// tunerLog is the tuner's log sink. Per-sample detail goes to debug, state
// changes and results to info.
func tunerLog(line string) {
	switch {
	case strings.HasPrefix(line, "input:"),
		strings.HasPrefix(line, "amplitude"),
		strings.HasPrefix(line, "peak count:"):
		debugf("autotune: %s", line)
	default:
		infof("autotune: %s", line)
	}
}
