package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var memory = false
var walker = false
var core = false
var minidump = false
var terminal = false

var logOut io.WriteCloser

type bytesBuffer = bytes.Buffer

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// Memory returns true if memory reads, and in particular read failures,
// should be logged.
func Memory() bool {
	return memory
}

// MemoryLogger returns a logger for the memory access layer.
func MemoryLogger() Logger {
	return makeFlaggableLogger(memory, Fields{"layer": "memory"})
}

// Walker returns true if container traversals should be logged.
func Walker() bool {
	return walker
}

// WalkerLogger returns a logger for the container walkers.
func WalkerLogger() Logger {
	return makeFlaggableLogger(walker, Fields{"layer": "walker"})
}

// Core returns true if the loading of memory sources should be logged.
func Core() bool {
	return core
}

// CoreLogger returns a logger for the memory source loaders.
func CoreLogger() Logger {
	return makeFlaggableLogger(core, Fields{"layer": "core"})
}

// Minidump returns true if the minidump loader should be logged.
func Minidump() bool {
	return minidump
}

// MinidumpLogger returns a logger for the minidump parser.
func MinidumpLogger() Logger {
	return makeFlaggableLogger(minidump, Fields{"layer": "core", "kind": "minidump"})
}

// Terminal returns true if the terminal should log the commands it runs.
func Terminal() bool {
	return terminal
}

// TerminalLogger returns a logger for the terminal.
func TerminalLogger() Logger {
	return makeFlaggableLogger(terminal, Fields{"layer": "terminal"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "ndbg-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "walker"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "memory":
			memory = true
		case "walker":
			walker = true
		case "core":
			core = true
		case "minidump":
			minidump = true
		case "terminal":
			terminal = true
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
