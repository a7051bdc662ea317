package logflags

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type bufferWriter struct {
	bytes.Buffer
}

func (bw *bufferWriter) Close() error {
	return nil
}

func resetFlags() {
	memory, walker, core, minidump, terminal = false, false, false, false, false
}

func TestMakeLoggerUsesFactory(t *testing.T) {
	require.Nil(t, loggerFactory)
	defer func() { loggerFactory = nil }()
	logOut = &bufferWriter{}
	defer func() { logOut = nil }()

	expected := &logrusLogger{}
	SetLoggerFactory(func(level logrus.Level, fields Fields, out io.Writer) Logger {
		require.Equal(t, logrus.TraceLevel, level)
		require.Equal(t, Fields{"layer": "memory"}, fields)
		require.Equal(t, logOut, out)
		return expected
	})

	require.Same(t, expected, makeLogger(logrus.TraceLevel, Fields{"layer": "memory"}))
}

func TestMakeFlaggableLogger(t *testing.T) {
	off := makeFlaggableLogger(false, Fields{"layer": "walker"}).(*logrusLogger)
	require.Equal(t, logrus.ErrorLevel, off.Entry.Logger.Level)
	require.Equal(t, "walker", off.Entry.Data["layer"])

	on := makeFlaggableLogger(true, Fields{"layer": "walker"}).(*logrusLogger)
	require.Equal(t, logrus.DebugLevel, on.Entry.Logger.Level)
	require.Same(t, textFormatterInstance, on.Entry.Logger.Formatter)
}

func TestSetupLayers(t *testing.T) {
	defer resetFlags()

	require.Equal(t, errLogstrWithoutLog, Setup(false, "memory", ""))

	require.NoError(t, Setup(true, "memory,minidump", ""))
	require.True(t, Memory())
	require.True(t, Minidump())
	require.False(t, Walker())
	require.False(t, Core())

	resetFlags()
	require.NoError(t, Setup(true, "", ""))
	require.True(t, Walker(), "walker is the default layer")
}

func TestTextFormatter(t *testing.T) {
	out := &bufferWriter{}
	logOut = out
	defer func() { logOut = nil }()

	l := makeLogger(logrus.DebugLevel, Fields{"layer": "memory"})
	l.WithField("addr", "0x10").Debugf("read failed")

	line := out.String()
	require.True(t, strings.HasSuffix(line, "\n"))
	require.Contains(t, line, "debug memory: read failed")
	require.Contains(t, line, "addr=0x10")
}
