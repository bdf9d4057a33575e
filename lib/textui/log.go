// Copyright (C) 2019-2022  Ambassador Labs
// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: Apache-2.0
//
// Contains code based on:
// https://github.com/datawire/dlib/blob/b09ab2e017e16d261f05fff5b3b860d645e774d4/dlog/logger_logrus.go
// https://github.com/datawire/dlib/blob/b09ab2e017e16d261f05fff5b3b860d645e774d4/dlog/logger_testing.go
// https://github.com/telepresenceio/telepresence/blob/ece94a40b00a90722af36b12e40f91cbecc0550c/pkg/log/formatter.go

package textui

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"git.lukeshu.com/go/typedsync"
	"github.com/datawire/dlib/dlog"
	"github.com/spf13/pflag"
)

var logLevels = []struct {
	Name  string
	Tag   string
	Level dlog.LogLevel
}{
	{"error", "ERR", dlog.LogLevelError},
	{"warn", "WRN", dlog.LogLevelWarn},
	{"info", "INF", dlog.LogLevelInfo},
	{"debug", "DBG", dlog.LogLevelDebug},
	{"trace", "TRC", dlog.LogLevelTrace},
}

type LogLevelFlag struct {
	Level dlog.LogLevel
}

var _ pflag.Value = (*LogLevelFlag)(nil)

// Type implements pflag.Value.
func (lvl *LogLevelFlag) Type() string { return "loglevel" }

// Set implements pflag.Value.
func (lvl *LogLevelFlag) Set(str string) error {
	str = strings.ToLower(str)
	if str == "warning" {
		str = "warn"
	}
	for _, l := range logLevels {
		if l.Name == str {
			lvl.Level = l.Level
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %q", str)
}

// String implements pflag.Value.
func (lvl *LogLevelFlag) String() string {
	for _, l := range logLevels {
		if l.Level == lvl.Level {
			return l.Name
		}
	}
	panic(fmt.Errorf("invalid log level: %#v", lvl.Level))
}

// logger is a dlog.Logger that writes one line per message:
//
//	TIME LVL early-fields : message : late-fields (from file:line)
//
// Which fields go before the message is decided by fieldOrd.
type logger struct {
	parent *logger
	out    io.Writer
	lvl    dlog.LogLevel

	// only valid if parent is non-nil
	fieldKey string
	fieldVal any
}

var _ dlog.OptimizedLogger = (*logger)(nil)

func NewLogger(out io.Writer, lvl dlog.LogLevel) dlog.Logger {
	return &logger{
		out: out,
		lvl: lvl,
	}
}

// Helper implements dlog.Logger.
func (l *logger) Helper() {}

// WithField implements dlog.Logger.
func (l *logger) WithField(key string, value any) dlog.Logger {
	return &logger{
		parent: l,
		out:    l.out,
		lvl:    l.lvl,

		fieldKey: key,
		fieldVal: value,
	}
}

type logWriter struct {
	log *logger
	lvl dlog.LogLevel
}

// Write implements io.Writer.
func (lw logWriter) Write(data []byte) (int, error) {
	lw.log.log(lw.lvl, func(w io.Writer) {
		_, _ = w.Write(data)
	})
	return len(data), nil
}

// StdLogger implements dlog.Logger.
func (l *logger) StdLogger(lvl dlog.LogLevel) *log.Logger {
	return log.New(logWriter{log: l, lvl: lvl}, "", 0)
}

// Log implements dlog.Logger.
func (l *logger) Log(lvl dlog.LogLevel, msg string) {
	panic("should not happen: optimized log methods should be used instead")
}

// UnformattedLog implements dlog.OptimizedLogger.
func (l *logger) UnformattedLog(lvl dlog.LogLevel, args ...any) {
	l.log(lvl, func(w io.Writer) {
		_, _ = printer.Fprint(w, args...)
	})
}

// UnformattedLogln implements dlog.OptimizedLogger.
func (l *logger) UnformattedLogln(lvl dlog.LogLevel, args ...any) {
	l.log(lvl, func(w io.Writer) {
		_, _ = printer.Fprintln(w, args...)
	})
}

// UnformattedLogf implements dlog.OptimizedLogger.
func (l *logger) UnformattedLogf(lvl dlog.LogLevel, format string, args ...any) {
	l.log(lvl, func(w io.Writer) {
		_, _ = printer.Fprintf(w, format, args...)
	})
}

var (
	logBufPool = typedsync.Pool[*bytes.Buffer]{
		New: func() *bytes.Buffer {
			return new(bytes.Buffer)
		},
	}
	logMu      sync.Mutex
	thisModDir string
)

func init() {
	//nolint:dogsled // I can't change the signature of the stdlib.
	_, file, _, _ := runtime.Caller(0)
	thisModDir = filepath.Dir(filepath.Dir(filepath.Dir(file)))
}

type logField struct {
	Key string
	Val any
}

// fields returns the logger's fields, innermost value winning,
// split into those that go before and after the message.
func (l *logger) fields() (early, late []logField) {
	seen := make(map[string]struct{})
	var all []logField
	for f := l; f.parent != nil; f = f.parent {
		if _, dup := seen[f.fieldKey]; dup {
			continue
		}
		seen[f.fieldKey] = struct{}{}
		all = append(all, logField{Key: f.fieldKey, Val: f.fieldVal})
	}
	sort.Slice(all, func(i, j int) bool {
		iOrd, jOrd := fieldOrd(all[i].Key), fieldOrd(all[j].Key)
		if iOrd != jOrd {
			return iOrd < jOrd
		}
		return all[i].Key < all[j].Key
	})
	split := sort.Search(len(all), func(i int) bool {
		return fieldOrd(all[i].Key) >= 0
	})
	return all[:split], all[split:]
}

// caller returns "file:line" of the innermost caller that is in this
// module but outside of this package, or "".
func caller() string {
	const (
		thisModule  = "git.lukeshu.com/ldm-progs-ng"
		thisPackage = "git.lukeshu.com/ldm-progs-ng/lib/textui"
		maxDepth    = 25
	)
	var pcs [maxDepth]uintptr
	depth := runtime.Callers(3, pcs[:]) // runtime.Callers + caller + .log
	frames := runtime.CallersFrames(pcs[:depth])
	for f, again := frames.Next(); again; f, again = frames.Next() {
		if !strings.HasPrefix(f.Function, thisModule+"/") || strings.HasPrefix(f.Function, thisPackage+".") {
			continue
		}
		file := f.File[strings.LastIndex(f.File, thisModDir+"/")+len(thisModDir+"/"):]
		return file + ":" + strconv.Itoa(f.Line)
	}
	return ""
}

func (l *logger) log(lvl dlog.LogLevel, writeMsg func(io.Writer)) {
	if lvl > l.lvl {
		return
	}
	buf, _ := logBufPool.Get()
	defer logBufPool.Put(buf)
	defer buf.Reset()

	buf.WriteString(time.Now().Format("2006-01-02 15:04:05.0000"))
	for _, ll := range logLevels {
		if ll.Level == lvl {
			buf.WriteString(" " + ll.Tag)
		}
	}

	early, late := l.fields()
	for _, f := range early {
		writeField(buf, f.Key, f.Val)
	}
	buf.WriteString(" : ")
	writeMsg(buf)

	from := caller()
	if len(late) > 0 || from != "" {
		buf.WriteString(" :")
	}
	for _, f := range late {
		writeField(buf, f.Key, f.Val)
	}
	if from != "" {
		fmt.Fprintf(buf, " (from %s)", from)
	}
	buf.WriteByte('\n')

	logMu.Lock()
	_, _ = l.out.Write(buf.Bytes())
	logMu.Unlock()
}

// fieldOrd returns the sort-position for a given log-field-key.
// Fields with negative positions go to the left of the message,
// the rest to the right.
func fieldOrd(key string) int {
	switch key {
	case "THREAD": // dgroup
		return -99
	case "ldm.disk":
		return -10
	case "ldm.dg":
		return -9
	case "ldm.volume":
		return -8
	default:
		return 1
	}
}

func writeField(w io.Writer, key string, val any) {
	valStr := printer.Sprint(val)
	if strings.HasPrefix(valStr, `"`) || strings.IndexFunc(valStr, func(r rune) bool {
		return r == ' ' || !unicode.IsPrint(r)
	}) >= 0 {
		valStr = strconv.Quote(valStr)
	}

	switch {
	case key == "THREAD":
		switch {
		case valStr == "" || valStr == "/main":
			return
		case strings.HasPrefix(valStr, "/main/"):
			valStr = valStr[len("/main/"):]
		default:
			valStr = strings.TrimPrefix(valStr, "/")
		}
		key = "thread"
	case strings.HasPrefix(key, "ldm."):
		key = strings.TrimPrefix(key, "ldm.")
	}

	fmt.Fprintf(w, " %s=%s", key, valStr)
}
