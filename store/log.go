package store

import (
	"fmt"
	"log"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LogLevel is the severity of a log line, a subset of the classic
// syslog levels. Lines above CurrentLogLevel are suppressed.
type LogLevel byte

// Log levels in syslog order, most severe first.
const (
	LogLevelEmergency LogLevel = iota
	LogLevelAlert
	LogLevelCritical
	LogLevelError // can't be suppressed
	LogLevelWarning
	LogLevelNotice // the default level
	LogLevelInfo   // per object operations
	LogLevelDebug
)

var logLevelNames = []string{
	"EMERGENCY",
	"ALERT",
	"CRITICAL",
	"ERROR",
	"WARNING",
	"NOTICE",
	"INFO",
	"DEBUG",
}

var logLevelByName = map[string]LogLevel{}

func init() {
	for n, name := range logLevelNames {
		logLevelByName[name] = LogLevel(n)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.999999-07:00",
	})
	logrus.SetLevel(logrus.DebugLevel)
}

// String turns a LogLevel into a string
func (l LogLevel) String() string {
	if int(l) >= len(logLevelNames) {
		return fmt.Sprintf("LogLevel(%d)", l)
	}
	return logLevelNames[l]
}

// Set a LogLevel from its name
func (l *LogLevel) Set(s string) error {
	level, ok := logLevelByName[s]
	if !ok {
		return errors.Errorf("unknown log level %q", s)
	}
	*l = level
	return nil
}

// Type of the value
func (l *LogLevel) Type() string {
	return "string"
}

// UnmarshalJSON makes sure the value can be parsed as a string or integer in JSON
func (l *LogLevel) UnmarshalJSON(in []byte) error {
	return UnmarshalJSONFlag(in, l, func(i int64) error {
		if i < 0 || i >= int64(len(logLevelNames)) {
			return errors.Errorf("unknown log level %d", i)
		}
		*l = LogLevel(i)
		return nil
	})
}

var (
	// CurrentLogLevel is the level below which log lines are
	// suppressed. Defaults to Notice.
	CurrentLogLevel = LogLevelNotice

	// UseJSONLog switches output to structured JSON via logrus.
	UseJSONLog = false
)

// LogPrint sends the text to the logger of level
var LogPrint = func(level LogLevel, text string) {
	_ = log.Output(4, fmt.Sprintf("%-6s: %s", level, text))
}

// LogValueItem describes keyed item for a JSON log entry
type LogValueItem struct {
	key    string
	value  interface{}
	render bool
}

// LogValue makes a keyed item to pass as a logging argument. In JSON
// mode the item lands in the entry under key, in text mode it renders
// as its value.
func LogValue(key string, value interface{}) LogValueItem {
	return LogValueItem{key: key, value: value, render: true}
}

// LogValueHide is like LogValue except that the item renders as an
// empty string in text mode, so it only shows up in the JSON output.
func LogValueHide(key string, value interface{}) LogValueItem {
	return LogValueItem{key: key, value: value, render: false}
}

// String renders the item's value, or nothing for hidden items.
func (j LogValueItem) String() string {
	if !j.render {
		return ""
	}
	if do, ok := j.value.(fmt.Stringer); ok {
		return do.String()
	}
	return fmt.Sprint(j.value)
}

// logrusLevels maps each LogLevel to the logrus level JSON entries are
// emitted at.
var logrusLevels = []logrus.Level{
	LogLevelEmergency: logrus.PanicLevel,
	LogLevelAlert:     logrus.PanicLevel,
	LogLevelCritical:  logrus.FatalLevel,
	LogLevelError:     logrus.ErrorLevel,
	LogLevelWarning:   logrus.WarnLevel,
	LogLevelNotice:    logrus.WarnLevel,
	LogLevelInfo:      logrus.InfoLevel,
	LogLevelDebug:     logrus.DebugLevel,
}

// jsonFields collects the structured fields of a log call: the object
// being logged about and any LogValueItem arguments.
func jsonFields(o interface{}, args []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(args)+2)
	if o != nil {
		fields["object"] = fmt.Sprintf("%+v", o)
		fields["objectType"] = fmt.Sprintf("%T", o)
	}
	for _, arg := range args {
		if item, ok := arg.(LogValueItem); ok {
			fields[item.key] = item.value
		}
	}
	return fields
}

// LogPrintf produces a log string from the arguments passed in
func LogPrintf(level LogLevel, o interface{}, text string, args ...interface{}) {
	out := fmt.Sprintf(text, args...)
	if UseJSONLog {
		logrus.WithFields(jsonFields(o, args)).Log(logrusLevels[level], out)
		return
	}
	if o != nil {
		out = fmt.Sprintf("%v: %s", o, out)
	}
	LogPrint(level, out)
}

// logIf writes a log line when level is within CurrentLogLevel.
func logIf(level LogLevel, o interface{}, text string, args []interface{}) {
	if CurrentLogLevel >= level {
		LogPrintf(level, o, text, args...)
	}
}

// Errorf writes error log output for this Object or Backend. It
// should always be seen by the user.
func Errorf(o interface{}, text string, args ...interface{}) {
	logIf(LogLevelError, o, text, args)
}

// Logf writes log output for this Object or Backend. This is Notice
// level logging, the default level, so only use it for things the
// operator should see.
func Logf(o interface{}, text string, args ...interface{}) {
	logIf(LogLevelNotice, o, text, args)
}

// Infof writes info on per object operations for this Object or
// Backend.
func Infof(o interface{}, text string, args ...interface{}) {
	logIf(LogLevelInfo, o, text, args)
}

// Debugf writes debugging output for this Object or Backend.
func Debugf(o interface{}, text string, args ...interface{}) {
	logIf(LogLevelDebug, o, text, args)
}
