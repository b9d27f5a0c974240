package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	envLogFormat = "NODEFLOW_LOG_FORMAT"
	envLogColor  = "NODEFLOW_LOG_COLOR"
)

var (
	logFormatOnce sync.Once
	logAsJSON     bool
	logColored    bool

	errorTag = color.New(color.FgRed, color.Bold).SprintFunc()
)

// Info logs a message with key/value fields using a consistent prefix.
func Info(component, msg string, kv ...interface{}) {
	emit("INFO", component, msg, kv...)
}

// Error logs an error message with key/value fields using a consistent prefix.
func Error(component, msg string, kv ...interface{}) {
	emit("ERROR", component, msg, kv...)
}

func emit(level, component, msg string, kv ...interface{}) {
	logFormatOnce.Do(loadFormat)
	if logAsJSON {
		log.Print(formatJSON(level, component, msg, kv...))
		return
	}
	prefix := "[" + strings.ToUpper(component) + "]"
	if level == "ERROR" {
		tag := "ERROR"
		if logColored {
			tag = errorTag(tag)
		}
		log.Printf("%s %s %s%s", prefix, tag, msg, formatFields(kv...))
		return
	}
	log.Printf("%s %s%s", prefix, msg, formatFields(kv...))
}

func loadFormat() {
	logAsJSON = strings.EqualFold(strings.TrimSpace(os.Getenv(envLogFormat)), "json")
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envLogColor))) {
	case "1", "true", "yes", "on":
		logColored = !color.NoColor
	}
}

func formatJSON(level, component, msg string, kv ...interface{}) string {
	payload := map[string]any{
		"time":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"component": component,
		"msg":       msg,
	}
	if len(kv)%2 != 0 {
		kv = append(kv, "(missing)")
	}
	for i := 0; i < len(kv); i += 2 {
		key := strings.TrimSpace(toString(kv[i]))
		switch key {
		case "", "time", "level", "component", "msg":
			key = "field_" + key
		}
		val := kv[i+1]
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		payload[key] = val
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"level":%q,"component":%q,"msg":%q}`, level, component, msg)
	}
	return string(data)
}

// formatFields renders kv as " k=v k2=v2". Values with spaces, quotes or
// "=" are quoted so a line stays splittable on whitespace.
func formatFields(kv ...interface{}) string {
	if len(kv)%2 != 0 {
		kv = append(kv, "(missing)")
	}
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		val := toString(kv[i+1])
		if strings.ContainsAny(val, " =\"") {
			val = strconv.Quote(val)
		}
		fmt.Fprintf(&b, " %s=%s", strings.TrimSpace(toString(kv[i])), val)
	}
	return b.String()
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	}
	return strings.Join(strings.Fields(fmt.Sprint(v)), " ")
}
