package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

const serviceName = "famvault-api"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared JSON-lines logger. Tests swap its output with
// SetOutput.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest writes entry as one JSON line. ts and service are filled in
// when the caller left them out.
func LogRequest(entry map[string]any) {
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := entry["service"]; !ok {
		entry["service"] = serviceName
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed","service":"` + serviceName + `"}`)
		return
	}
	Logger().Println(string(data))
}

// Log emits a leveled line with extra fields merged in.
func Log(level, msg string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["level"] = level
	entry["msg"] = msg
	LogRequest(entry)
}
