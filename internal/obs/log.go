package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

const serviceName = "amana-api"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line logger all structured output goes through.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one JSON line per HTTP request, stamped with the service
// name so mixed log streams stay attributable.
func LogRequest(entry map[string]any) {
	if entry == nil {
		entry = map[string]any{}
	}
	entry["service"] = serviceName
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Printf(`{"service":%q,"level":"error","msg":"log marshal failed"}`, serviceName)
		return
	}
	Logger().Println(string(data))
}
