// Line-oriented logging. Request and debug output are gated by the
// LOG_REQUESTS / LOG_DEBUG environment variables; everything goes to
// stdout with a timestamp prefix.

package main

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

var logMutex sync.Mutex

var logRequestsEnabled = os.Getenv("LOG_REQUESTS") != "NO"
var logDebugEnabled = os.Getenv("LOG_DEBUG") == "YES"

func LogLine(line string) {
	logMutex.Lock()
	defer logMutex.Unlock()
	fmt.Printf("[%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), line)
}

func LogWarning(line string) {
	LogLine("[WARNING] " + line)
}

func LogInfo(line string) {
	LogLine("[INFO] " + line)
}

func LogError(err error) {
	LogLine("[ERROR] " + err.Error())
}

func LogErrorMessage(msg string) {
	LogLine("[ERROR] " + msg)
}

// sessionPrefix tags a line with the session id and peer address.
func sessionPrefix(sessionId uint64, ip string) string {
	return "#" + strconv.FormatUint(sessionId, 10) + " (" + ip + ") "
}

func LogRequest(sessionId uint64, ip string, line string) {
	if logRequestsEnabled {
		LogLine("[REQUEST] " + sessionPrefix(sessionId, ip) + line)
	}
}

func LogDebug(line string) {
	if logDebugEnabled {
		LogLine("[DEBUG] " + line)
	}
}

func LogDebugSession(sessionId uint64, ip string, line string) {
	if logDebugEnabled {
		LogLine("[DEBUG] " + sessionPrefix(sessionId, ip) + line)
	}
}
