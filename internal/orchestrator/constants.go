package orchestrator

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Timeout constants for the integration pipeline
var (
	// WorkItemTimeout bounds the handling of a single pull request per
	// poll cycle, including readiness evaluation and command dispatch
	WorkItemTimeout = getTimeoutOrDefault("WORK_ITEM_TIMEOUT", 10*time.Minute, 5*time.Second)
	// FinalizeTimeout bounds a full integration attempt (rebase, commit,
	// audit record, push, bookkeeping)
	FinalizeTimeout = getTimeoutOrDefault("FINALIZE_TIMEOUT", 30*time.Minute, 10*time.Second)
	// DefaultRetryCount is the standard number of retries for forge and
	// VCS operations
	DefaultRetryCount = uint64(getRetryCountOrDefault("RETRY_COUNT", 3, 1))
	// DefaultRetryDelay is the initial delay for exponential backoff
	DefaultRetryDelay = getTimeoutOrDefault("RETRY_DELAY", 1*time.Second, 100*time.Millisecond)
)

// isTestEnvironment detects if we're running in a test environment
func isTestEnvironment() bool {
	for _, arg := range os.Args {
		if strings.Contains(arg, ".test") || strings.Contains(arg, "go test") {
			return true
		}
	}
	return os.Getenv("GO_TEST") == "true" || os.Getenv("TEST_MODE") == "true"
}

// getTimeoutOrDefault returns production timeout or test timeout based on environment
func getTimeoutOrDefault(envVar string, prodDefault, testDefault time.Duration) time.Duration {
	if env := os.Getenv(envVar); env != "" {
		if duration, err := time.ParseDuration(env); err == nil {
			return duration
		}
	}
	if isTestEnvironment() {
		return testDefault
	}
	return prodDefault
}

// getRetryCountOrDefault returns production retry count or test retry count based on environment
func getRetryCountOrDefault(envVar string, prodDefault, testDefault int) int {
	if env := os.Getenv(envVar); env != "" {
		if count, err := strconv.Atoi(env); err == nil {
			return count
		}
	}
	if isTestEnvironment() {
		return testDefault
	}
	return prodDefault
}
