package crawler

import (
	"fmt"
	"sync"
	"time"

	"policywatch/internal/logger"
	"policywatch/pkg/utils"
)

// maxLoggedErrorRunes caps error text in per-URL debug lines.
const maxLoggedErrorRunes = 200

// AttemptResult records the result of a URL fetch attempt.
type AttemptResult struct {
	Timestamp  time.Time
	URL        string
	Error      string
	Attempt    int
	Duration   time.Duration
	StatusCode int
	Success    bool
}

// AttemptLog keeps every fetch attempt per URL. It is safe for concurrent use.
type AttemptLog struct {
	results map[string][]AttemptResult
	order   []string
	mu      sync.Mutex
}

// NewAttemptLog creates an empty attempt log.
func NewAttemptLog() *AttemptLog {
	return &AttemptLog{results: make(map[string][]AttemptResult)}
}

// Record records the result of a fetch attempt.
func (l *AttemptLog) Record(url string, success bool, err error, statusCode int, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.results[url]; !ok {
		l.order = append(l.order, url)
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	l.results[url] = append(l.results[url], AttemptResult{
		URL:        url,
		Attempt:    len(l.results[url]) + 1,
		Success:    success,
		Error:      errMsg,
		Timestamp:  time.Now(),
		Duration:   duration,
		StatusCode: statusCode,
	})
}

// Get returns a copy of the attempts made for a URL.
func (l *AttemptLog) Get(url string) []AttemptResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]AttemptResult(nil), l.results[url]...)
}

// Stats returns statistics about fetch attempts.
func (l *AttemptLog) Stats() AttemptStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := AttemptStats{
		TotalURLs:   len(l.results),
		URLAttempts: make(map[string]int, len(l.results)),
	}

	for url, results := range l.results {
		stats.URLAttempts[url] = len(results)
		stats.TotalAttempts += len(results)

		urlSuccess := false

		for _, result := range results {
			if result.Success {
				stats.SuccessfulAttempts++
				urlSuccess = true
			} else {
				stats.FailedAttempts++
			}
		}

		if urlSuccess {
			stats.SuccessfulURLs++
		} else {
			stats.FailedURLs++
		}
	}

	return stats
}

// AttemptStats contains statistics about fetch attempts.
type AttemptStats struct {
	URLAttempts        map[string]int
	TotalURLs          int
	SuccessfulURLs     int
	FailedURLs         int
	TotalAttempts      int
	SuccessfulAttempts int
	FailedAttempts     int
}

// String returns a string representation of attempt stats.
func (s AttemptStats) String() string {
	return fmt.Sprintf(
		"URLs: %d total, %d success, %d failed | Attempts: %d total, %d success, %d failed",
		s.TotalURLs,
		s.SuccessfulURLs,
		s.FailedURLs,
		s.TotalAttempts,
		s.SuccessfulAttempts,
		s.FailedAttempts,
	)
}

// LogSummary logs one line per URL in first-attempt order, then the totals.
// It logs nothing when no fetch was attempted.
func (l *AttemptLog) LogSummary(log *logger.Logger) {
	l.mu.Lock()
	order := append([]string(nil), l.order...)
	l.mu.Unlock()

	if len(order) == 0 {
		return
	}

	strs := utils.NewStringHelper()

	for _, url := range order {
		results := l.Get(url)
		last := results[len(results)-1]

		log.Debug("fetch attempts",
			"url", url,
			"attempts", len(results),
			"success", last.Success,
			"status", last.StatusCode,
			"last_error", strs.TruncateString(last.Error, maxLoggedErrorRunes),
		)
	}

	log.Info("fetch summary", "stats", l.Stats().String())
}
