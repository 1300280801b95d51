package reactor

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Log categories, used as structured fields and as rate limiter keys.
const (
	logCategoryTask     = "task"
	logCategoryWake     = "wake"
	logCategoryPoll     = "poll"
	logCategoryClose    = "close"
	logCategoryShutdown = "shutdown"
)

// NewJSONLogger returns a logger that writes one JSON object per line to w,
// suitable for [WithLogger].
func NewJSONLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

func defaultLogRates() map[time.Duration]int {
	return map[time.Duration]int{
		time.Second: 10,
		time.Minute: 100,
	}
}

// loopLogger couples the configured logger with a per-category limiter, so
// that a hot failure (e.g. a task that always panics) cannot flood the sink.
type loopLogger struct {
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
	loopID  uint64
}

func newLoopLogger(logger *logiface.Logger[logiface.Event], rates map[time.Duration]int, loopID uint64) (x *loopLogger, err error) {
	x = &loopLogger{logger: logger, loopID: loopID}
	if logger == nil || len(rates) == 0 {
		return x, nil
	}
	defer func() {
		if r := recover(); r != nil {
			x, err = nil, fmt.Errorf("reactor: invalid log rates: %v", r)
		}
	}()
	x.limiter = catrate.NewLimiter(rates)
	return x, nil
}

// allow reports whether an event in category may be logged now.
func (x *loopLogger) allow(category string) bool {
	_, ok := x.limiter.Allow(category)
	return ok
}

// debug starts a debug-level event tagged with category. The result is nil
// (and safe to chain) when logging is disabled.
func (x *loopLogger) debug(category string) *logiface.Builder[logiface.Event] {
	return x.logger.Debug().
		Str("category", category).
		Uint64("loop", x.loopID)
}

// logError logs err at error level, subject to rate limiting.
func (x *loopLogger) logError(category, msg string, err error) {
	if x == nil || x.logger == nil || !x.allow(category) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: reactor: logger panicked: %v (original: %s: %v)", r, msg, err)
		}
	}()
	x.logger.Err().
		Str("category", category).
		Uint64("loop", x.loopID).
		Err(err).
		Log(msg)
}
