package ratelimit

import (
	"time"

	"github.com/rs/zerolog"
)

const DefaultCleanupInterval = 5 * time.Minute

// Janitor periodically purges expired entries from a Limiter, which has
// no timer of its own.
type Janitor struct {
	limiter  *Limiter
	interval time.Duration
	logger   zerolog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

func NewJanitor(limiter *Limiter, interval time.Duration, logger zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &Janitor{
		limiter:  limiter,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	go j.loop()
	j.logger.Info().Dur("interval", j.interval).Msg("rate limit janitor started")
}

// Stop is safe to call more than once; it returns after the loop exits.
func (j *Janitor) Stop() {
	select {
	case <-j.stopChan:
	default:
		close(j.stopChan)
	}
	<-j.done
}

func (j *Janitor) loop() {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			before := j.limiter.Keys()
			j.limiter.Cleanup()
			j.logger.Debug().
				Int("keys_before", before).
				Int("keys_after", j.limiter.Keys()).
				Msg("rate limit cleanup")
		}
	}
}
