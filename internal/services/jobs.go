package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// StartPeriodic runs fn immediately and then on every tick until the
// returned stop function is called. Run errors are logged, never fatal: a
// failed cycle waits for the next tick.
func StartPeriodic(ctx context.Context, name string, interval time.Duration, logger *logrus.Logger, fn func(ctx context.Context) error) func() {
	jobCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		if err := fn(jobCtx); err != nil && jobCtx.Err() == nil {
			logger.WithField("job", name).WithError(err).Warn("Job run failed")
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				if err := fn(jobCtx); err != nil && jobCtx.Err() == nil {
					logger.WithField("job", name).WithError(err).Warn("Job run failed")
				}
			}
		}
	}()

	logger.WithFields(logrus.Fields{
		"job":      name,
		"interval": interval.String(),
	}).Info("Periodic job started")

	return func() {
		cancel()
		<-done
		logger.WithField("job", name).Info("Periodic job stopped")
	}
}
