package main

import (
	"context"
	"time"

	"code.kerpass.org/sessions/internal/observability"
	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/session"
)

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const errGCFailed = errorFlag("session-gc: collection failed")

// Error implements the error interface.
func (self errorFlag) Error() string {
	return string(self)
}

// Collector runs the Adapter garbage collection.
type Collector struct {
	Adapter session.Adapter
	MaxAge  time.Duration
	Every   time.Duration
}

// Run collects once when Every is 0, otherwise it collects every interval until ctx is done.
// A single collection errors if the Adapter reports a failure.
func (self *Collector) Run(ctx context.Context) error {
	ok := self.collect(ctx)
	if 0 == self.Every {
		if !ok {
			return utils.NewError(0, errGCFailed, "max age %s", self.MaxAge)
		}
		return nil
	}

	ticker := time.NewTicker(self.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			self.collect(ctx)
		}
	}
}

func (self *Collector) collect(ctx context.Context) bool {
	log := observability.Log(ctx)
	count, ok := self.Adapter.GC(ctx, self.MaxAge)
	if !ok {
		log.Warn("session collection failed", "max_age", self.MaxAge)
		return false
	}
	log.Info("session collection done", "removed", count, "max_age", self.MaxAge)

	return true
}
