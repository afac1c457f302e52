// Package metrics provides a session.Adapter wrapper that records Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"code.kerpass.org/sessions/pkg/session"
)

const namespace = "kerpass_session"

// Collectors holds the metrics shared by instrumented Adapters.
type Collectors struct {
	Ops      *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Removed  *prometheus.CounterVec
}

// NewCollectors creates Collectors and registers them in reg.
func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Session storage operations by backend, operation and result.",
		}, []string{"backend", "op", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Session storage operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "op"}),
		Removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_removed_total",
			Help:      "Session records removed by garbage collection.",
		}, []string{"backend"}),
	}
	for _, col := range []prometheus.Collector{c.Ops, c.Duration, c.Removed} {
		if err := reg.Register(col); nil != err {
			return nil, err
		}
	}

	return c, nil
}

// Adapter is a session.Adapter that records metrics for each operation of the wrapped Adapter.
type Adapter struct {
	session.Adapter
	backend string
	col     *Collectors
}

// Wrap returns an Adapter instrumenting a, backend labels the recorded metrics.
func Wrap(a session.Adapter, backend string, col *Collectors) *Adapter {
	return &Adapter{Adapter: a, backend: backend, col: col}
}

func (self *Adapter) observe(op string, start time.Time, result string) {
	self.col.Duration.WithLabelValues(self.backend, op).Observe(time.Since(start).Seconds())
	self.col.Ops.WithLabelValues(self.backend, op, result).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func (self *Adapter) Read(ctx context.Context, id string) ([]byte, error) {
	start := time.Now()
	data, err := self.Adapter.Read(ctx, id)
	res := "ok"
	switch {
	case errors.Is(err, session.ErrNotFound):
		res = "notfound"
	case nil != err:
		res = "failed"
	}
	self.observe("read", start, res)

	return data, err
}

func (self *Adapter) Write(ctx context.Context, id string, data []byte) bool {
	start := time.Now()
	ok := self.Adapter.Write(ctx, id, data)
	self.observe("write", start, result(ok))

	return ok
}

func (self *Adapter) Destroy(ctx context.Context, id string) bool {
	start := time.Now()
	ok := self.Adapter.Destroy(ctx, id)
	self.observe("destroy", start, result(ok))

	return ok
}

func (self *Adapter) GC(ctx context.Context, maxAge time.Duration) (int, bool) {
	start := time.Now()
	count, ok := self.Adapter.GC(ctx, maxAge)
	self.observe("gc", start, result(ok))
	if count > 0 {
		self.col.Removed.WithLabelValues(self.backend).Add(float64(count))
	}

	return count, ok
}

var _ session.Adapter = &Adapter{}
