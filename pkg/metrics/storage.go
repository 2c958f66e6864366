// Package metrics provides the Prometheus collectors for storage and engine
// operations. Collectors are optional everywhere: a nil collector disables
// recording without branching at call sites.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/edgesim/pkg/storage"
)

// StorageCollector records per-namespace storage operation counts and
// latencies.
type StorageCollector struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewStorageCollector creates and registers the storage collectors.
func NewStorageCollector(reg prometheus.Registerer) *StorageCollector {
	c := &StorageCollector{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgesim",
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Storage operations by namespace, operation, and outcome.",
		}, []string{"namespace", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "edgesim",
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Storage operation latency by namespace and operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"namespace", "operation"}),
	}
	if reg != nil {
		reg.MustRegister(c.ops, c.duration)
	}
	return c
}

// observe records one operation. Safe on a nil collector.
func (c *StorageCollector) observe(namespace, op string, start time.Time, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.ops.WithLabelValues(namespace, op, outcome).Inc()
	c.duration.WithLabelValues(namespace, op).Observe(time.Since(start).Seconds())
}

// Instrument wraps s so every operation is recorded under namespace. A nil
// collector returns s unchanged.
func (c *StorageCollector) Instrument(s storage.Storage, namespace string) storage.Storage {
	if c == nil {
		return s
	}
	return &instrumented{inner: s, collector: c, namespace: namespace}
}

type instrumented struct {
	inner     storage.Storage
	collector *StorageCollector
	namespace string
}

var _ storage.Storage = (*instrumented)(nil)

func (s *instrumented) Has(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := s.inner.Has(ctx, key)
	s.collector.observe(s.namespace, "has", start, err)
	return ok, err
}

func (s *instrumented) Head(ctx context.Context, key string) (*storage.KeyInfo, error) {
	start := time.Now()
	info, err := s.inner.Head(ctx, key)
	s.collector.observe(s.namespace, "head", start, err)
	return info, err
}

func (s *instrumented) Get(ctx context.Context, key string, skipMetadata bool) (*storage.Value, error) {
	start := time.Now()
	v, err := s.inner.Get(ctx, key, skipMetadata)
	s.collector.observe(s.namespace, "get", start, err)
	return v, err
}

func (s *instrumented) GetRange(ctx context.Context, key string, rng storage.Range, skipMetadata bool) (*storage.RangedValue, error) {
	start := time.Now()
	v, err := s.inner.GetRange(ctx, key, rng, skipMetadata)
	s.collector.observe(s.namespace, "get_range", start, err)
	return v, err
}

func (s *instrumented) Put(ctx context.Context, key string, value storage.Value) error {
	start := time.Now()
	err := s.inner.Put(ctx, key, value)
	s.collector.observe(s.namespace, "put", start, err)
	return err
}

func (s *instrumented) Delete(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	deleted, err := s.inner.Delete(ctx, key)
	s.collector.observe(s.namespace, "delete", start, err)
	return deleted, err
}

func (s *instrumented) List(ctx context.Context, opts storage.ListOptions, skipMetadata bool) (*storage.ListResult, error) {
	start := time.Now()
	res, err := s.inner.List(ctx, opts, skipMetadata)
	s.collector.observe(s.namespace, "list", start, err)
	return res, err
}
