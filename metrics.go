package obtree

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    lookupHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordLookup(found int, duration time.Duration, err error) {
//	    p.lookupHistogram.Observe(duration.Seconds())
//	}
type MetricsCollector interface {
	// RecordBuild is called after each build.
	// tuples is the number of tuples written, err is nil if successful.
	RecordBuild(tuples uint64, duration time.Duration, err error)

	// RecordLookup is called after each point or batch lookup.
	// found is the number of tuples returned.
	RecordLookup(found int, duration time.Duration, err error)

	// RecordScan is called when a search stream or scan ends.
	RecordScan(tuples int, duration time.Duration, err error)

	// RecordVerify is called after each structural verification.
	RecordVerify(pages int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(uint64, time.Duration, error) {}
func (NoopMetricsCollector) RecordLookup(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordScan(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordVerify(int, time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	BuildCount       atomic.Int64
	BuildErrors      atomic.Int64
	BuildTuples      atomic.Int64
	LookupCount      atomic.Int64
	LookupErrors     atomic.Int64
	LookupFound      atomic.Int64
	LookupTotalNanos atomic.Int64
	ScanCount        atomic.Int64
	ScanErrors       atomic.Int64
	ScanTuples       atomic.Int64
	VerifyCount      atomic.Int64
	VerifyErrors     atomic.Int64
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(tuples uint64, duration time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildTuples.Add(int64(tuples))
	if err != nil {
		b.BuildErrors.Add(1)
	}
}

// RecordLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLookup(found int, duration time.Duration, err error) {
	b.LookupCount.Add(1)
	b.LookupFound.Add(int64(found))
	b.LookupTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LookupErrors.Add(1)
	}
}

// RecordScan implements MetricsCollector.
func (b *BasicMetricsCollector) RecordScan(tuples int, duration time.Duration, err error) {
	b.ScanCount.Add(1)
	b.ScanTuples.Add(int64(tuples))
	if err != nil {
		b.ScanErrors.Add(1)
	}
}

// RecordVerify implements MetricsCollector.
func (b *BasicMetricsCollector) RecordVerify(pages int, duration time.Duration, err error) {
	b.VerifyCount.Add(1)
	if err != nil {
		b.VerifyErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		BuildCount:     b.BuildCount.Load(),
		BuildErrors:    b.BuildErrors.Load(),
		BuildTuples:    b.BuildTuples.Load(),
		LookupCount:    b.LookupCount.Load(),
		LookupErrors:   b.LookupErrors.Load(),
		LookupFound:    b.LookupFound.Load(),
		LookupAvgNanos: b.getAvgLookupNanos(),
		ScanCount:      b.ScanCount.Load(),
		ScanErrors:     b.ScanErrors.Load(),
		ScanTuples:     b.ScanTuples.Load(),
		VerifyCount:    b.VerifyCount.Load(),
		VerifyErrors:   b.VerifyErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgLookupNanos() int64 {
	count := b.LookupCount.Load()
	if count == 0 {
		return 0
	}
	return b.LookupTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	BuildCount     int64
	BuildErrors    int64
	BuildTuples    int64
	LookupCount    int64
	LookupErrors   int64
	LookupFound    int64
	LookupAvgNanos int64
	ScanCount      int64
	ScanErrors     int64
	ScanTuples     int64
	VerifyCount    int64
	VerifyErrors   int64
}
