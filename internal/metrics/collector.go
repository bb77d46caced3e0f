package metrics

import (
	"context"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ContactStats contains contact store figures for metrics
type ContactStats struct {
	Active               int
	Deleted              int
	LastImportExportDate int64 // unix ms
}

// StatsProvider provides contact store statistics for metrics
type StatsProvider interface {
	Stats(ctx context.Context) (*ContactStats, error)
}

// StatsFunc adapts a function to StatsProvider
type StatsFunc func(ctx context.Context) (*ContactStats, error)

// Stats calls f
func (f StatsFunc) Stats(ctx context.Context) (*ContactStats, error) {
	return f(ctx)
}

// CounterStore persists counter snapshots across restarts
type CounterStore interface {
	LoadCounters(ctx context.Context) (map[string]float64, error)
	SaveCounters(ctx context.Context, counters map[string]float64) error
}

// Collector persists counters and keeps the gauges current
type Collector struct {
	store         CounterStore
	metrics       *Metrics
	stats         StatsProvider
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector and restores persisted counters
func NewCollector(store CounterStore, m *Metrics, stats StatsProvider, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	c := &Collector{
		store:         store,
		metrics:       m,
		stats:         stats,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		stopCh:        make(chan struct{}),
	}

	saved, err := store.LoadCounters(context.Background())
	if err != nil {
		return nil, err
	}
	c.restore(saved)

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.Collect(ctx)

	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.Persist(context.Background())
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	flush := time.NewTicker(c.flushInterval)
	defer flush.Stop()
	gauges := time.NewTicker(5 * time.Second)
	defer gauges.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-flush.C:
			c.Persist(ctx)
		case <-gauges.C:
			c.Collect(ctx)
		}
	}
}

// Collect refreshes the system and contact store gauges
func (c *Collector) Collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.stats != nil {
		stats, err := c.stats.Stats(ctx)
		if err == nil {
			c.metrics.ContactsActive.Set(float64(stats.Active))
			c.metrics.ContactsDeleted.Set(float64(stats.Deleted))
			c.metrics.LastImportExportDate.Set(float64(stats.LastImportExportDate) / 1000)
		}
	}
}

// Persist saves the current counter values
func (c *Collector) Persist(ctx context.Context) error {
	snapshot, err := c.Snapshot()
	if err != nil {
		return err
	}
	return c.store.SaveCounters(ctx, snapshot)
}

// Snapshot returns every counter series keyed by name and labels
func (c *Collector) Snapshot() (map[string]float64, error) {
	families, err := c.metrics.registry.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		if _, ok := c.metrics.counters[mf.GetName()]; !ok {
			continue
		}
		for _, metric := range mf.GetMetric() {
			out[counterKey(mf.GetName(), metric.GetLabel())] = metric.GetCounter().GetValue()
		}
	}
	return out, nil
}

func (c *Collector) restore(saved map[string]float64) {
	for key, v := range saved {
		if v <= 0 {
			continue
		}
		name, labels := parseCounterKey(key)
		vec, ok := c.metrics.counters[name]
		if !ok {
			continue
		}
		counter, err := vec.GetMetricWith(labels)
		if err != nil {
			continue
		}
		counter.Add(v)
	}
}

// counterKey encodes a series as name|label=value,label=value
func counterKey(name string, labels []*dto.LabelPair) string {
	pairs := make([]string, 0, len(labels))
	for _, l := range labels {
		pairs = append(pairs, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(pairs)
	return name + "|" + strings.Join(pairs, ",")
}

func parseCounterKey(key string) (string, prometheus.Labels) {
	name, rest, _ := strings.Cut(key, "|")
	labels := prometheus.Labels{}
	if rest == "" {
		return name, labels
	}
	for _, pair := range strings.Split(rest, ",") {
		k, v, _ := strings.Cut(pair, "=")
		labels[k] = v
	}
	return name, labels
}
