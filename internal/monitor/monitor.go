// Package monitor probes the speech engines on an interval, exports their
// availability as gauges and publishes a heartbeat on the bus.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/voice-proxy/internal/config"
	"github.com/loqalabs/voice-proxy/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Prober reports engine availability and session state.
type Prober interface {
	Probe(ctx context.Context) protocol.Availability
	State() protocol.State
}

// Publisher sends heartbeats. bus.Client satisfies it.
type Publisher interface {
	Subject(parts ...string) string
	PublishJSON(subject string, v any) error
}

type Monitor struct {
	cfg     config.MonitorConfig
	service string
	prober  Prober
	pub     Publisher
	log     *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}

	mu       sync.RWMutex
	last     protocol.Availability
	lastSeen time.Time
}

// New starts monitoring immediately. pub may be nil when the bus is disabled.
func New(ctx context.Context, cfg config.MonitorConfig, service string, prober Prober, pub Publisher, log *slog.Logger) *Monitor {
	ctx, cancel := context.WithCancel(ctx)
	m := &Monitor{
		cfg:     cfg,
		service: service,
		prober:  prober,
		pub:     pub,
		log:     log.With(slog.String("component", "monitor")),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if err := m.initMetrics(); err != nil {
		m.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	go m.run(ctx)
	return m
}

func (m *Monitor) Close() {
	m.cancel()
	<-m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	interval := time.Duration(m.cfg.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	if m.cfg.ProbeMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.ProbeMS)*time.Millisecond)
		defer cancel()
	}
	avail := m.prober.Probe(ctx)
	now := time.Now().UTC()

	m.mu.Lock()
	prev, first := m.last, m.lastSeen.IsZero()
	m.last, m.lastSeen = avail, now
	m.mu.Unlock()

	if !first {
		m.logTransitions(prev, avail)
	}

	if m.pub == nil {
		return
	}
	hb := protocol.Heartbeat{
		Service:      m.service,
		Availability: avail,
		State:        m.prober.State(),
		Timestamp:    now,
	}
	if err := m.pub.PublishJSON(m.pub.Subject(protocol.SubjectHeartbeatSuffix), hb); err != nil {
		m.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
	}
}

func (m *Monitor) logTransitions(prev, cur protocol.Availability) {
	for _, e := range engines(prev) {
		now := lookup(cur, e.name)
		if now == e.up {
			continue
		}
		if now {
			m.log.Info("engine became available", slog.String("engine", e.name))
		} else {
			m.log.Warn("engine became unavailable", slog.String("engine", e.name))
		}
	}
}

// Snapshot returns the latest availability and when it was taken.
func (m *Monitor) Snapshot() (protocol.Availability, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.lastSeen
}

// Healthy reports whether a probe has completed.
func (m *Monitor) Healthy() bool {
	_, at := m.Snapshot()
	return !at.IsZero()
}

type engine struct {
	name string
	up   bool
}

func engines(a protocol.Availability) []engine {
	return []engine{
		{"transcription", a.Transcription},
		{"improvement", a.Improvement},
		{"synthesis", a.Synthesis},
		{"virtual_device", a.VirtualDevice},
	}
}

func lookup(a protocol.Availability, name string) bool {
	for _, e := range engines(a) {
		if e.name == name {
			return e.up
		}
	}
	return false
}

func (m *Monitor) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/voice-proxy/monitor")
	gauge, err := meter.Int64ObservableGauge("voiceproxy.engine.available",
		metric.WithDescription("1 when the engine answered its last probe"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		avail, at := m.Snapshot()
		if at.IsZero() {
			return nil
		}
		for _, e := range engines(avail) {
			var v int64
			if e.up {
				v = 1
			}
			obs.ObserveInt64(gauge, v, metric.WithAttributes(attribute.String("engine", e.name)))
		}
		return nil
	}, gauge)
	return err
}
