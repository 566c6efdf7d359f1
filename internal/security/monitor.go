package security

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/todomaster/pkg/logger"
	"github.com/charlesng35/todomaster/pkg/metrics"
)

// Monitor defaults applied when configuration leaves them unset.
const (
	DefaultRetention           = 24 * time.Hour
	DefaultBruteForceThreshold = 5
	DefaultBruteForceWindow    = 5 * time.Minute

	topEventLimit    = 10
	recentAlertLimit = 10
)

// Config controls rule thresholds, retention and dispatch.
type Config struct {
	EventLogPath string
	AlertLogPath string
	// Retention bounds how long events and alerts stay in memory.
	Retention time.Duration
	// BufferSize > 0 makes Emit asynchronous through a queue of that size.
	BufferSize          int
	BruteForceThreshold int
	BruteForceWindow    time.Duration
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithEventSink replaces the file-backed event sink.
func WithEventSink(s Sink) Option {
	return func(m *Monitor) { m.eventSink = s }
}

// WithAlertSink replaces the file-backed alert sink.
func WithAlertSink(s Sink) Option {
	return func(m *Monitor) { m.alertSink = s }
}

// WithLogger overrides the logger alerts are written to.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// Monitor ingests security events, keeps a bounded in-memory log and raises
// alerts from detection rules evaluated on every recorded event.
type Monitor struct {
	cfg Config
	now func() time.Time
	log *zap.Logger

	eventSink Sink
	alertSink Sink

	mu             sync.Mutex
	events         []Event
	alerts         []Alert
	lastBruteForce map[string]time.Time

	queueMu sync.RWMutex
	queue   chan Event
	closed  bool
	done    chan struct{}
}

// NewMonitor builds a monitor. File sinks are opened for the configured paths
// unless replaced through options; an empty path disables that sink.
func NewMonitor(cfg Config, opts ...Option) (*Monitor, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.BruteForceThreshold <= 0 {
		cfg.BruteForceThreshold = DefaultBruteForceThreshold
	}
	if cfg.BruteForceWindow <= 0 {
		cfg.BruteForceWindow = DefaultBruteForceWindow
	}

	m := &Monitor{
		cfg:            cfg,
		now:            time.Now,
		log:            logger.WithModule("security"),
		lastBruteForce: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.eventSink == nil && cfg.EventLogPath != "" {
		sink, err := NewFileSink(cfg.EventLogPath)
		if err != nil {
			return nil, err
		}
		m.eventSink = sink
	}
	if m.alertSink == nil && cfg.AlertLogPath != "" {
		sink, err := NewFileSink(cfg.AlertLogPath)
		if err != nil {
			if m.eventSink != nil {
				_ = m.eventSink.Close()
			}
			return nil, err
		}
		m.alertSink = sink
	}

	if cfg.BufferSize > 0 {
		m.queue = make(chan Event, cfg.BufferSize)
		m.done = make(chan struct{})
		go m.drain()
	}

	return m, nil
}

// Emit records event without blocking the caller on rule evaluation when
// dispatch is asynchronous. Events are dropped, and counted, when the queue is full.
func (m *Monitor) Emit(event Event) {
	if m == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now().UTC()
	}

	m.queueMu.RLock()
	defer m.queueMu.RUnlock()

	if m.queue == nil || m.closed {
		m.Record(event)
		return
	}

	select {
	case m.queue <- event:
	default:
		metrics.SecurityEventsDropped.Inc()
		m.log.Warn("security event dropped: queue full", zap.String("type", string(event.Type)))
	}
}

func (m *Monitor) drain() {
	defer close(m.done)
	for event := range m.queue {
		m.Record(event)
	}
}

// Record appends event to the log and sinks, evaluates the detection rules and
// returns the alerts raised by this event.
func (m *Monitor) Record(event Event) []Alert {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if event.ID == "" {
		event.ID = ksuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}
	if event.Type == "" {
		event.Type = EventOther
	}

	m.prune(now)
	m.events = append(m.events, event)
	metrics.SecurityEvents.WithLabelValues(string(event.Type)).Inc()
	if m.eventSink != nil {
		if err := m.eventSink.Write(event); err != nil {
			m.log.Error("write security event", zap.Error(err))
		}
	}

	raised := m.evaluate(event)
	for i := range raised {
		m.trigger(&raised[i], now)
	}
	return raised
}

func (m *Monitor) evaluate(event Event) []Alert {
	var alerts []Alert

	switch event.Type {
	case EventFailedLogin:
		if alert, ok := m.checkBruteForce(event); ok {
			alerts = append(alerts, alert)
		}
	case EventAccountLocked:
		alerts = append(alerts, Alert{
			Level:   LevelMedium,
			Type:    AlertAccountLockout,
			Message: fmt.Sprintf("Account locked due to multiple failed attempts: %s", event.Email),
			Details: map[string]any{"email": event.Email, "ip": event.IP},
		})
	case EventCSRFAttempt:
		alerts = append(alerts, Alert{
			Level:   LevelHigh,
			Type:    AlertCSRFAttack,
			Message: "CSRF attack attempt detected",
			Details: map[string]any{"ip": event.IP, "user_agent": event.UserAgent},
		})
	case EventOAuthSuspicious:
		alerts = append(alerts, Alert{
			Level:   LevelMedium,
			Type:    AlertOAuthAnomaly,
			Message: "Suspicious OAuth activity detected",
			Details: cloneDetails(event.Details),
		})
	}

	for i := range alerts {
		alerts[i].EventID = event.ID
	}
	return alerts
}

// checkBruteForce raises at most one alert per source IP per window. The
// window ends at the triggering event's timestamp; queued events may reach
// the log out of order.
func (m *Monitor) checkBruteForce(event Event) (Alert, bool) {
	ip := strings.TrimSpace(event.IP)
	if ip == "" {
		return Alert{}, false
	}

	window := m.cfg.BruteForceWindow
	anchor := event.Timestamp
	attempts := 0
	for _, e := range m.events {
		if e.Type != EventFailedLogin || e.IP != ip {
			continue
		}
		if age := anchor.Sub(e.Timestamp); age >= 0 && age < window {
			attempts++
		}
	}
	if attempts < m.cfg.BruteForceThreshold {
		return Alert{}, false
	}
	if last, ok := m.lastBruteForce[ip]; ok && anchor.Sub(last) < window {
		return Alert{}, false
	}
	m.lastBruteForce[ip] = anchor

	return Alert{
		Level:   LevelHigh,
		Type:    AlertBruteForce,
		Message: fmt.Sprintf("Multiple failed login attempts from IP: %s", ip),
		Details: map[string]any{"attempts": attempts, "ip": ip},
	}, true
}

func (m *Monitor) trigger(alert *Alert, now time.Time) {
	alert.ID = "ALERT-" + ksuid.New().String()
	alert.Timestamp = now

	m.alerts = append(m.alerts, *alert)
	metrics.SecurityAlerts.WithLabelValues(string(alert.Level), string(alert.Type)).Inc()
	if m.alertSink != nil {
		if err := m.alertSink.Write(alert); err != nil {
			m.log.Error("write security alert", zap.Error(err))
		}
	}

	m.log.Warn("security alert",
		zap.String("alert_id", alert.ID),
		zap.String("level", string(alert.Level)),
		zap.String("type", string(alert.Type)),
		zap.String("message", alert.Message),
	)
}

// prune drops in-memory entries older than the retention period. Both logs
// are appended in time order.
func (m *Monitor) prune(now time.Time) {
	cutoff := now.Add(-m.cfg.Retention)

	idx := sort.Search(len(m.events), func(i int) bool { return m.events[i].Timestamp.After(cutoff) })
	if idx > 0 {
		m.events = append(m.events[:0:0], m.events[idx:]...)
	}
	idx = sort.Search(len(m.alerts), func(i int) bool { return m.alerts[i].Timestamp.After(cutoff) })
	if idx > 0 {
		m.alerts = append(m.alerts[:0:0], m.alerts[idx:]...)
	}

	for ip, last := range m.lastBruteForce {
		if now.Sub(last) >= m.cfg.BruteForceWindow {
			delete(m.lastBruteForce, ip)
		}
	}
}

// RecentEvents returns the events recorded inside the trailing window.
func (m *Monitor) RecentEvents(window time.Duration) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().UTC().Add(-window)
	var out []Event
	for _, e := range m.events {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// RecentAlerts returns the alerts raised inside the trailing window.
func (m *Monitor) RecentAlerts(window time.Duration) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.recentAlertsLocked(m.now().UTC().Add(-window))
}

func (m *Monitor) recentAlertsLocked(cutoff time.Time) []Alert {
	var out []Alert
	for _, a := range m.alerts {
		if a.Timestamp.After(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

// Report aggregates events and alerts over the trailing window.
func (m *Monitor) Report(window time.Duration) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	cutoff := now.Add(-window)

	counts := make(map[EventType]int)
	total := 0
	for _, e := range m.events {
		if !e.Timestamp.After(cutoff) {
			continue
		}
		total++
		counts[e.Type]++
	}

	top := make([]EventCount, 0, len(counts))
	for t, c := range counts {
		top = append(top, EventCount{Type: t, Count: c})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Type < top[j].Type
	})
	if len(top) > topEventLimit {
		top = top[:topEventLimit]
	}

	alerts := m.recentAlertsLocked(cutoff)
	byLevel := map[Level]int{LevelHigh: 0, LevelMedium: 0}
	for _, a := range alerts {
		byLevel[a.Level]++
	}
	recent := alerts
	if len(recent) > recentAlertLimit {
		recent = recent[len(recent)-recentAlertLimit:]
	}

	return Report{
		GeneratedAt:   now,
		Window:        window,
		TotalEvents:   total,
		TotalAlerts:   len(alerts),
		AlertsByLevel: byLevel,
		TopEvents:     top,
		RecentAlerts:  recent,
	}
}

// Close drains queued events and closes the sinks.
func (m *Monitor) Close() error {
	if m == nil {
		return nil
	}

	m.queueMu.Lock()
	alreadyClosed := m.closed
	m.closed = true
	if m.queue != nil && !alreadyClosed {
		close(m.queue)
	}
	m.queueMu.Unlock()

	if alreadyClosed {
		return nil
	}
	if m.done != nil {
		<-m.done
	}

	var err error
	if m.eventSink != nil {
		err = multierr.Append(err, m.eventSink.Close())
	}
	if m.alertSink != nil {
		err = multierr.Append(err, m.alertSink.Close())
	}
	return err
}

func cloneDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}
