// Package network provides connectivity monitoring for the offline layer.
package network

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor observes connectivity and reports offline-to-online transitions.
type Monitor interface {
	// IsOnline returns the current connectivity snapshot.
	IsOnline() bool

	// Online returns a channel that delivers one event per offline-to-online
	// transition. Transitions are edge-triggered and not buffered beyond a
	// single pending event; only the fact that connectivity returned matters.
	Online() <-chan struct{}
}

// ManualMonitor is a Monitor fed by the host application, which receives
// connectivity callbacks from the mobile OS.
type ManualMonitor struct {
	mu     sync.RWMutex
	online bool
	ch     chan struct{}
	logger *zap.Logger
}

// NewManualMonitor creates a ManualMonitor with the given initial state.
func NewManualMonitor(initialOnline bool, logger *zap.Logger) *ManualMonitor {
	return &ManualMonitor{
		online: initialOnline,
		ch:     make(chan struct{}, 1),
		logger: logger,
	}
}

// IsOnline returns the current connectivity snapshot.
func (m *ManualMonitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Online returns the offline-to-online edge event channel.
func (m *ManualMonitor) Online() <-chan struct{} {
	return m.ch
}

// SetOnline records a connectivity change reported by the host. An
// offline-to-online edge publishes one event; repeated reports of the same
// state are ignored.
func (m *ManualMonitor) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.mu.Unlock()

	if wasOnline == online {
		return
	}

	m.logger.Info("connectivity changed",
		zap.Bool("was_online", wasOnline),
		zap.Bool("is_online", online))

	if online {
		// Drop the event if one is already pending; edges are not buffered.
		select {
		case m.ch <- struct{}{}:
		default:
		}
	}
}

// Prober checks remote reachability. Implemented by HTTPProber.
type Prober interface {
	Probe() bool
}

// HTTPProber reports online when a HEAD request to the target succeeds.
// Any HTTP status counts as reachable; only transport errors mean offline.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// NewHTTPProber creates a prober against the given URL.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Probe performs one reachability check.
func (p *HTTPProber) Probe() bool {
	resp, err := p.Client.Head(p.URL)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// ProbeMonitor is a Monitor that polls a Prober on a fixed interval and
// publishes the resulting transitions. Useful on hosts without OS-level
// connectivity callbacks.
type ProbeMonitor struct {
	*ManualMonitor

	prober   Prober
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProbeMonitor creates a ProbeMonitor. The monitor starts offline until
// the first successful probe.
func NewProbeMonitor(prober Prober, interval time.Duration, logger *zap.Logger) *ProbeMonitor {
	return &ProbeMonitor{
		ManualMonitor: NewManualMonitor(false, logger),
		prober:        prober,
		interval:      interval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins probing in the background. One immediate probe runs before
// the ticker so callers get a prompt initial state.
func (m *ProbeMonitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop halts probing and waits for the background goroutine to exit.
func (m *ProbeMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *ProbeMonitor) loop() {
	defer m.wg.Done()

	m.SetOnline(m.prober.Probe())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.SetOnline(m.prober.Probe())
		}
	}
}
