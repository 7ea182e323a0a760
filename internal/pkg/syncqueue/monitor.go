package syncqueue

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const DefaultProbeInterval = 15 * time.Second

// Monitor tracks API reachability by probing a health endpoint. It is only
// a proxy for connectivity; a failed write still counts as offline.
type Monitor struct {
	url      string
	client   *http.Client
	interval time.Duration

	mu        sync.Mutex
	online    bool
	listeners []func(online bool)
}

func NewMonitor(healthURL string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		url:      healthURL,
		client:   &http.Client{Timeout: 5 * time.Second},
		interval: interval,
	}
}

func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Probe checks the endpoint once and notifies listeners on a transition.
func (m *Monitor) Probe(ctx context.Context) bool {
	online := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err == nil {
		resp, err := m.client.Do(req)
		if err == nil {
			resp.Body.Close()
			online = resp.StatusCode >= 200 && resp.StatusCode < 300
		}
	}

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()

	if changed {
		log.Infof("[SyncQueue] connectivity changed, online=%v", online)
		for _, fn := range listeners {
			fn(online)
		}
	}
	return online
}

// Run probes immediately and then every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
