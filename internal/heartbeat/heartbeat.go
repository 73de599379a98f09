// Package heartbeat probes the upstream site in the background so the
// service can report whether the scrape target is reachable.
package heartbeat

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mangamirror/config"
	"mangamirror/log"
)

// Monitor periodically probes a single URL and remembers the outcome
// of the last probe.
type Monitor struct {
	url       string
	userAgent string
	interval  time.Duration
	timeout   time.Duration

	httpClient *http.Client

	mu          sync.Mutex
	lastErr     error
	lastChecked time.Time

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New returns a monitor probing url and starts its background loop.
// The returned monitor must be released with Close.
func New(cfg config.HeartBeat, url, userAgent string) *Monitor {
	m := &Monitor{
		url:       url,
		userAgent: userAgent,
		interval:  time.Duration(cfg.Interval),
		timeout:   time.Duration(cfg.Timeout),
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout),
		},
		stopCh: make(chan struct{}),
	}

	m.wg.Add(1)
	go func() {
		m.loop()
		m.wg.Done()
	}()

	return m
}

// Close stops the background loop.
func (m *Monitor) Close() {
	close(m.stopCh)
	m.wg.Wait()
}

// Status returns when the upstream was last probed and the probe error,
// if any. A zero time means no probe has completed yet.
func (m *Monitor) Status() (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChecked, m.lastErr
}

func (m *Monitor) loop() {
	m.runProbe()

	for {
		select {
		case <-time.After(m.interval):
			m.runProbe()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) runProbe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	err := m.probe(ctx)
	if err != nil {
		log.Errorf("heartbeat: upstream %q is unhealthy: %s", m.url, err)
	}

	m.mu.Lock()
	m.lastErr = err
	m.lastChecked = time.Now()
	m.mu.Unlock()
}

func (m *Monitor) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return err
	}
	if m.userAgent != "" {
		req.Header.Set("User-Agent", m.userAgent)
	}

	startTime := time.Now()
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot send request in %s: %w", time.Since(startTime), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("non-200 status code: %s", resp.Status)
	}
	return nil
}
