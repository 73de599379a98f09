package heartbeat

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mangamirror/config"
)

func testConfig() config.HeartBeat {
	return config.HeartBeat{
		Interval: config.Duration(time.Hour),
		Timeout:  config.Duration(time.Second),
	}
}

func waitForProbe(t *testing.T, m *Monitor) error {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if checked, err := m.Status(); !checked.IsZero() {
			return err
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no probe completed in time")
	return nil
}

func TestHealthyUpstream(t *testing.T) {
	var ua atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		rw.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := New(testConfig(), ts.URL, "test-agent")
	defer m.Close()

	err := waitForProbe(t, m)
	assert.NoError(t, err)
	assert.Equal(t, "test-agent", ua.Load())
}

func TestUnhealthyUpstream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	m := New(testConfig(), ts.URL, "")
	defer m.Close()

	err := waitForProbe(t, m)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "non-200 status code")
}

func TestUnreachableUpstream(t *testing.T) {
	m := New(testConfig(), "http://127.0.0.1:0", "")
	defer m.Close()

	err := waitForProbe(t, m)
	assert.Error(t, err)
}
