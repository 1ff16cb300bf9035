package resilience

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"roundup/pkg/metrics"
	"roundup/pkg/metrics/memory"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func statusResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(`{}`)),
	}
}

func testConfig() ResilientConfig {
	return ResilientConfig{
		Name:    "test",
		Timeout: time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 1,
			Timeout:     time.Minute,
		},
	}
}

func newRequest(t *testing.T, ctx context.Context) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://starling.test/api/v2/accounts", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	return req
}

func TestNewTransport(t *testing.T) {
	tr := NewTransport(nil, DefaultResilientConfig().WithName("starling"))

	if tr == nil {
		t.Fatal("NewTransport returned nil")
	}

	if tr.Name() != "starling" {
		t.Errorf("Expected name 'starling', got '%s'", tr.Name())
	}

	if tr.next != http.DefaultTransport {
		t.Error("Expected http.DefaultTransport as fallback")
	}

	if tr.State() != metrics.CircuitClosed {
		t.Errorf("Expected closed circuit, got %s", tr.State())
	}
}

func TestTransport_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accounts":[]}`))
	}))
	defer server.Close()

	client := &http.Client{Transport: NewTransport(nil, testConfig())}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()

	// The per-call deadline must survive until the body has been read
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	if string(body) != `{"accounts":[]}` {
		t.Errorf("Unexpected body %q", body)
	}
}

func TestTransport_ServerErrorReturnsResponse(t *testing.T) {
	tr := NewTransport(roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return statusResponse(http.StatusServiceUnavailable), nil
	}), testConfig())

	resp, err := tr.RoundTrip(newRequest(t, context.Background()))
	if err != nil {
		t.Fatalf("Expected response, got error %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

func TestTransport_CircuitOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	collector := memory.NewMemoryCollector()

	tr := NewTransportWithMetrics(roundTripperFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return statusResponse(http.StatusInternalServerError), nil
	}), testConfig(), collector)

	// Default threshold is 5 consecutive failures
	for i := 0; i < 5; i++ {
		resp, err := tr.RoundTrip(newRequest(t, context.Background()))
		if err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
		resp.Body.Close()
	}

	_, err := tr.RoundTrip(newRequest(t, context.Background()))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen, got %v", err)
	}

	if calls.Load() != 5 {
		t.Errorf("Expected 5 downstream calls, got %d", calls.Load())
	}

	if tr.State() != metrics.CircuitOpen {
		t.Errorf("Expected open circuit, got %s", tr.State())
	}

	snap := collector.Snapshot()
	if snap.Circuits["test"].Opens != 1 {
		t.Errorf("Expected 1 recorded open, got %d", snap.Circuits["test"].Opens)
	}
}

func TestTransport_ClientErrorsDoNotTrip(t *testing.T) {
	tr := NewTransport(roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return statusResponse(http.StatusNotFound), nil
	}), testConfig())

	for i := 0; i < 10; i++ {
		resp, err := tr.RoundTrip(newRequest(t, context.Background()))
		if err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
		resp.Body.Close()
	}

	if tr.State() != metrics.CircuitClosed {
		t.Errorf("Expected closed circuit, got %s", tr.State())
	}
}

func TestTransport_Timeout(t *testing.T) {
	config := testConfig().WithTimeout(20 * time.Millisecond)

	tr := NewTransport(roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}), config)

	_, err := tr.RoundTrip(newRequest(t, context.Background()))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
}

func TestTransport_ParentCancellationIsNotTimeout(t *testing.T) {
	tr := NewTransport(roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.RoundTrip(newRequest(t, ctx))
	if errors.Is(err, ErrTimeout) {
		t.Fatal("Cancellation by caller must not be reported as timeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
