package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roundup/pkg/idempotency"
	"roundup/pkg/metrics"
	"roundup/pkg/orchestrator"
	"roundup/pkg/roundup"
)

var (
	testAccount = uuid.MustParse("aaaaaaaa-0000-4000-8000-000000000001")
	testGoal    = uuid.MustParse("99999999-0000-4000-8000-000000000003")
)

// fakeRunner returns a fixed outcome and counts runs.
type fakeRunner struct {
	result orchestrator.Result
	err    error
	calls  atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context) (orchestrator.Result, error) {
	f.calls.Add(1)
	return f.result, f.err
}

type fixedBreaker metrics.CircuitState

func (b fixedBreaker) CircuitState() metrics.CircuitState { return metrics.CircuitState(b) }

func doneResult() orchestrator.Result {
	return orchestrator.Result{
		State:             orchestrator.StateDone,
		AccountID:         testAccount,
		GoalID:            testGoal,
		TransactionCount:  2,
		RoundUpMinorUnits: 50,
		TransferID:        "tx-1",
	}
}

func setupTestServer(t *testing.T, deps Dependencies) *Server {
	t.Helper()
	server, err := NewServer(deps, DefaultServerConfig())
	require.NoError(t, err)
	return server
}

func newGuard(t *testing.T) *idempotency.Guard {
	t.Helper()
	store := idempotency.NewMemoryStore(idempotency.DefaultMemoryStoreConfig())
	t.Cleanup(func() { store.Close() })
	return idempotency.NewGuard(store, time.Hour)
}

func postRoundUp(server *Server, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v2/feed/roundup", nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_RoundUpDone(t *testing.T) {
	runner := &fakeRunner{result: doneResult()}
	server := setupTestServer(t, Dependencies{Runner: runner})

	w := postRoundUp(server, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "done", body["status"])
	assert.Equal(t, "0.50", body["roundUpAmount"])
	assert.Equal(t, float64(50), body["roundUpMinorUnits"])
	assert.Equal(t, "tx-1", body["transferId"])
	assert.Equal(t, testGoal.String(), body["savingsGoalId"])
	assert.Equal(t, testAccount.String(), body["accountId"])
}

func TestServer_RoundUpSkipped(t *testing.T) {
	runner := &fakeRunner{result: orchestrator.Result{State: orchestrator.StateDone, AccountID: testAccount, GoalID: testGoal}}
	server := setupTestServer(t, Dependencies{Runner: runner})

	w := postRoundUp(server, "")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "skipped", body["status"])
	assert.Equal(t, "0.00", body["roundUpAmount"])
	assert.NotContains(t, body, "transferId")
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"account not found", roundup.Errorf(roundup.KindAccountNotFound, "no accounts found"), http.StatusNotFound, "AccountNotFound"},
		{"invalid account data", roundup.InvalidAccountData("get accounts", errors.New("eof")), http.StatusInternalServerError, "InvalidAccountData"},
		{"insufficient balance", roundup.Errorf(roundup.KindInsufficientBalance, "insufficient balance to round up"), http.StatusUnprocessableEntity, "InsufficientBalance"},
		{"downstream client", roundup.ClassifyStatus(http.StatusNotFound, ""), http.StatusBadGateway, "DownstreamClientError"},
		{"downstream server", roundup.ClassifyStatus(http.StatusServiceUnavailable, ""), http.StatusBadGateway, "DownstreamServerError"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "InvalidAccountData"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{err: tt.err}
			server := setupTestServer(t, Dependencies{Runner: runner})

			w := postRoundUp(server, "")
			assert.Equal(t, tt.status, w.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.err.Error(), body.Message)
			assert.False(t, body.Timestamp.IsZero())
		})
	}
}

func TestServer_IdempotentReplay(t *testing.T) {
	runner := &fakeRunner{result: doneResult()}
	server := setupTestServer(t, Dependencies{Runner: runner, Guard: newGuard(t)})

	first := postRoundUp(server, "order-1")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get(HeaderReplayed))

	second := postRoundUp(server, "order-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	assert.Equal(t, int32(1), runner.calls.Load())

	// A new key runs again
	third := postRoundUp(server, "order-2")
	require.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, int32(2), runner.calls.Load())
}

func TestServer_ReplaysDomainFailures(t *testing.T) {
	runner := &fakeRunner{err: roundup.Errorf(roundup.KindInsufficientBalance, "insufficient balance")}
	server := setupTestServer(t, Dependencies{Runner: runner, Guard: newGuard(t)})

	postRoundUp(server, "k")
	w := postRoundUp(server, "k")

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "true", w.Header().Get(HeaderReplayed))
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestServer_ServerFailuresAreRetryable(t *testing.T) {
	runner := &fakeRunner{err: roundup.InvalidAccountData("get accounts", errors.New("eof"))}
	server := setupTestServer(t, Dependencies{Runner: runner, Guard: newGuard(t)})

	postRoundUp(server, "k")
	w := postRoundUp(server, "k")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, w.Header().Get(HeaderReplayed))
	assert.Equal(t, int32(2), runner.calls.Load())
}

// readOnlyStore finds nothing and rejects every write.
type readOnlyStore struct{}

func (readOnlyStore) Get(ctx context.Context, key string) (idempotency.Record, error) {
	return idempotency.Record{}, idempotency.ErrNotFound
}
func (readOnlyStore) Set(ctx context.Context, key string, r idempotency.Record, ttl time.Duration) error {
	return errors.New("READONLY You can't write against a read only replica")
}
func (readOnlyStore) Name() string { return "readonly" }
func (readOnlyStore) Close() error { return nil }

func TestServer_UnstoredOutcomeIsFlagged(t *testing.T) {
	runner := &fakeRunner{result: doneResult()}
	guard := idempotency.NewGuard(readOnlyStore{}, time.Hour)
	server := setupTestServer(t, Dependencies{Runner: runner, Guard: guard})

	w := postRoundUp(server, "k")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "false", w.Header().Get(HeaderStored))
	assert.Empty(t, w.Header().Get(HeaderReplayed))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "tx-1", body["transferId"])
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestServer_InvalidIdempotencyKey(t *testing.T) {
	runner := &fakeRunner{result: doneResult()}
	server := setupTestServer(t, Dependencies{Runner: runner, Guard: newGuard(t)})

	w := postRoundUp(server, strings.Repeat("k", idempotency.MaxKeyLength+1))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, runner.calls.Load())
}

func TestServer_KeyWithoutGuard(t *testing.T) {
	runner := &fakeRunner{result: doneResult()}
	server := setupTestServer(t, Dependencies{Runner: runner})

	postRoundUp(server, "k")
	postRoundUp(server, "k")

	assert.Equal(t, int32(2), runner.calls.Load())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	server := setupTestServer(t, Dependencies{Runner: &fakeRunner{}})

	req := httptest.NewRequest(http.MethodGet, "/api/v2/feed/roundup", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_Health(t *testing.T) {
	server := setupTestServer(t, Dependencies{Runner: &fakeRunner{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "healthy", response["status"])
}

func TestServer_Status(t *testing.T) {
	server := setupTestServer(t, Dependencies{
		Runner:  &fakeRunner{},
		Breaker: fixedBreaker(metrics.CircuitOpen),
	})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "running", response["status"])
	assert.Equal(t, "open", response["circuit"])
	assert.Equal(t, false, response["idempotency"])
}

func TestServer_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	server := setupTestServer(t, Dependencies{Runner: &fakeRunner{result: doneResult()}, Registry: registry})

	postRoundUp(server, "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `roundup_http_requests_total{endpoint="/api/v2/feed/roundup",method="POST",status="200"} 1`)
}

func TestServer_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewServer(Dependencies{Runner: &fakeRunner{}, Registry: registry}, DefaultServerConfig())
	require.NoError(t, err)

	_, err = NewServer(Dependencies{Runner: &fakeRunner{}, Registry: registry}, DefaultServerConfig())
	assert.Error(t, err)
}
