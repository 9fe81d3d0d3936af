package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultpay-hq/facilitator/pkg/chainclient"
	"github.com/vaultpay-hq/facilitator/pkg/circuitbreaker"
	"github.com/vaultpay-hq/facilitator/pkg/facilitator"
	"github.com/vaultpay-hq/facilitator/pkg/models"
	"github.com/vaultpay-hq/facilitator/pkg/nonces"
	"github.com/vaultpay-hq/facilitator/pkg/queue"
	"github.com/vaultpay-hq/facilitator/pkg/vault"
)

const (
	testChainID = 8453
	testVault   = "0x2222222222222222222222222222222222222222"
	testToken   = "0x5555555555555555555555555555555555555555"
)

type echoHandler struct {
	scheme string
	result interface{}
}

func (h *echoHandler) Scheme() string {
	return h.scheme
}

func (h *echoHandler) Process(_ context.Context, _ models.PaymentPayload) (interface{}, error) {
	return h.result, nil
}

type apiFixture struct {
	queue   *queue.Queue
	breaker *circuitbreaker.CircuitBreaker
	server  *Server
}

func newAPIFixture(metricsKey string) *apiFixture {
	q := queue.New()
	cache := nonces.New()
	ledger := vault.NewLedger(testChainID, testVault, testToken)
	breaker := circuitbreaker.NewCircuitBreaker(testChainID, true, 1, time.Minute, time.Hour, nil)

	registry := facilitator.NewRegistry()
	registry.Register(&echoHandler{
		scheme: models.SchemeExact,
		result: models.SettleResponse{Scheme: models.SchemeExact, Status: "settled", TxRef: "0xabc"},
	})
	registry.Register(&echoHandler{
		scheme: models.SchemeDeferred,
		result: models.ValidateResponse{Status: "pending"},
	})

	settler := facilitator.NewSettler(q,
		map[int]vault.Vault{testChainID: ledger},
		cache,
		map[int]*circuitbreaker.CircuitBreaker{testChainID: breaker},
		nil)

	return &apiFixture{
		queue:   q,
		breaker: breaker,
		server:  NewServer("8402", metricsKey, registry, settler, q, nil, nil),
	}
}

func (f *apiFixture) request(method, target, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	recorder := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(recorder, httptest.NewRequest(method, target, reader))
	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture("")
	response := f.request(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, "OK", response.Body.String())
}

func TestReadyWithoutClients(t *testing.T) {
	f := newAPIFixture("")
	response := f.request(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, response.Code)
}

func TestSettleDispatchesToScheme(t *testing.T) {
	f := newAPIFixture("")
	body := `{"scheme":"exact","data":{},"requirements":{}}`

	response := f.request(http.MethodPost, "/settle", body)

	require.Equal(t, http.StatusOK, response.Code)
	var result models.SettleResponse
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &result))
	assert.Equal(t, "settled", result.Status)
	assert.Equal(t, "0xabc", result.TxRef)
}

func TestValidateIntentDispatchesToScheme(t *testing.T) {
	f := newAPIFixture("")
	body := `{"scheme":"deferred","data":{},"requirements":{}}`

	response := f.request(http.MethodPost, "/validate-intent", body)

	require.Equal(t, http.StatusOK, response.Code)
	var result models.ValidateResponse
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &result))
	assert.Equal(t, "pending", result.Status)
}

func TestSettleRejectsUnknownScheme(t *testing.T) {
	f := newAPIFixture("")
	response := f.request(http.MethodPost, "/settle", `{"scheme":"subscription"}`)
	assert.Equal(t, http.StatusBadRequest, response.Code)
	assert.Contains(t, response.Body.String(), "unknown payment scheme")
}

func TestSettleRejectsMalformedBody(t *testing.T) {
	f := newAPIFixture("")
	response := f.request(http.MethodPost, "/settle", "{broken")
	assert.Equal(t, http.StatusBadRequest, response.Code)
}

func TestSettleRejectsGet(t *testing.T) {
	f := newAPIFixture("")
	response := f.request(http.MethodGet, "/settle", "")
	assert.Equal(t, http.StatusMethodNotAllowed, response.Code)
}

func TestQueueEndpoint(t *testing.T) {
	f := newAPIFixture("")
	id := f.queue.Add(models.QueueRecord{
		Scheme:  models.SchemeDeferred,
		ChainID: testChainID,
		Vault:   testVault,
		Amount:  "1000000",
	})

	response := f.request(http.MethodGet, "/queue", "")

	require.Equal(t, http.StatusOK, response.Code)
	var result queueResponse
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Stats.Pending)
	require.Len(t, result.Pending, 1)
	assert.Equal(t, id, result.Pending[0].ID)
}

func TestSettleBatchReportsRun(t *testing.T) {
	f := newAPIFixture("")

	response := f.request(http.MethodPost, "/settle-batch", "")

	require.Equal(t, http.StatusOK, response.Code)
	var report models.RunReport
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &report))
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.Skipped)
	assert.Empty(t, report.Groups)
}

func TestCircuitResetEndpoint(t *testing.T) {
	f := newAPIFixture("")
	f.breaker.RecordFailure()
	require.True(t, f.breaker.IsOpen())

	response := f.request(http.MethodPost, "/circuit/reset?chain=8453", "")
	assert.Equal(t, http.StatusOK, response.Code)
	assert.False(t, f.breaker.IsOpen())

	response = f.request(http.MethodPost, "/circuit/reset?chain=137", "")
	assert.Equal(t, http.StatusNotFound, response.Code)

	response = f.request(http.MethodPost, "/circuit/reset", "")
	assert.Equal(t, http.StatusBadRequest, response.Code)

	response = f.request(http.MethodGet, "/circuit/reset?chain=8453", "")
	assert.Equal(t, http.StatusMethodNotAllowed, response.Code)
}

func TestStatusIncludesQueueDepth(t *testing.T) {
	f := newAPIFixture("")
	f.queue.Add(models.QueueRecord{ChainID: testChainID, Vault: testVault})

	response := f.request(http.MethodGet, "/status", "")

	require.Equal(t, http.StatusOK, response.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &status))
	queueStats, ok := status["queue"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), queueStats["pending"])
}

func TestStatusReportsCachedNonces(t *testing.T) {
	q := queue.New()
	cache := nonces.New()
	ledger := vault.NewLedger(testChainID, testVault, testToken)
	settler := facilitator.NewSettler(q, map[int]vault.Vault{testChainID: ledger}, cache, nil, nil)
	clients := map[int]*chainclient.Client{
		testChainID: {RPCURL: "http://localhost:8545", VaultAddress: testVault, TokenAddress: testToken},
	}
	server := NewServer("8402", "", facilitator.NewRegistry(), settler, q, clients, nil)

	cache.MarkUsed(testChainID, "0x4444444444444444444444444444444444444444",
		"0x0101010101010101010101010101010101010101010101010101010101010101")

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &status))
	chainStatus, ok := status["chain_8453"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), chainStatus["nonces_cached"])
	assert.Equal(t, false, chainStatus["connected"])
}

func TestMetricsOpenWithoutKey(t *testing.T) {
	f := newAPIFixture("")
	response := f.request(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, response.Code)
}

func TestMetricsHandlerServesOnlyInternalRoutes(t *testing.T) {
	f := newAPIFixture("")
	handler := f.server.MetricsHandler()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/settle", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestMetricsRequiresBearerKey(t *testing.T) {
	f := newAPIFixture("secret")

	response := f.request(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusUnauthorized, response.Code)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	request.Header.Set("Authorization", "Basic secret")
	f.server.Handler().ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	request.Header.Set("Authorization", "Bearer secret")
	f.server.Handler().ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusOK, recorder.Code)
}
