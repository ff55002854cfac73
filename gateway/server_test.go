package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"bondmm/events"
	"bondmm/fixedpoint"
	"bondmm/ledger"
	"bondmm/oracle"
	"bondmm/pool"
	"bondmm/storage"
)

const (
	operatorHex = "0x0000000000000000000000000000000000000010"
	aliceHex    = "0x0000000000000000000000000000000000000020"
	bobHex      = "0x0000000000000000000000000000000000000021"
	adminSecret = "gateway-test-secret"
)

type gatewayHarness struct {
	server *Server
	ledger *ledger.MemLedger
	source *oracle.StaticSource
	now    time.Time
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	poolAccount := common.HexToAddress("0x0000000000000000000000000000000000000001")
	source := oracle.NewStaticSource(fixedpoint.MustFromDecimal("0.05"))
	adapter, err := oracle.NewAdapter(source, fixedpoint.MustFromDecimal("0.05"))
	require.NoError(t, err)
	store, err := pool.NewPositionStore(storage.NewMemDB())
	require.NoError(t, err)

	lgr := ledger.NewMemLedger(poolAccount)
	lgr.Mint(common.HexToAddress(operatorHex), fixedpoint.FromUint64(1_000_000))
	lgr.Mint(common.HexToAddress(aliceHex), fixedpoint.FromUint64(100_000))
	lgr.Mint(common.HexToAddress(bobHex), fixedpoint.FromUint64(100_000))

	engine := pool.NewEngine(poolAccount, store, lgr, adapter)
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)

	server := New(engine, recorder, nil, Options{JWTSecret: adminSecret, RateLimitPerMin: 0})
	h := &gatewayHarness{server: server, ledger: lgr, source: source, now: time.Unix(1_700_000_000, 0)}
	server.SetClock(func() time.Time { return h.now })
	return h
}

func (h *gatewayHarness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *gatewayHarness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func (h *gatewayHarness) initialize(t *testing.T) {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/v1/initialize", map[string]any{
		"from":        operatorHex,
		"initialCash": "100000",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	h := newGatewayHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestInitializeAndPoolView(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize(t)

	rec := h.do(t, http.MethodGet, "/v1/pool", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, true, payload["initialized"])
	require.Equal(t, "100000", payload["cash"])
	require.Equal(t, "0.05", payload["currentRate"])
	require.Equal(t, true, payload["solvent"])
}

func TestLendRedeemOverHTTP(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize(t)
	h.advance(time.Second)

	maturity := uint64(h.now.Unix()) + 90*86_400
	rec := h.do(t, http.MethodPost, "/v1/lend", map[string]any{
		"from":     aliceHex,
		"amount":   "10000",
		"maturity": maturity,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var lendResp idResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lendResp))
	require.Equal(t, uint64(1), lendResp.PositionID)

	rec = h.do(t, http.MethodGet, "/v1/positions/1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var position map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &position))
	require.Equal(t, true, position["active"])
	require.Equal(t, false, position["isBorrow"])

	h.advance(91 * 24 * time.Hour)
	rec = h.do(t, http.MethodPost, "/v1/redeem", map[string]any{
		"from":       aliceHex,
		"positionId": 1,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/v1/positions/1", nil, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &position))
	require.Equal(t, false, position["active"])
}

func TestFlashLoanGuardOverHTTP(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize(t)
	h.advance(time.Second)

	maturity := uint64(h.now.Unix()) + 90*86_400
	body := map[string]any{"from": aliceHex, "amount": "1000", "maturity": maturity}
	rec := h.do(t, http.MethodPost, "/v1/lend", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Same caller, same one-second block.
	rec = h.do(t, http.MethodPost, "/v1/lend", body, nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	h.advance(time.Second)
	rec = h.do(t, http.MethodPost, "/v1/lend", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestStaleOracleMapsToServiceUnavailable(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize(t)
	h.advance(time.Second)
	h.source.SetStale(true)

	maturity := uint64(h.now.Unix()) + 90*86_400
	rec := h.do(t, http.MethodPost, "/v1/lend", map[string]any{
		"from":     aliceHex,
		"amount":   "1000",
		"maturity": maturity,
	}, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
}

func TestAdminRoutesRequireToken(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize(t)

	rec := h.do(t, http.MethodPost, "/v1/admin/pause", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := AdminToken([]byte(adminSecret), "ops")
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + token}

	rec = h.do(t, http.MethodPost, "/v1/admin/pause", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payload map[string]any
	rec = h.do(t, http.MethodGet, "/v1/pool", nil, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, true, payload["paused"])

	rec = h.do(t, http.MethodPost, "/v1/admin/unpause", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)

	wrong, err := AdminToken([]byte("other-secret"), "ops")
	require.NoError(t, err)
	rec = h.do(t, http.MethodPost, "/v1/admin/pause", nil, map[string]string{"Authorization": "Bearer " + wrong})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminParamUpdates(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize(t)
	token, err := AdminToken([]byte(adminSecret), "ops")
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + token}

	rec := h.do(t, http.MethodPost, "/v1/admin/params/collateral-ratio", paramRequest{Value: "2.0"}, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/v1/admin/params/collateral-ratio", paramRequest{Value: "9.0"}, auth)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/admin/params/unknown", paramRequest{Value: "1"}, auth)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMalformedRequestsRejected(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize(t)

	rec := h.do(t, http.MethodPost, "/v1/lend", map[string]any{
		"from":     "not-an-address",
		"amount":   "10",
		"maturity": uint64(h.now.Unix()) + 90*86_400,
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/lend", map[string]any{
		"from":       aliceHex,
		"amount":     "10",
		"maturity":   uint64(h.now.Unix()) + 90*86_400,
		"unexpected": true,
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/positions/abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
