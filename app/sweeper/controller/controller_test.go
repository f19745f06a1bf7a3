package controller

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alitto/pond/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helix-wallet/sweeperd/app/sweeper/types"
	"github.com/helix-wallet/sweeperd/pkg/accounts"
	"github.com/helix-wallet/sweeperd/pkg/chains"
	"github.com/helix-wallet/sweeperd/pkg/events"
	"github.com/helix-wallet/sweeperd/pkg/evm"
	"github.com/helix-wallet/sweeperd/pkg/prices"
	"github.com/helix-wallet/sweeperd/pkg/sweep"
)

const (
	testToken    = "test-admin-token"
	testMnemonic = "test test test test test test test test test test test junk"
	testDest     = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func newTestApp(t *testing.T) *types.App {
	t.Helper()
	logger := zap.NewNop()
	chainReg := chains.NewRegistry()
	pool := pond.NewPool(2)
	t.Cleanup(pool.StopAndWait)

	return &types.App{
		Logger:           logger,
		Chains:           chainReg,
		Accounts:         accounts.NewMemoryStore(10),
		Prices:           prices.NewCache(prices.NewHTTPOracle(), logger, prices.DefaultOptions()),
		Registry:         sweep.NewRegistry(logger),
		Hub:              events.NewHub(logger, nil),
		Backends:         evm.NewManager(chainReg, logger),
		Dedup:            sweep.NewDedup(),
		Pool:             pool,
		SecretPassphrase: "unit-test-passphrase",
		AdminToken:       testToken,
		JWTSecret:        []byte("unit-test-jwt-secret"),
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth(t *testing.T) {
	ctler := NewController(newTestApp(t))
	router, err := ctler.NewRouter()
	require.NoError(t, err)

	// Health is public.
	rec := doJSON(t, router, http.MethodGet, "/api/health", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Protected routes reject missing and wrong tokens.
	rec = doJSON(t, router, http.MethodGet, "/api/stats", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The admin token passes.
	rec = doJSON(t, router, http.MethodGet, "/api/stats", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The event stream carries every account's sweep activity and must not
	// accept anonymous upgrade requests.
	rec = doJSON(t, router, http.MethodGet, "/api/ws", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccountLifecycle(t *testing.T) {
	ctler := NewController(newTestApp(t))
	router, err := ctler.NewRouter()
	require.NoError(t, err)

	// Create.
	rec := doJSON(t, router, http.MethodPost, "/api/accounts", map[string]string{
		"id":          "alice",
		"mnemonic":    testMnemonic,
		"destination": testDest,
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "alice", created["id"])
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", created["address"])

	// Detail never exposes the sealed secret.
	rec = doJSON(t, router, http.MethodGet, "/api/accounts/alice", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "alice", detail["id"])
	assert.NotContains(t, detail, "secret_cipher")
	assert.NotContains(t, rec.Body.String(), "test test test")

	// Delete.
	rec = doJSON(t, router, http.MethodDelete, "/api/accounts/alice", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/accounts/alice", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountCreateValidation(t *testing.T) {
	ctler := NewController(newTestApp(t))
	router, err := ctler.NewRouter()
	require.NoError(t, err)

	// Missing id.
	rec := doJSON(t, router, http.MethodPost, "/api/accounts", map[string]string{
		"mnemonic":    testMnemonic,
		"destination": testDest,
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Bad destination.
	rec = doJSON(t, router, http.MethodPost, "/api/accounts", map[string]string{
		"id":          "bob",
		"mnemonic":    testMnemonic,
		"destination": "not-an-address",
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Bad mnemonic.
	rec = doJSON(t, router, http.MethodPost, "/api/accounts", map[string]string{
		"id":          "bob",
		"mnemonic":    "definitely not a valid phrase",
		"destination": testDest,
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSweepStartUnknownInputs(t *testing.T) {
	ctler := NewController(newTestApp(t))
	router, err := ctler.NewRouter()
	require.NoError(t, err)

	// Unknown account.
	rec := doJSON(t, router, http.MethodPost, "/api/accounts/ghost/sweeps/ethereum/start", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Known account, unsupported chain.
	rec = doJSON(t, router, http.MethodPost, "/api/accounts", map[string]string{
		"id":          "carol",
		"mnemonic":    testMnemonic,
		"destination": testDest,
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/accounts/carol/sweeps/dogechain/start", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Stopping a sweep that never started.
	rec = doJSON(t, router, http.MethodPost, "/api/accounts/carol/sweeps/ethereum/stop", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsAndChains(t *testing.T) {
	ctler := NewController(newTestApp(t))
	router, err := ctler.NewRouter()
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/api/chains", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var chainsOut []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chainsOut))
	assert.NotEmpty(t, chainsOut)

	rec = doJSON(t, router, http.MethodGet, "/api/stats", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 0, stats["active_sweeps"])
	assert.EqualValues(t, 0, stats["accounts_registered"])
}

func TestLoginIssuesSession(t *testing.T) {
	t.Setenv("ADMIN_USER", "ops")
	t.Setenv("ADMIN_PASSWORD", "hunter2")

	ctler := NewController(newTestApp(t))
	router, err := ctler.NewRouter()
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "ops",
		"password": "hunter2",
	}, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var cookie *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "sw_session" {
			cookie = ck
		}
	}
	require.NotNil(t, cookie)

	// The session cookie authenticates protected routes.
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.AddCookie(cookie)
	sessionRec := httptest.NewRecorder()
	router.ServeHTTP(sessionRec, req)
	assert.Equal(t, http.StatusOK, sessionRec.Code)

	// Wrong password is rejected.
	rec = doJSON(t, router, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "ops",
		"password": "wrong",
	}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
