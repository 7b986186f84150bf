package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"kylan/core"
	"kylan/core/events"
	"kylan/crypto"
	"kylan/native/printer"
	"kylan/services/kyland/auth"
	"kylan/services/kyland/middleware"
	"kylan/services/kyland/receipts"
	"kylan/storage"
)

const operatorSecret = "operator-secret-0123456789"

type fixture struct {
	handler    http.Handler
	proc       *core.Processor
	hub        *Hub
	now        time.Time
	authority  *crypto.PrivateKey
	user       *crypto.PrivateKey
	stable     crypto.Address
	collateral crypto.Address
	printer    crypto.Address
}

type operationEnvelope struct {
	Receipt string          `json:"receipt"`
	Result  json.RawMessage `json:"result"`
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	authority, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	user, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	f := &fixture{
		proc:       core.NewProcessor(storage.NewMemDB()),
		hub:        NewHub(nil),
		now:        time.Unix(1_700_000_000, 0).UTC(),
		authority:  authority,
		user:       user,
		stable:     crypto.DeriveAddress([]byte("server-test"), []byte("stable")),
		collateral: crypto.DeriveAddress([]byte("server-test"), []byte("collateral")),
	}
	f.proc.SetEmitter(f.hub)
	require.NoError(t, f.proc.Seed(context.Background(), []core.GenesisAsset{{
		Address:  f.collateral,
		Decimals: 6,
		Balances: []core.GenesisBalance{{Owner: user.PubKey().Address(), Amount: 1_000}},
	}}))

	store, err := receipts.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv, err := New(Config{
		Processor:     f.proc,
		Authenticator: auth.NewAuthenticator(time.Minute, 128, func() time.Time { return f.now }, nil),
		Receipts:      store,
		RateLimiter:   middleware.NewRateLimiter(middleware.RateLimit{RequestsPerMinute: 600, Burst: 100}, nil),
		Operator:      middleware.NewOperatorAuth(middleware.OperatorConfig{HMACSecret: operatorSecret}, nil),
		Hub:           f.hub,
	})
	require.NoError(t, err)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) signed(t *testing.T, key *crypto.PrivateKey, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	f.now = f.now.Add(time.Second)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	require.NoError(t, auth.Sign(req, key, raw, f.now))
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	return res
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
	return res
}

func (f *fixture) operator(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "ops@kylan",
		"role": middleware.RoleOperator,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(operatorSecret))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	return res
}

func decodeEnvelope(t *testing.T, res *httptest.ResponseRecorder, result any) operationEnvelope {
	t.Helper()
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var env operationEnvelope
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &env))
	if result != nil {
		require.NoError(t, json.Unmarshal(env.Result, result))
	}
	return env
}

func requireErrorCode(t *testing.T, res *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, res.Code, res.Body.String())
	var body errorBody
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Equal(t, code, body.Code)
}

// bootstrap creates the printer and a price/fee certificate for the collateral.
func (f *fixture) bootstrap(t *testing.T) {
	t.Helper()
	var created struct {
		Address crypto.Address `json:"address"`
	}
	decodeEnvelope(t, f.signed(t, f.authority, "/v1/printers", map[string]any{
		"stableAsset": f.stable.String(),
		"decimals":    6,
	}), &created)
	require.False(t, created.Address.IsZero())
	f.printer = created.Address

	decodeEnvelope(t, f.signed(t, f.authority, "/v1/certs", map[string]any{
		"printer":    f.printer.String(),
		"collateral": f.collateral.String(),
		"price":      "2000000",
		"fee":        50_000,
	}), nil)
}

func (f *fixture) amount(amount uint64) map[string]any {
	return map[string]any{
		"printer":    f.printer.String(),
		"collateral": f.collateral.String(),
		"amount":     amount,
	}
}

func TestPrintAndBurnOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	userAddr := f.user.PubKey().Address()

	var printed struct {
		Staked  uint64 `json:"staked"`
		Printed uint64 `json:"printed"`
		Cheque  uint64 `json:"cheque"`
	}
	env := decodeEnvelope(t, f.signed(t, f.user, "/v1/print", f.amount(100)), &printed)
	require.Equal(t, uint64(100), printed.Staked)
	require.Equal(t, uint64(200), printed.Printed)
	require.Equal(t, uint64(200), printed.Cheque)
	require.NotEmpty(t, env.Receipt)

	res := f.get(t, fmt.Sprintf("/v1/balances/%s/%s", f.stable, userAddr))
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, fmt.Sprintf(`{"asset":%q,"owner":%q,"balance":"200"}`, f.stable, userAddr), res.Body.String())

	var burned struct {
		Burned   uint64 `json:"burned"`
		Unstaked uint64 `json:"unstaked"`
		Fee      uint64 `json:"fee"`
		Cheque   uint64 `json:"cheque"`
	}
	decodeEnvelope(t, f.signed(t, f.user, "/v1/burn", f.amount(200)), &burned)
	require.Equal(t, uint64(95), burned.Unstaked)
	require.Equal(t, uint64(5), burned.Fee)
	require.Zero(t, burned.Cheque)

	res = f.get(t, fmt.Sprintf("/v1/cheques/%s/%s/%s", f.printer, f.collateral, userAddr))
	require.Equal(t, http.StatusOK, res.Code)
	var cheque struct {
		Amount uint64 `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &cheque))
	require.Zero(t, cheque.Amount)

	res = f.get(t, "/v1/receipts?operation=print")
	require.Equal(t, http.StatusOK, res.Code)
	var listed struct {
		Receipts []receipts.Receipt `json:"receipts"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &listed))
	require.Len(t, listed.Receipts, 1)
	require.Equal(t, env.Receipt, listed.Receipts[0].ID.String())
	require.Equal(t, userAddr.String(), listed.Receipts[0].Caller)

	res = f.get(t, "/v1/receipts/"+env.Receipt)
	require.Equal(t, http.StatusOK, res.Code)
	requireErrorCode(t, f.get(t, "/v1/receipts/"+uuid.NewString()), http.StatusNotFound, codeNotFound)
}

func TestCertificateAdministration(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	cert := map[string]any{"printer": f.printer.String(), "collateral": f.collateral.String()}

	withState := map[string]any{"state": "print_only"}
	for k, v := range cert {
		withState[k] = v
	}
	requireErrorCode(t, f.signed(t, f.user, "/v1/certs/state", withState), http.StatusForbidden, codeUnauthorized)

	var updated struct {
		State string `json:"state"`
	}
	decodeEnvelope(t, f.signed(t, f.authority, "/v1/certs/state", withState), &updated)
	require.Equal(t, "print_only", updated.State)

	decodeEnvelope(t, f.signed(t, f.user, "/v1/print", f.amount(10)), nil)
	requireErrorCode(t, f.signed(t, f.user, "/v1/burn", f.amount(10)), http.StatusConflict, codeNotBurnable)

	withState["state"] = "uninitialized"
	requireErrorCode(t, f.signed(t, f.authority, "/v1/certs/state", withState), http.StatusBadRequest, codeUninitializedCert)

	withFee := map[string]any{"fee": 1_000_001}
	for k, v := range cert {
		withFee[k] = v
	}
	requireErrorCode(t, f.signed(t, f.authority, "/v1/certs/fee", withFee), http.StatusBadRequest, codeInvalidArgument)

	res := f.get(t, fmt.Sprintf("/v1/certs/%s/%s", f.printer, f.collateral))
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"fee":50000`)

	requireErrorCode(t, f.signed(t, f.authority, "/v1/certs", map[string]any{
		"printer":    f.printer.String(),
		"collateral": f.collateral.String(),
		"price":      1,
	}), http.StatusConflict, codeAlreadyExists)
}

func TestSignedRoutesRejectUnauthenticated(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)

	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/print", strings.NewReader(`{}`)))
	requireErrorCode(t, res, http.StatusUnauthorized, codeUnauthenticated)

	raw, err := json.Marshal(f.amount(1))
	require.NoError(t, err)
	f.now = f.now.Add(time.Second)
	first := httptest.NewRequest(http.MethodPost, "/v1/print", bytes.NewReader(raw))
	require.NoError(t, auth.Sign(first, f.user, raw, f.now))
	replay := httptest.NewRequest(http.MethodPost, "/v1/print", bytes.NewReader(raw))
	replay.Header = first.Header.Clone()

	res = httptest.NewRecorder()
	f.handler.ServeHTTP(res, first)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res = httptest.NewRecorder()
	f.handler.ServeHTTP(res, replay)
	requireErrorCode(t, res, http.StatusUnauthorized, codeUnauthenticated)

	requireErrorCode(t, f.signed(t, f.user, "/v1/print", map[string]any{"amount": "lots"}), http.StatusBadRequest, codeInvalidArgument)
	requireErrorCode(t, f.get(t, "/v1/printers/not-an-address"), http.StatusBadRequest, codeInvalidArgument)
}

func TestOperatorPauseBlocksPrinting(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)

	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/admin/pause", nil))
	require.Equal(t, http.StatusUnauthorized, res.Code)

	require.Equal(t, http.StatusOK, f.operator(t, "/admin/pause").Code)
	require.True(t, f.proc.Paused())
	requireErrorCode(t, f.signed(t, f.user, "/v1/print", f.amount(10)), http.StatusServiceUnavailable, codeModulePaused)

	require.Equal(t, http.StatusOK, f.operator(t, "/admin/resume").Code)
	decodeEnvelope(t, f.signed(t, f.user, "/v1/print", f.amount(10)), nil)

	res = f.get(t, "/v1/receipts?operation=pause")
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"caller":"ops@kylan"`)
}

func TestClassifyStableCodes(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{printer.ErrInvalidTreasurer, http.StatusConflict, codeInvalidTreasurer},
		{fmt.Errorf("print: %w", printer.ErrInvalidTreasurer), http.StatusConflict, codeInvalidTreasurer},
		{printer.ErrInsufficientLedger, http.StatusConflict, codeInsufficientLedger},
		{printer.ErrInvalidAmount, http.StatusBadRequest, codeInvalidArgument},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError, codeInternal},
	}
	for _, tc := range cases {
		status, code := classify(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
		require.Equal(t, tc.code, code, tc.err.Error())
	}

	rec := httptest.NewRecorder()
	writeError(rec, printer.ErrInvalidTreasurer)
	requireErrorCode(t, rec, http.StatusConflict, codeInvalidTreasurer)
}

func TestHubFiltersAndDrops(t *testing.T) {
	hub := NewHub(nil)
	printed, cancelPrinted := hub.Subscribe(events.TypePrinterPrinted)
	defer cancelPrinted()
	all, cancelAll := hub.Subscribe()
	p := crypto.DeriveAddress([]byte("hub-test"), []byte("printer"))

	hub.Emit(events.Printed{Printer: p, Staked: 1, Printed: 2})
	hub.Emit(events.Burned{Printer: p, Burned: 2})
	require.Equal(t, events.TypePrinterPrinted, (<-printed).Type)
	require.Len(t, printed, 0)
	require.Len(t, all, 2)

	for i := 0; i < subscriberBacklog; i++ {
		hub.Emit(events.Burned{Printer: p, Burned: uint64(i)})
	}
	require.Len(t, all, subscriberBacklog)

	cancelAll()
	cancelAll()
	for range all {
	}
	_, open := <-all
	require.False(t, open)
}

func TestEventStreamOverWebsocket(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/events?type="+events.TypePrinterInitialized, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		f.hub.mu.Lock()
		defer f.hub.mu.Unlock()
		return len(f.hub.subs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.bootstrap(t)
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt struct {
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
	}
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, events.TypePrinterInitialized, evt.Type)
	require.Equal(t, f.printer.String(), evt.Attributes["printer"])
}

func TestEventStreamHonoursCORSOrigins(t *testing.T) {
	proc := core.NewProcessor(storage.NewMemDB())
	hub := NewHub(nil)
	srv, err := New(Config{
		Processor:     proc,
		Authenticator: auth.NewAuthenticator(time.Minute, 16, nil, nil),
		Hub:           hub,
		CORS:          middleware.CORSConfig{AllowedOrigins: []string{"https://app.kylan.example"}},
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	endpoint := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	dial := func(origin string) (*websocket.Conn, *http.Response, error) {
		return websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: http.Header{"Origin": []string{origin}}})
	}

	_, res, err := dial("https://evil.example")
	require.Error(t, err)
	if res != nil {
		require.Equal(t, http.StatusForbidden, res.StatusCode)
	}

	conn, _, err := dial("https://app.kylan.example")
	require.NoError(t, err)
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestHubAllowOriginsDefaultsToAny(t *testing.T) {
	hub := NewHub(nil)
	hub.AllowOrigins(nil)
	require.Equal(t, []string{"*"}, hub.origins)
	hub.AllowOrigins([]string{" https://app.kylan.example ", "*.kylan.example", ""})
	require.Equal(t, []string{"app.kylan.example", "*.kylan.example"}, hub.origins)
}
