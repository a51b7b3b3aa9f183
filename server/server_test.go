package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"chainrelay/chain"
	"chainrelay/middleware"
	"chainrelay/models"
	"chainrelay/relay"
	"chainrelay/storage"
)

type stubChain struct {
	hash    common.Hash
	receipt chain.Status
}

func (s *stubChain) SubmitTransfer(context.Context, common.Address, *big.Int) (common.Hash, error) {
	return s.hash, nil
}

func (s *stubChain) ReceiptStatus(context.Context, common.Hash) chain.Status {
	return s.receipt
}

func (s *stubChain) RelayerAddress() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000AA")
}

type testEnv struct {
	db     *gorm.DB
	server *httptest.Server
	chain  *stubChain
	apiKey string
}

func setupServer(t *testing.T, configure func(*Config)) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	stub := &stubChain{
		hash:    common.HexToHash("0xabc123"),
		receipt: chain.StatusPending,
	}
	svc, err := relay.New(relay.Config{
		Users:        storage.NewUsers(db),
		Transactions: storage.NewTransactions(db),
		Chain:        stub,
		MaxAmount:    "0.1",
	})
	if err != nil {
		t.Fatalf("new relay service: %v", err)
	}

	cfg := Config{Relay: svc}
	if configure != nil {
		configure(&cfg)
	}
	ts := httptest.NewServer(New(cfg).Handler())
	t.Cleanup(ts.Close)
	return &testEnv{db: db, server: ts, chain: stub, apiKey: cfg.APIKey}
}

func (e *testEnv) request(t *testing.T, method, path, body string) (*http.Response, map[string]string) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, payload
}

const testDestination = "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"

func TestCreateUser(t *testing.T) {
	env := setupServer(t, nil)

	resp, payload := env.request(t, http.MethodPost, "/users", `{"userId":"alice"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if !addressPattern.MatchString(payload["walletAddress"]) {
		t.Fatalf("walletAddress = %q, want 0x-prefixed hex address", payload["walletAddress"])
	}

	resp, payload = env.request(t, http.MethodPost, "/users", `{"userId":"alice"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.StatusCode)
	}
	if payload["error"] == "" {
		t.Fatal("duplicate registration should carry an error message")
	}
}

func TestCreateUserRejectsEmptyID(t *testing.T) {
	env := setupServer(t, nil)
	resp, _ := env.request(t, http.MethodPost, "/users", `{"userId":"  "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestExecuteHappyPath(t *testing.T) {
	env := setupServer(t, nil)
	env.request(t, http.MethodPost, "/users", `{"userId":"alice"}`)

	body := fmt.Sprintf(`{"userId":"alice","to":"%s","amount":"0.05"}`, testDestination)
	resp, payload := env.request(t, http.MethodPost, "/execute", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if payload["hash"] != env.chain.hash.Hex() {
		t.Fatalf("hash = %q, want %q", payload["hash"], env.chain.hash.Hex())
	}
}

func TestExecuteValidation(t *testing.T) {
	env := setupServer(t, nil)
	env.request(t, http.MethodPost, "/users", `{"userId":"alice"}`)

	cases := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "unknown user",
			body:       fmt.Sprintf(`{"userId":"ghost","to":"%s","amount":"0.01"}`, testDestination),
			wantStatus: http.StatusNotFound,
			wantError:  "user not found",
		},
		{
			name:       "malformed address",
			body:       `{"userId":"alice","to":"0x123","amount":"0.01"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid destination address",
		},
		{
			name:       "non-numeric amount",
			body:       fmt.Sprintf(`{"userId":"alice","to":"%s","amount":"abc"}`, testDestination),
			wantStatus: http.StatusBadRequest,
			wantError:  "amount must be a positive number",
		},
		{
			name:       "over limit",
			body:       fmt.Sprintf(`{"userId":"alice","to":"%s","amount":"5"}`, testDestination),
			wantStatus: http.StatusBadRequest,
			wantError:  "amount exceeds maximum limit of 0.1",
		},
		{
			name:       "missing fields",
			body:       `{"userId":"alice"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "userId, to, and amount are required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, payload := env.request(t, http.MethodPost, "/execute", tc.body)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if payload["error"] != tc.wantError {
				t.Fatalf("error = %q, want %q", payload["error"], tc.wantError)
			}
		})
	}
}

func TestTransactionStatus(t *testing.T) {
	env := setupServer(t, nil)
	env.request(t, http.MethodPost, "/users", `{"userId":"alice"}`)
	body := fmt.Sprintf(`{"userId":"alice","to":"%s","amount":"0.05"}`, testDestination)
	_, payload := env.request(t, http.MethodPost, "/execute", body)
	hash := payload["hash"]

	resp, payload := env.request(t, http.MethodGet, "/tx/"+hash, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if payload["status"] != string(models.StatusPending) {
		t.Fatalf("lifecycle status = %q, want pending", payload["status"])
	}

	env.chain.receipt = chain.StatusConfirmed
	resp, payload = env.request(t, http.MethodGet, "/tx/"+hash, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if payload["status"] != string(models.StatusConfirmed) {
		t.Fatalf("lifecycle status = %q, want confirmed", payload["status"])
	}
}

func TestTransactionStatusUnknownHash(t *testing.T) {
	env := setupServer(t, nil)
	resp, payload := env.request(t, http.MethodGet, "/tx/0xmissing", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if payload["error"] != "transaction not found" {
		t.Fatalf("error = %q", payload["error"])
	}
}

func TestExecuteRateLimited(t *testing.T) {
	env := setupServer(t, func(cfg *Config) {
		cfg.RateLimiter = middleware.NewRateLimiter(5, 2)
	})
	env.request(t, http.MethodPost, "/users", `{"userId":"alice"}`)

	body := fmt.Sprintf(`{"userId":"alice","to":"%s","amount":"0.01"}`, testDestination)
	var last int
	for i := 0; i < 3; i++ {
		resp, err := http.Post(env.server.URL+"/execute", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third burst request status = %d, want 429", last)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	env := setupServer(t, func(cfg *Config) {
		cfg.APIKey = "secret-token"
	})

	// Wrong key.
	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/users", strings.NewReader(`{"userId":"alice"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	// Correct key via the helper.
	good, _ := env.request(t, http.MethodPost, "/users", `{"userId":"alice"}`)
	if good.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", good.StatusCode)
	}
}

func TestRelayerAndHealth(t *testing.T) {
	env := setupServer(t, nil)

	resp, payload := env.request(t, http.MethodGet, "/relayer", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("relayer status = %d, want 200", resp.StatusCode)
	}
	if payload["relayer"] != env.chain.RelayerAddress().Hex() {
		t.Fatalf("relayer = %q", payload["relayer"])
	}

	resp, payload = env.request(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
	if payload["status"] != "ok" {
		t.Fatalf("healthz payload = %v", payload)
	}
}
