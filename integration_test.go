package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"payment-orchestrator/internal/config"
	"payment-orchestrator/internal/server"
)

const sadadReference = "900100200"

// downstream fakes the wallet, user, biller, lending and notification services.
type downstream struct {
	mu        sync.Mutex
	balances  map[string]int64
	charges   int
	recharges int
	notified  []string
}

func (d *downstream) router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/wallet/balance/{account}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		writeBody(w, map[string]interface{}{"data": map[string]interface{}{
			"amount": d.balances[mux.Vars(r)["account"]], "currency": r.URL.Query().Get("currency"),
		}})
	})
	r.HandleFunc("/wallet/{op}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RetailerID string `json:"retailerId"`
			Money      struct {
				Amount int64 `json:"amount"`
			} `json:"money"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		d.mu.Lock()
		defer d.mu.Unlock()
		if mux.Vars(r)["op"] == "charge" {
			d.charges++
			d.balances[body.RetailerID] -= body.Money.Amount
		} else {
			d.recharges++
			d.balances[body.RetailerID] += body.Money.Amount
		}
		writeBody(w, map[string]string{"status": "ok"})
	}).Methods("POST")

	r.HandleFunc("/users/{account}", func(w http.ResponseWriter, r *http.Request) {
		account := mux.Vars(r)["account"]
		if account != "10001" {
			w.WriteHeader(http.StatusNotFound)
			writeBody(w, map[string]string{"message": "user not found"})
			return
		}
		writeBody(w, map[string]interface{}{"data": map[string]string{"id": account, "name": "Corner Store"}})
	})

	r.HandleFunc("/eefa/simple/upload", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, map[string]interface{}{"data": map[string]string{"sadadNumber": sadadReference}})
	})
	r.HandleFunc("/eefa/cancel", func(w http.ResponseWriter, r *http.Request) {})
	r.HandleFunc("/eefa/bill/info", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, map[string]interface{}{"data": map[string]string{"statusCode": "UNPAID"}})
	})

	r.HandleFunc("/lending/loanTransaction/getRemainingLiabilityAmountByOrderId", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, map[string]interface{}{"retailerId": 10001, "remaingLiabilityAmount": 150000, "currency": "PKR"})
	})
	r.HandleFunc("/lending/loanTransaction/loanRepaymentThroughThirdParties", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, map[string]bool{"success": true})
	})

	r.HandleFunc("/owner", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.notified = append(d.notified, r.Header.Get("idempotency-key"))
		d.mu.Unlock()
	}).Methods("PUT")
	r.HandleFunc("/push", func(w http.ResponseWriter, r *http.Request) {})

	return r
}

func (d *downstream) balance(account string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.balances[account]
}

func writeBody(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type IntegrationTestSuite struct {
	suite.Suite
	postgresContainer *tcpostgres.PostgresContainer
	serverInstance    *server.Server
	baseURL           string
	client            *http.Client
	downstream        *downstream
	downstreamServer  *httptest.Server
}

func (suite *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("payments"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(suite.T(), err, "failed to start postgres container")
	suite.postgresContainer = container

	host, err := container.Host(ctx)
	require.NoError(suite.T(), err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(suite.T(), err)

	suite.downstream = &downstream{balances: map[string]int64{"10001": 10000}}
	suite.downstreamServer = httptest.NewServer(suite.downstream.router())
	ds := suite.downstreamServer.URL

	cfg := &config.Config{
		DBHost:        host,
		DBPort:        port.Port(),
		DBUser:        "postgres",
		DBPassword:    "password",
		DBName:        "payments",
		DBSSLMode:     "disable",
		DBAutoMigrate: true,
		ServerPort:    "0",
		StoreDriver:   config.StoreDriverPostgres,

		WalletEndpoint:       ds + "/wallet",
		LendingEndpoint:      ds + "/lending",
		UserEndpoint:         ds + "/users",
		OwnerEndpoint:        ds + "/owner",
		NotificationEndpoint: ds + "/push",
		SadadEndpoint:        ds + "/eefa",
		SadadIntentExpiry:    48 * time.Hour,

		EasypaisaUsername: "ep",
		EasypaisaPassword: "secret",
		TopupIntentTTL:    48 * time.Hour,

		RetryTimeout:       5 * time.Second,
		RetryMaxRetries:    1,
		RetryBaseDelay:     10 * time.Millisecond,
		RetryMaxDelay:      50 * time.Millisecond,
		BreakerMaxFailures: 100,
		BreakerOpenTimeout: time.Second,
	}

	serverInstance, serverPort, err := server.StartServer(cfg)
	require.NoError(suite.T(), err, "failed to start application server")
	suite.serverInstance = serverInstance
	suite.baseURL = "http://localhost:" + serverPort
	suite.client = &http.Client{Timeout: 30 * time.Second}

	require.NoError(suite.T(), suite.waitForServerReady())
}

func (suite *IntegrationTestSuite) waitForServerReady() error {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(suite.baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return context.DeadlineExceeded
}

func (suite *IntegrationTestSuite) TearDownSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if suite.serverInstance != nil {
		suite.serverInstance.Stop(ctx)
	}
	if suite.downstreamServer != nil {
		suite.downstreamServer.Close()
	}
	if suite.postgresContainer != nil {
		suite.postgresContainer.Terminate(ctx)
	}
}

func (suite *IntegrationTestSuite) call(method, path, key string, body interface{}) (int, map[string]interface{}) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(suite.T(), err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, suite.baseURL+path, reader)
	require.NoError(suite.T(), err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("idempotency-key", key)
	}

	resp, err := suite.client.Do(req)
	require.NoError(suite.T(), err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(suite.T(), err)
	suite.T().Logf("%s %s -> %d %s", method, path, resp.StatusCode, raw)

	var decoded map[string]interface{}
	if len(raw) > 0 {
		require.NoError(suite.T(), json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func dataOf(body map[string]interface{}) map[string]interface{} {
	data, _ := body["data"].(map[string]interface{})
	return data
}

func (suite *IntegrationTestSuite) stepHealthCheck() {
	status, body := suite.call("GET", "/health", "", nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), "healthy", body["status"])
}

func (suite *IntegrationTestSuite) stepWalletHoldChargeRollback() {
	hold := map[string]interface{}{
		"account":         "10001",
		"paymentMethod":   "WALLET",
		"money":           map[string]interface{}{"amount": 4500, "currency": "PKR"},
		"transactionType": "ORDER_PAYMENT",
	}

	status, _ := suite.call("POST", "/payments/hold", "order-1", hold)
	assert.Equal(suite.T(), http.StatusOK, status)
	status, _ = suite.call("POST", "/payments/hold", "order-1", hold)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), int64(5500), suite.downstream.balance("10001"), "replayed hold must charge once")

	status, body := suite.call("POST", "/payments/charge", "order-1", map[string]string{"transactionType": "ORDER_PAYMENT"})
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), "CHARGE", dataOf(body)["action"])

	status, body = suite.call("POST", "/payments/rollback", "order-1", map[string]string{"comments": "order cancelled"})
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), false, dataOf(body)["isReleased"])
	assert.Equal(suite.T(), int64(10000), suite.downstream.balance("10001"))

	status, _ = suite.call("POST", "/payments/rollback", "order-1", nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), int64(10000), suite.downstream.balance("10001"), "replayed rollback must refund once")

	status, body = suite.call("POST", "/payments/release", "order-1", nil)
	assert.Equal(suite.T(), http.StatusConflict, status)
	assert.NotNil(suite.T(), body["error"])
}

func (suite *IntegrationTestSuite) stepInsufficientFunds() {
	status, body := suite.call("POST", "/payments/hold", "order-2", map[string]interface{}{
		"account":       "10001",
		"paymentMethod": "WALLET",
		"money":         map[string]interface{}{"amount": 1000000, "currency": "PKR"},
	})
	assert.Equal(suite.T(), http.StatusPreconditionFailed, status)
	errBody, _ := body["error"].(map[string]interface{})
	assert.Equal(suite.T(), "INSUFFICIENT_BALANCE", errBody["message"])

	status, _ = suite.call("GET", "/payments/status", "order-2", nil)
	assert.Equal(suite.T(), http.StatusNotFound, status)
}

func (suite *IntegrationTestSuite) stepSadadWebhook() {
	status, body := suite.call("POST", "/payments/hold", "sadad-order-1", map[string]interface{}{
		"account":       "10001",
		"paymentMethod": "SADAD",
		"money":         map[string]interface{}{"amount": 12550, "currency": "SAR"},
	})
	require.Equal(suite.T(), http.StatusOK, status)
	intent, _ := dataOf(body)["intent"].(map[string]interface{})
	assert.Equal(suite.T(), sadadReference, intent["provider_ref"])

	notification := map[string]interface{}{
		"sadadPaymentId": "pay-1",
		"sadadNumber":    sadadReference,
		"paymentAmount":  125.50,
		"paymentStatus":  "APPROVED",
	}
	status, body = suite.call("POST", "/payments/sadad/notification", "", notification)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.EqualValues(suite.T(), 200, body["status"])

	status, _ = suite.call("POST", "/payments/sadad/notification", "", notification)
	assert.Equal(suite.T(), http.StatusOK, status)

	status, body = suite.call("GET", "/payments/intent-status", "sadad-order-1", nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), "COMPLETED", dataOf(body)["state"])

	suite.downstream.mu.Lock()
	assert.Equal(suite.T(), []string{"sadad-order-1", "sadad-order-1"}, suite.downstream.notified)
	suite.downstream.mu.Unlock()
}

func (suite *IntegrationTestSuite) stepEasypaisaWalletTopup() {
	status, body := suite.call("POST", "/payments/topup-intents", "topup-1", map[string]interface{}{
		"account": "10001",
		"money":   map[string]interface{}{"amount": 250000, "currency": "PKR"},
	})
	require.Equal(suite.T(), http.StatusCreated, status)
	assert.Equal(suite.T(), "WT10001", dataOf(body)["bill_number"])

	inquiry := map[string]string{
		"username":        "ep",
		"password":        "secret",
		"Consumer_number": "WT10001",
		"Bank_Mnemonic":   "EPBANK",
	}
	status, body = suite.call("POST", "/easypaisa/BillInquiry", "", inquiry)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), "00", body["response_Code"])
	assert.Equal(suite.T(), "U", body["bill_status"])
	assert.Equal(suite.T(), "+0000000250000", body["amount_within_dueDate"])

	payment := map[string]string{
		"username":           "ep",
		"password":           "secret",
		"consumer_number":    "WT10001",
		"tran_auth_id":       "auth-1",
		"transaction_amount": "+0000000250000",
		"tran_date":          "20240310",
		"tran_time":          "101500",
		"bank_mnemonic":      "EPBANK",
	}
	before := suite.downstream.balance("10001")
	status, body = suite.call("POST", "/easypaisa/BillPayment", "", payment)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), "00", body["response_Code"])
	assert.Equal(suite.T(), before+250000, suite.downstream.balance("10001"))

	status, body = suite.call("POST", "/easypaisa/BillPayment", "", payment)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), "03", body["response_Code"])
	assert.Equal(suite.T(), before+250000, suite.downstream.balance("10001"), "duplicate confirmation must not credit again")

	status, body = suite.call("POST", "/easypaisa/BillInquiry", "", inquiry)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), "P", body["bill_status"])
	assert.Equal(suite.T(), "20240310", body["date_paid"])
}

func (suite *IntegrationTestSuite) stepMetricsExposed() {
	resp, err := suite.client.Get(suite.baseURL + "/metrics")
	require.NoError(suite.T(), err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Contains(suite.T(), string(raw), "payment_procedures_total")
	assert.Contains(suite.T(), string(raw), "payment_http_requests_total")
}

// TestFlow runs the steps in order against one database and server.
func (suite *IntegrationTestSuite) TestFlow() {
	suite.stepHealthCheck()
	suite.stepWalletHoldChargeRollback()
	suite.stepInsufficientFunds()
	suite.stepSadadWebhook()
	suite.stepEasypaisaWalletTopup()
	suite.stepMetricsExposed()
}

func TestIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
