// Package testhelper provides a mock Binance exchange for testing.
// It implements the REST endpoints the bot touches (ticker price, klines,
// account, market orders) with an in-memory balance book, so live-backend
// code paths can run against a real HTTP round trip.
package testhelper

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// MockExchange is an in-memory Binance spot lookalike. Set a price, point a
// go-binance client's BaseURL at URL(), and orders fill instantly at that
// price against the configured balances.
type MockExchange struct {
	mu sync.RWMutex

	server *httptest.Server

	price      float64
	klines     []float64
	klineStart time.Time

	balances   map[string]float64 // asset -> free amount
	baseAsset  string
	quoteAsset string
	orderIDSeq int64

	// rejectNext forces the next order to fail with the given Binance error
	// code (e.g. -2010 for insufficient balance).
	rejectNextCode int64
	rejectNextMsg  string

	// failRequests makes every endpoint return HTTP 500 while set, to
	// exercise transient failure handling.
	failRequests bool
}

// NewMockExchange starts the server. Callers must Close() it.
func NewMockExchange() *MockExchange {
	m := &MockExchange{
		balances:   make(map[string]float64),
		baseAsset:  "BTC",
		quoteAsset: "USDT",
		klineStart: time.Now().Add(-200 * time.Minute),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/v3/ticker/price", m.handleTickerPrice).Methods(http.MethodGet)
	router.HandleFunc("/api/v3/klines", m.handleKlines).Methods(http.MethodGet)
	router.HandleFunc("/api/v3/account", m.handleAccount).Methods(http.MethodGet)
	router.HandleFunc("/api/v3/order", m.handleCreateOrder).Methods(http.MethodPost)

	m.server = httptest.NewServer(router)

	return m
}

// URL returns the base URL for client configuration.
func (m *MockExchange) URL() string {
	return m.server.URL
}

// Close shuts the server down.
func (m *MockExchange) Close() {
	m.server.Close()
}

// SetPrice sets the current ticker price.
func (m *MockExchange) SetPrice(price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = price
}

// SetKlines sets the close prices returned by the klines endpoint, oldest
// first.
func (m *MockExchange) SetKlines(closes []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.klines = append([]float64(nil), closes...)
}

// SetAssets configures the asset pair whose balances fills move. Defaults
// to BTC/USDT.
func (m *MockExchange) SetAssets(base, quote string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseAsset = base
	m.quoteAsset = quote
}

// SetBalance sets the free balance for an asset.
func (m *MockExchange) SetBalance(asset string, free float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = free
}

// GetBalance reads the free balance for an asset.
func (m *MockExchange) GetBalance(asset string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.balances[asset]
}

// RejectNextOrder makes the next order fail with the given exchange error.
func (m *MockExchange) RejectNextOrder(code int64, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNextCode = code
	m.rejectNextMsg = msg
}

// SetFailRequests toggles blanket HTTP 500 responses.
func (m *MockExchange) SetFailRequests(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRequests = fail
}

func (m *MockExchange) failing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.failRequests
}

func (m *MockExchange) handleTickerPrice(w http.ResponseWriter, r *http.Request) {
	if m.failing() {
		http.Error(w, "mock outage", http.StatusInternalServerError)

		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	symbol := r.URL.Query().Get("symbol")
	writeJSON(w, map[string]string{
		"symbol": symbol,
		"price":  strconv.FormatFloat(m.price, 'f', 8, 64),
	})
}

func (m *MockExchange) handleKlines(w http.ResponseWriter, r *http.Request) {
	if m.failing() {
		http.Error(w, "mock outage", http.StatusInternalServerError)

		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := len(m.klines)
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed < limit {
			limit = parsed
		}
	}

	closes := m.klines
	if len(closes) > limit {
		closes = closes[len(closes)-limit:]
	}

	// Binance kline wire format: a 12-element array per candle.
	rows := make([][]any, 0, len(closes))

	for i, c := range closes {
		openTime := m.klineStart.Add(time.Duration(i) * time.Minute)
		price := strconv.FormatFloat(c, 'f', 8, 64)
		rows = append(rows, []any{
			openTime.UnixMilli(),
			price, price, price, price,
			"1.0",
			openTime.Add(time.Minute).UnixMilli() - 1,
			"1.0",
			1,
			"0.5",
			"0.5",
			"0",
		})
	}

	writeJSON(w, rows)
}

func (m *MockExchange) handleAccount(w http.ResponseWriter, _ *http.Request) {
	if m.failing() {
		http.Error(w, "mock outage", http.StatusInternalServerError)

		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	balances := make([]map[string]string, 0, len(m.balances))
	for asset, free := range m.balances {
		balances = append(balances, map[string]string{
			"asset":  asset,
			"free":   strconv.FormatFloat(free, 'f', 8, 64),
			"locked": "0",
		})
	}

	writeJSON(w, map[string]any{
		"makerCommission":  10,
		"takerCommission":  10,
		"canTrade":         true,
		"accountType":      "SPOT",
		"balances":         balances,
		"updateTime":       time.Now().UnixMilli(),
		"uid":              1,
		"buyerCommission":  0,
		"sellerCommission": 0,
	})
}

func (m *MockExchange) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if m.failing() {
		http.Error(w, "mock outage", http.StatusInternalServerError)

		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rejectNextCode != 0 {
		code := m.rejectNextCode
		msg := m.rejectNextMsg
		m.rejectNextCode = 0
		m.rejectNextMsg = ""

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg})

		return
	}

	query := r.URL.Query()
	if query.Get("symbol") == "" {
		// go-binance posts parameters in the body for signed requests.
		_ = r.ParseForm()
		query = r.Form
	}

	symbol := query.Get("symbol")
	side := query.Get("side")

	if m.price <= 0 {
		http.Error(w, "no price configured", http.StatusBadRequest)

		return
	}

	var executedQty, cumQuote float64

	switch side {
	case "BUY":
		quoteAmount, err := strconv.ParseFloat(query.Get("quoteOrderQty"), 64)
		if err != nil || quoteAmount <= 0 {
			http.Error(w, "invalid quoteOrderQty", http.StatusBadRequest)

			return
		}

		executedQty = quoteAmount / m.price
		cumQuote = quoteAmount

	case "SELL":
		qty, err := strconv.ParseFloat(query.Get("quantity"), 64)
		if err != nil || qty <= 0 {
			http.Error(w, "invalid quantity", http.StatusBadRequest)

			return
		}

		executedQty = qty
		cumQuote = qty * m.price

	default:
		http.Error(w, fmt.Sprintf("unsupported side %q", side), http.StatusBadRequest)

		return
	}

	switch side {
	case "BUY":
		m.balances[m.quoteAsset] -= cumQuote
		m.balances[m.baseAsset] += executedQty
	case "SELL":
		m.balances[m.baseAsset] -= executedQty
		m.balances[m.quoteAsset] += cumQuote
	}

	m.orderIDSeq++

	writeJSON(w, map[string]any{
		"symbol":              symbol,
		"orderId":             m.orderIDSeq,
		"clientOrderId":       fmt.Sprintf("mock-%d", m.orderIDSeq),
		"transactTime":        time.Now().UnixMilli(),
		"price":               "0.00000000",
		"origQty":             strconv.FormatFloat(executedQty, 'f', 8, 64),
		"executedQty":         strconv.FormatFloat(executedQty, 'f', 8, 64),
		"cummulativeQuoteQty": strconv.FormatFloat(cumQuote, 'f', 8, 64),
		"status":              "FILLED",
		"timeInForce":         "GTC",
		"type":                "MARKET",
		"side":                side,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
