package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mdade/swapvault/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing (in-memory storage)
func testConfig() *config.Config {
	return &config.Config{
		Port:            "0",
		Env:             "development",
		LogLevel:        "error",
		TradeLockWindow: 10 * time.Minute,
		SweepInterval:   30 * time.Second,
		RateLimitRPS:    1000,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// doJSON issues a JSON request as the given user and decodes the response.
func doJSON(t *testing.T, s *Server, method, path, userID, body string) (int, map[string]interface{}) {
	t.Helper()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	s.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
		}
	}
	return w.Code, resp
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestTradeRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	tradeRoutes := map[string]bool{
		"POST:/v1/listings/:id/trades": false,
		"GET:/v1/listings/:id/trades":  false,
		"GET:/v1/trades/:id":           false,
		"POST:/v1/trades/:id/respond":  false,
		"POST:/v1/trades/:id/lock":     false,
		"POST:/v1/trades/:id/cancel":   false,
		"GET:/v1/users/:id/trades":     false,
		"GET:/v1/trade-history":        false,
	}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := tradeRoutes[key]; ok {
			tradeRoutes[key] = true
		}
	}

	for route, found := range tradeRoutes {
		if !found {
			t.Errorf("Trade route %s not registered", route)
		}
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/users",
		"GET:/v1/users/:id",
		"POST:/v1/items",
		"GET:/v1/items/:id",
		"GET:/v1/users/:id/items",
		"POST:/v1/listings",
		"GET:/v1/listings",
		"POST:/v1/listings/:id/close",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// End-to-end trade flow over HTTP
// ---------------------------------------------------------------------------

func TestFullTradeFlow(t *testing.T) {
	s := newTestServer(t)

	// Register two users
	code, resp := doJSON(t, s, "POST", "/v1/users", "", `{"displayName":"Alice"}`)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201 registering user, got %d: %v", code, resp)
	}
	alice := resp["user"].(map[string]interface{})["id"].(string)

	code, resp = doJSON(t, s, "POST", "/v1/users", "", `{"displayName":"Bob"}`)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201 registering user, got %d: %v", code, resp)
	}
	bob := resp["user"].(map[string]interface{})["id"].(string)

	// Issue one item to each
	code, resp = doJSON(t, s, "POST", "/v1/items", "",
		fmt.Sprintf(`{"ownerId":%q,"name":"Holo Dragon","rarity":"legendary"}`, alice))
	if code != http.StatusCreated {
		t.Fatalf("Expected 201 creating item, got %d: %v", code, resp)
	}
	aliceItem := resp["item"].(map[string]interface{})["id"].(string)

	code, resp = doJSON(t, s, "POST", "/v1/items", "",
		fmt.Sprintf(`{"ownerId":%q,"name":"Crystal Fox","rarity":"rare"}`, bob))
	if code != http.StatusCreated {
		t.Fatalf("Expected 201 creating item, got %d: %v", code, resp)
	}
	bobItem := resp["item"].(map[string]interface{})["id"].(string)

	// Alice lists her item
	code, resp = doJSON(t, s, "POST", "/v1/listings", alice,
		fmt.Sprintf(`{"inventoryItemId":%q}`, aliceItem))
	if code != http.StatusCreated {
		t.Fatalf("Expected 201 opening listing, got %d: %v", code, resp)
	}
	listingID := resp["listing"].(map[string]interface{})["id"].(string)

	// Bob offers his item
	code, resp = doJSON(t, s, "POST", "/v1/listings/"+listingID+"/trades", bob,
		fmt.Sprintf(`{"offeredItemIds":[%q]}`, bobItem))
	if code != http.StatusCreated {
		t.Fatalf("Expected 201 creating trade, got %d: %v", code, resp)
	}
	tradeID := resp["trade"].(map[string]interface{})["id"].(string)

	// Alice accepts
	code, resp = doJSON(t, s, "POST", "/v1/trades/"+tradeID+"/respond", alice, `{"accept":true}`)
	if code != http.StatusOK {
		t.Fatalf("Expected 200 accepting trade, got %d: %v", code, resp)
	}
	if status := resp["trade"].(map[string]interface{})["status"]; status != "accepted" {
		t.Fatalf("Expected accepted status, got %v", status)
	}

	// Both parties lock
	code, resp = doJSON(t, s, "POST", "/v1/trades/"+tradeID+"/lock", alice, "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200 on first lock, got %d: %v", code, resp)
	}
	code, resp = doJSON(t, s, "POST", "/v1/trades/"+tradeID+"/lock", bob, "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200 on second lock, got %d: %v", code, resp)
	}
	if status := resp["trade"].(map[string]interface{})["status"]; status != "completed" {
		t.Fatalf("Expected completed status after dual lock, got %v", status)
	}

	// Items swapped owners
	code, resp = doJSON(t, s, "GET", "/v1/items/"+aliceItem, "", "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200 fetching item, got %d", code)
	}
	item := resp["item"].(map[string]interface{})
	if item["ownerId"] != bob {
		t.Errorf("Expected listed item owned by Bob, got %v", item["ownerId"])
	}
	if item["status"] != "available" {
		t.Errorf("Expected listed item available after swap, got %v", item["status"])
	}

	code, resp = doJSON(t, s, "GET", "/v1/items/"+bobItem, "", "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200 fetching item, got %d", code)
	}
	if owner := resp["item"].(map[string]interface{})["ownerId"]; owner != alice {
		t.Errorf("Expected offered item owned by Alice, got %v", owner)
	}

	// History records the completion
	code, resp = doJSON(t, s, "GET", "/v1/trade-history", "", "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200 fetching history, got %d", code)
	}
	history := resp["history"].([]interface{})
	if len(history) != 1 {
		t.Fatalf("Expected 1 history record, got %d", len(history))
	}
	if fs := history[0].(map[string]interface{})["finalStatus"]; fs != "completed" {
		t.Errorf("Expected completed final status, got %v", fs)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
