package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tapeflow/config"
	"tapeflow/connector"
	"tapeflow/logger"
	"tapeflow/models"
	"tapeflow/pipeline"
)

type stubConn struct{ queue []models.Event }

func (s *stubConn) Connect(context.Context) error                      { return nil }
func (s *stubConn) Subscribe(string, connector.ChannelSet) error       { return nil }
func (s *stubConn) SendHeartbeat() error                               { return nil }
func (s *stubConn) Disconnect()                                        {}
func (s *stubConn) Reset()                                             {}
func (s *stubConn) ReconnectDelay() time.Duration                      { return 0 }
func (s *stubConn) Stats() models.StatsSnapshot                        { return models.StatsSnapshot{} }
func (s *stubConn) State() models.ConnectionState                      { return models.StateActive }
func (s *stubConn) Exchange() string                                   { return "stub" }

func (s *stubConn) ReadEvents() ([]models.Event, error) {
	out := s.queue
	s.queue = nil
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *pipeline.Coordinator) {
	t.Helper()

	conn := &stubConn{queue: []models.Event{
		models.NewDepthEvent("stub", "BTCUSDT", &models.DepthUpdate{
			Bids: []models.PriceQty{{Price: models.MustPrice("50000"), Qty: 1.5}},
			Asks: []models.PriceQty{{Price: models.MustPrice("50002"), Qty: 0.5}},
		}),
	}}
	coord := pipeline.New(pipeline.Config{TickInterval: time.Millisecond}, []pipeline.LaneSpec{
		{Exchange: "stub", Symbol: "BTCUSDT", Connector: conn},
	})
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(coord.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for len(coord.Ladder("stub")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("coordinator never published a ladder")
		}
		time.Sleep(time.Millisecond)
	}

	srv := NewServer(config.DashboardConfig{Enabled: true, Address: ":0"}, coord, logger.GetLogger())
	if srv == nil {
		t.Fatal("enabled dashboard returned nil server")
	}
	return srv, coord
}

func getJSON(t *testing.T, handler http.Handler, path string, wantCode int) map[string]interface{} {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != wantCode {
		t.Fatalf("GET %s = %d, want %d", path, rec.Code, wantCode)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return body
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.router()

	body := getJSON(t, router, "/api/status", http.StatusOK)
	lanes := body["lanes"].([]interface{})
	if len(lanes) != 1 {
		t.Fatalf("lanes = %v", lanes)
	}
	lane := lanes[0].(map[string]interface{})
	if lane["exchange"] != "stub" || lane["state"] != models.StateActive.String() {
		t.Errorf("lane = %v", lane)
	}
	if lane["symbol"] != "BTCUSDT" {
		t.Errorf("symbol = %v", lane["symbol"])
	}
}

func TestLadderEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.router()

	body := getJSON(t, router, "/api/ladder/stub", http.StatusOK)
	levels := body["levels"].([]interface{})
	if len(levels) != 2 {
		t.Fatalf("levels = %v", levels)
	}
	first := levels[0].(map[string]interface{})
	if first["price"] != "50000" || first["resting_bid"] != 1.5 {
		t.Errorf("level = %v", first)
	}

	getJSON(t, router, "/api/ladder/nosuch", http.StatusNotFound)
}

func TestMarketEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.router()

	body := getJSON(t, router, "/api/market/stub", http.StatusOK)
	if body["best_bid"] != "50000" || body["best_ask"] != "50002" {
		t.Errorf("market = %v", body)
	}
	if body["mid"] != 50001.0 {
		t.Errorf("mid = %v", body["mid"])
	}
}

func TestSignalsEndpointEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	body := getJSON(t, srv.router(), "/api/signals", http.StatusOK)
	if signals := body["signals"].([]interface{}); len(signals) != 0 {
		t.Errorf("signals = %v", signals)
	}
}

func TestDisabledServerIsNil(t *testing.T) {
	if srv := NewServer(config.DashboardConfig{}, nil, logger.GetLogger()); srv != nil {
		t.Fatal("disabled dashboard must return nil")
	}
	var srv *Server
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("nil server run = %v", err)
	}
	if srv.Address() != "" {
		t.Fatal("nil server address must be empty")
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "0.0.0.0:8080"},
		{":9090", "0.0.0.0:9090"},
		{"localhost", "localhost:8080"},
		{"127.0.0.1", "127.0.0.1:8080"},
		{"http://example.com:9000", "example.com:9000"},
		{"*:8081", "0.0.0.0:8081"},
		{" 10.0.0.1:7000 ", "10.0.0.1:7000"},
	}
	for _, tc := range cases {
		if got := normalizeAddress(tc.in); got != tc.want {
			t.Errorf("normalizeAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
