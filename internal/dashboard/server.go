// Package dashboard hosts a local HTTP status server over the pipeline:
// connector states, ladders, market digests, analytics readings, recent
// signals, recent logs and host resource usage, all as JSON.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tapeflow/config"
	"tapeflow/logger"
	"tapeflow/pipeline"
)

// Server hosts the status endpoints. Everything it serves comes from the
// coordinator's published snapshot copies, never live pipeline state.
type Server struct {
	cfg        config.DashboardConfig
	log        *logger.Log
	coord      *pipeline.Coordinator
	logStore   *logStore
	sampler    *resourceSampler
	httpServer *http.Server
}

// NewServer constructs the status server; returns nil when disabled.
func NewServer(cfg config.DashboardConfig, coord *pipeline.Coordinator, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	ls := newLogStore(cfg.LogHistory)
	log.AddHook(ls)

	return &Server{
		cfg:      cfg,
		log:      log,
		coord:    coord,
		logStore: ls,
		sampler:  newResourceSampler(cfg.ResourceHistory, cfg.RefreshInterval, log),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.logStore.close()

	s.sampler.start(ctx)
	defer s.sampler.stop()

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.router(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/api/status", s.handleStatus)
	router.GET("/api/ladder/:exchange", s.handleLadder)
	router.GET("/api/market/:exchange", s.handleMarket)
	router.GET("/api/signals", s.handleSignals)
	router.GET("/api/logs", s.handleLogs)
	router.GET("/api/resources", s.handleResources)

	return router
}

func (s *Server) handleStatus(c *gin.Context) {
	lanes := make([]gin.H, 0)
	for _, exchange := range s.coord.Exchanges() {
		entry := gin.H{
			"exchange": exchange,
			"state":    s.coord.ConnectorState(exchange).String(),
			"stats":    s.coord.ConnectorStats(exchange),
		}
		if view, ok := s.coord.View(exchange); ok {
			entry["symbol"] = view.Symbol
			entry["momentum"] = view.Momentum
			entry["volatility"] = view.RealizedVolatility
			entry["price_speed"] = view.PriceSpeed
		}
		lanes = append(lanes, entry)
	}
	c.JSON(http.StatusOK, gin.H{"lanes": lanes})
}

func (s *Server) handleLadder(c *gin.Context) {
	view, ok := s.coord.View(c.Param("exchange"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown exchange"})
		return
	}

	levels := make([]gin.H, 0, len(view.Ladder))
	for _, lvl := range view.Ladder {
		levels = append(levels, gin.H{
			"price":         lvl.Price.Key(),
			"resting_bid":   lvl.RestingBid,
			"resting_ask":   lvl.RestingAsk,
			"realtime_buy":  lvl.RealtimeBuy,
			"realtime_sell": lvl.RealtimeSell,
			"history_buy":   lvl.HistoryBuy,
			"history_sell":  lvl.HistorySell,
			"cancel_bid":    lvl.CancelBid,
			"cancel_ask":    lvl.CancelAsk,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"exchange": view.Exchange,
		"symbol":   view.Symbol,
		"levels":   levels,
	})
}

func (s *Server) handleMarket(c *gin.Context) {
	view, ok := s.coord.View(c.Param("exchange"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown exchange"})
		return
	}

	m := view.Market
	payload := gin.H{
		"exchange":   view.Exchange,
		"symbol":     view.Symbol,
		"mid":        m.Mid,
		"spread":     m.Spread,
		"bid_ratio":  m.BidRatio,
		"ask_ratio":  m.AskRatio,
		"bid_volume": m.BidVolume,
		"ask_volume": m.AskVolume,
	}
	if view.HasBid {
		payload["best_bid"] = view.BestBid.Key()
	}
	if view.HasAsk {
		payload["best_ask"] = view.BestAsk.Key()
	}
	if !m.LastTradeAt.IsZero() {
		payload["last_trade"] = gin.H{
			"price": m.LastTradePrice.Key(),
			"qty":   m.LastTradeQty,
			"side":  m.LastTradeSide.String(),
			"at":    m.LastTradeAt.Format(time.RFC3339Nano),
		}
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleSignals(c *gin.Context) {
	signals := make([]gin.H, 0)
	for _, exchange := range s.coord.Exchanges() {
		view, ok := s.coord.View(exchange)
		if !ok {
			continue
		}
		for _, sig := range view.ImbalanceHistory {
			signals = append(signals, gin.H{
				"id":        sig.ID,
				"exchange":  exchange,
				"symbol":    view.Symbol,
				"kind":      sig.Kind.String(),
				"direction": sig.Direction.String(),
				"ratio":     sig.Ratio,
				"at":        sig.At.Format(time.RFC3339Nano),
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

func (s *Server) handleLogs(c *gin.Context) {
	records := s.logStore.snapshot()
	payload := make([]gin.H, 0, len(records))
	for _, r := range records {
		payload = append(payload, gin.H{
			"timestamp": r.Timestamp.Format(time.RFC3339Nano),
			"level":     r.Level,
			"component": r.Component,
			"message":   r.Message,
			"fields":    r.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": payload})
}

func (s *Server) handleResources(c *gin.Context) {
	snapshots := s.sampler.snapshot()
	payload := make([]gin.H, 0, len(snapshots))
	for _, snap := range snapshots {
		payload = append(payload, gin.H{
			"timestamp":      snap.Timestamp.Format(time.RFC3339Nano),
			"cpu_percent":    snap.CPUPercent,
			"memory_used":    snap.MemoryUsed,
			"memory_total":   snap.MemoryTotal,
			"memory_percent": snap.MemoryPct,
		})
	}
	c.JSON(http.StatusOK, gin.H{"resources": payload})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}
	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}
	return addr
}
