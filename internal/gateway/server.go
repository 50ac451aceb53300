// Package gateway is the presentation-facing API: JSON over HTTP for reads
// and operator commands, and a websocket that pushes every state update.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"trading-signalv1/internal/logger"
	"trading-signalv1/internal/metrics"
	"trading-signalv1/internal/model"
	"trading-signalv1/internal/pipeline"
	"trading-signalv1/internal/timing"
)

// Controller is the pipeline as seen by the API.
type Controller interface {
	State() model.State
	Markets() []model.Instrument
	ForceRefresh(ctx context.Context) timing.Window
	SwitchInstrument(ctx context.Context, symbol string) error
	SetTimeframe(ctx context.Context, tf model.Timeframe) error
	SetActive(active bool)
}

// Config configures the Server.
type Config struct {
	Addr            string
	RefreshLimit    int           // manual refreshes per RefreshPeriod
	RefreshPeriod   time.Duration // default 1m
	ShutdownTimeout time.Duration // default 5s
}

// Server wraps the echo instance and the websocket hub.
type Server struct {
	cfg  Config
	echo *echo.Echo
	ctl  Controller
	hub  *Hub
	log  *slog.Logger

	upgrader websocket.Upgrader
}

// NewServer builds the routes. m may be nil.
func NewServer(cfg Config, ctl Controller, m *metrics.Metrics) *Server {
	if cfg.RefreshLimit <= 0 {
		cfg.RefreshLimit = 6
	}
	if cfg.RefreshPeriod <= 0 {
		cfg.RefreshPeriod = time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		cfg:  cfg,
		echo: e,
		ctl:  ctl,
		hub:  NewHub(m),
		log:  logger.Component("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	e.Use(s.requestLogging)
	s.RegisterRoutes(e)
	return s
}

// RegisterRoutes mounts the API on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/state", s.getState)
	g.GET("/signal", s.getSignal)
	g.GET("/technicals", s.getTechnicals)
	g.GET("/markets", s.getMarkets)
	g.POST("/refresh", s.postRefresh, RateLimit(s.cfg.RefreshLimit, s.cfg.RefreshPeriod))
	g.PUT("/instrument", s.putInstrument)
	g.PUT("/timeframe", s.putTimeframe)
	g.PUT("/active", s.putActive)

	e.GET("/ws", s.serveWS)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Run serves on cfg.Addr and pushes updates to websocket clients until ctx
// is cancelled.
func (s *Server) Run(ctx context.Context, updates <-chan model.State) error {
	go s.hub.Run(ctx, updates)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", slog.String("addr", s.cfg.Addr))
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) requestLogging(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		req := c.Request()
		s.log.Debug("http request",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", c.Response().Status),
			slog.Duration("latency", time.Since(start)))
		return nil
	}
}

// ── handlers ──────────────────────────────────────────────────────────

func (s *Server) getState(c echo.Context) error {
	return SuccessResponse(c, s.ctl.State())
}

func (s *Server) getSignal(c echo.Context) error {
	st := s.ctl.State()
	if st.Signal == nil {
		return NotFoundResponse(c, "no signal yet")
	}
	return SuccessResponse(c, st.Signal)
}

func (s *Server) getTechnicals(c echo.Context) error {
	return SuccessResponse(c, s.ctl.State().Technicals)
}

func (s *Server) getMarkets(c echo.Context) error {
	var q MarketsQuery
	if errs := ReadAndValidateRequest(c, &q); errs != nil {
		return BadRequestResponse(c, errs)
	}
	all := s.ctl.Markets()
	out := make([]model.Instrument, 0, len(all))
	for _, in := range all {
		switch {
		case q.Kind == "live" && in.OTC(), q.Kind == "otc" && !in.OTC():
			continue
		}
		out = append(out, in)
	}
	return SuccessResponse(c, out)
}

type refreshResponse struct {
	Entry  time.Time `json:"entry_time"`
	Expiry time.Time `json:"expiry_time"`
	Wait   int       `json:"seconds_to_entry"`
	Active bool      `json:"active"`
}

func (s *Server) postRefresh(c echo.Context) error {
	w := s.ctl.ForceRefresh(c.Request().Context())
	return AcceptedResponse(c, refreshResponse{
		Entry:  w.Entry,
		Expiry: w.Expiry,
		Wait:   w.Wait,
		Active: s.ctl.State().Active,
	})
}

func (s *Server) putInstrument(c echo.Context) error {
	var req InstrumentRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	if err := s.ctl.SwitchInstrument(c.Request().Context(), req.Symbol); err != nil {
		return s.commandError(c, err)
	}
	return SuccessResponse(c, s.ctl.State())
}

func (s *Server) putTimeframe(c echo.Context) error {
	var req TimeframeRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	if err := s.ctl.SetTimeframe(c.Request().Context(), model.Timeframe(req.Timeframe)); err != nil {
		return s.commandError(c, err)
	}
	return SuccessResponse(c, s.ctl.State())
}

func (s *Server) putActive(c echo.Context) error {
	var req ActiveRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	s.ctl.SetActive(*req.Active)
	return SuccessResponse(c, s.ctl.State())
}

func (s *Server) commandError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, pipeline.ErrUnknownInstrument):
		return NotFoundResponse(c, []ValidationError{{Code: "ERR_UNKNOWN_INSTRUMENT", Field: "symbol", Message: err.Error()}})
	case errors.Is(err, pipeline.ErrInvalidTimeframe):
		return BadRequestResponse(c, []ValidationError{{Code: "ERR_ONEOF", Field: "timeframe", Message: err.Error()}})
	}
	s.log.Error("command failed", slog.String("path", c.Path()), slog.Any("error", err))
	return InternalServerErrorResponse(c)
}

func (s *Server) serveWS(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", slog.Any("error", err))
		return nil
	}
	s.hub.Serve(conn)
	return nil
}
