// Package httpgw exposes the bridge boundary operations over HTTP.
package httpgw

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "math"
    "net/http"
    "strings"
    "time"

    "github.com/gin-contrib/cors"
    "github.com/gin-gonic/gin"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.uber.org/zap"

    "mcpbridge/pkg/bridge"
    "mcpbridge/pkg/config"
    "mcpbridge/pkg/core/priocq"
    "mcpbridge/pkg/observability"
    "mcpbridge/pkg/osc"
    "mcpbridge/pkg/protocol"
    "mcpbridge/pkg/registry"
    "mcpbridge/pkg/router"
    "mcpbridge/pkg/security"
)

var errBadRequest = errors.New("bad request")

// Backend is the part of the bridge the gateway drives.
type Backend interface {
    Status() router.StatusSnapshot
    Connect(ctx context.Context) error
    Disconnect() error
    Route(src, dst protocol.Channel, command string, args []osc.Arg, priority int) error
    Send(address string, args ...osc.Arg) error
    Components() []registry.Registration
    Policy() *security.Policy
}

type Server struct {
    b      Backend
    cfg    config.HTTPConfig
    router *gin.Engine
}

func New(b Backend, cfg config.HTTPConfig) *Server {
    observability.RegisterMetrics()
    gin.SetMode(gin.ReleaseMode)
    r := gin.New()
    r.Use(gin.Recovery())
    r.Use(observability.RequestLogger(zap.L()))
    r.Use(observability.RequestMetricsMiddleware())
    r.Use(cors.New(cors.Config{
        AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
        AllowMethods: []string{"GET", "POST", "DELETE"},
        AllowHeaders: []string{"Origin", "Content-Type"},
        MaxAge:       12 * time.Hour,
    }))
    _ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
    s := &Server{b: b, cfg: cfg, router: r}
    s.registerRoutes()
    return s
}

// Handler returns the gin engine for embedding or httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
    srv := &http.Server{Addr: s.cfg.Listen, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
    errCh := make(chan error, 1)
    go func() { errCh <- srv.ListenAndServe() }()
    zap.L().Info("http gateway listening", zap.String("addr", s.cfg.Listen))
    select {
    case err := <-errCh:
        return err
    case <-ctx.Done():
        shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        if err := srv.Shutdown(shutdownCtx); err != nil { return err }
        return nil
    }
}

func (s *Server) registerRoutes() {
    r := s.router
    r.GET("/metrics", gin.WrapH(promhttp.Handler()))

    r.GET("/status", func(c *gin.Context) {
        c.JSON(http.StatusOK, s.b.Status())
    })

    // Operations that change state or mint credentials are limited to
    // origins the inbound policy already trusts.
    ops := r.Group("/", s.originGate())
    ops.POST("/connect", func(c *gin.Context) {
        if err := s.b.Connect(c.Request.Context()); err != nil {
            writeError(c, err)
            return
        }
        c.JSON(http.StatusOK, s.b.Status())
    })

    ops.POST("/disconnect", func(c *gin.Context) {
        if err := s.b.Disconnect(); err != nil {
            writeError(c, err)
            return
        }
        c.JSON(http.StatusOK, s.b.Status())
    })

    ops.POST("/route", func(c *gin.Context) {
        var req RouteRequest
        if err := c.ShouldBindJSON(&req); err != nil {
            c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
            return
        }
        args, err := jsonArgs(req.Args)
        if err != nil {
            writeError(c, err)
            return
        }
        if err := s.b.Route(req.Source, req.Destination, req.Command, args, req.Priority); err != nil {
            writeError(c, err)
            return
        }
        c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
    })

    ops.POST("/send", func(c *gin.Context) {
        var req SendRequest
        if err := c.ShouldBindJSON(&req); err != nil {
            c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
            return
        }
        args, err := jsonArgs(req.Args)
        if err != nil {
            writeError(c, err)
            return
        }
        if err := s.b.Send(req.Address, args...); err != nil {
            writeError(c, err)
            return
        }
        c.JSON(http.StatusOK, gin.H{"status": "sent"})
    })

    ops.POST("/tokens", func(c *gin.Context) {
        var req TokenRequest
        if err := c.ShouldBindJSON(&req); err != nil {
            c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
            return
        }
        tok, err := s.b.Policy().GenerateToken(req.Client, time.Duration(req.TTLSeconds)*time.Second, req.Commands...)
        if err != nil {
            c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
            return
        }
        c.JSON(http.StatusCreated, TokenResponse{Token: tok.ID, Client: tok.Client, Expiry: tok.Expiry, Commands: tok.CommandList()})
    })

    ops.DELETE("/tokens/:token", func(c *gin.Context) {
        if !s.b.Policy().RevokeToken(c.Param("token")) {
            c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
            return
        }
        c.Status(http.StatusNoContent)
    })

    r.GET("/components", func(c *gin.Context) {
        c.JSON(http.StatusOK, gin.H{"components": s.b.Components()})
    })
}

func (s *Server) originGate() gin.HandlerFunc {
    return func(c *gin.Context) {
        if err := s.b.Policy().CheckOrigin(c.ClientIP()); err != nil {
            zap.L().Warn("gateway origin denied", zap.String("ip", c.ClientIP()))
            c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
            return
        }
        c.Next()
    }
}

type RouteRequest struct {
    Source      protocol.Channel `json:"source"`
    Destination protocol.Channel `json:"destination"`
    Command     string           `json:"command"`
    Args        json.RawMessage  `json:"args"`
    Priority    int              `json:"priority"`
}

type SendRequest struct {
    Address string          `json:"address" binding:"required"`
    Args    json.RawMessage `json:"args"`
}

type TokenRequest struct {
    Client     string   `json:"client" binding:"required"`
    TTLSeconds int      `json:"ttl_s"`
    Commands   []string `json:"commands"`
}

type TokenResponse struct {
    Token    string    `json:"token"`
    Client   string    `json:"client"`
    Expiry   time.Time `json:"expiry"`
    Commands []string  `json:"commands,omitempty"`
}

// jsonArgs maps a JSON array onto OSC arguments. A number written without
// a fraction or exponent becomes an int32, any other number a float32, so
// 3 and 3.0 keep the type tag the caller wrote.
func jsonArgs(raw json.RawMessage) ([]osc.Arg, error) {
    if len(bytes.TrimSpace(raw)) == 0 { return nil, nil }
    dec := json.NewDecoder(bytes.NewReader(raw))
    dec.UseNumber()
    var vs []any
    if err := dec.Decode(&vs); err != nil { return nil, fmt.Errorf("%w: args: %v", errBadRequest, err) }
    out := make([]osc.Arg, 0, len(vs))
    for _, v := range vs {
        a, err := jsonArg(v)
        if err != nil { return nil, err }
        out = append(out, a)
    }
    return out, nil
}

func jsonArg(v any) (osc.Arg, error) {
    n, ok := v.(json.Number)
    if !ok {
        a, err := osc.ArgOf(v)
        if err != nil { return osc.Arg{}, fmt.Errorf("%w: %v", errBadRequest, err) }
        return a, nil
    }
    if !strings.ContainsAny(n.String(), ".eE") {
        i, err := n.Int64()
        if err != nil || i < math.MinInt32 || i > math.MaxInt32 {
            return osc.Arg{}, fmt.Errorf("%w: integer %s overflows int32", errBadRequest, n)
        }
        return osc.Int32(int32(i)), nil
    }
    f, err := n.Float64()
    if err != nil { return osc.Arg{}, fmt.Errorf("%w: %v", errBadRequest, err) }
    return osc.Float32(float32(f)), nil
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
    var v *security.Violation
    switch {
    case errors.As(err, &v):
        switch v.Kind {
        case security.SizeExceeded:
            return http.StatusRequestEntityTooLarge
        case security.RateLimited:
            return http.StatusTooManyRequests
        default:
            return http.StatusForbidden
        }
    case errors.Is(err, priocq.ErrQueueRejected), errors.Is(err, priocq.ErrQueueStopped),
        errors.Is(err, bridge.ErrNotConnected), errors.Is(err, bridge.ErrNotRunning), errors.Is(err, router.ErrNotRunning):
        return http.StatusServiceUnavailable
    case errors.Is(err, router.ErrInvalidChannel), errors.Is(err, router.ErrEmptyCommand), osc.IsProtocolError(err),
        errors.Is(err, errBadRequest):
        return http.StatusBadRequest
    default:
        return http.StatusInternalServerError
    }
}

func writeError(c *gin.Context, err error) {
    c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func normalizeOrigins(origins []string) []string {
    if len(origins) == 0 { return []string{"http://localhost:3000"} }
    return origins
}
