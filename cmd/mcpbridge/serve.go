package main

import (
    "context"
    "errors"
    "net/http"
    "os/signal"
    "syscall"

    "github.com/spf13/cobra"
    "go.uber.org/zap"

    "mcpbridge/pkg/bridge"
    httpgw "mcpbridge/pkg/gateway/http"
    "mcpbridge/pkg/observability"
)

var serveCmd = &cobra.Command{
    Use:   "serve",
    Short: "Run the bridge until interrupted",
    RunE: func(cmd *cobra.Command, args []string) error {
        return serve(cmd.Context())
    },
}

func serve(parent context.Context) error {
    if parent == nil {
        parent = context.Background()
    }
    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil {
        return err
    }
    defer func() { _ = logger.Sync() }()
    observability.RegisterMetrics()

    zap.L().Info("mcpbridge starting")
    zap.L().Info("effective configuration", zap.Any("connection", cfg.Connection), zap.Any("orchestrator", cfg.Orchestrator))

    ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    b, err := bridge.New(cfg, bridge.Options{})
    if err != nil {
        return err
    }
    if err := b.Start(ctx); err != nil {
        // stays up: a later /connect or auto reconnect may succeed
        zap.L().Warn("initial connect failed", zap.Error(err))
    }
    defer b.Stop()

    go func() {
        for {
            select {
            case <-ctx.Done():
                return
            case err := <-b.Errors():
                zap.L().Debug("bridge event", zap.Error(err))
            }
        }
    }()

    if cfg.HTTP.Enable {
        gw := httpgw.New(b, cfg.HTTP)
        go func() {
            if err := gw.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
                zap.L().Error("http gateway stopped", zap.Error(err))
                stop()
            }
        }()
    }

    <-ctx.Done()
    zap.L().Info("shutdown requested")
    return nil
}
