package observability

import (
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/prometheus/client_golang/prometheus/testutil"
    "go.uber.org/zap"

    "mcpbridge/pkg/config"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
    RegisterMetrics()
    RegisterMetrics()

    RecordPacket("in", "ok")
    RecordViolation("rate_limited")
    RecordRoute("execution", "queued")
    SetQueueDepth(3)
    RecordHTTPRequest("GET", "/status", 200, 5*time.Millisecond)

    if got := testutil.ToFloat64(queueDepth); got != 3 {
        t.Fatalf("queue depth = %v", got)
    }
}

func TestConnectionStateGaugeIsOneHot(t *testing.T) {
    SetConnectionState("connected")
    for _, s := range ConnectionStates {
        want := 0.0
        if s == "connected" {
            want = 1
        }
        if got := testutil.ToFloat64(connState.WithLabelValues(s)); got != want {
            t.Fatalf("%s = %v, want %v", s, got, want)
        }
    }
    if n := testutil.CollectAndCount(connState); n != len(ConnectionStates) {
        t.Fatalf("series = %d", n)
    }
}

func TestSetupLoggerWritesFile(t *testing.T) {
    out := filepath.Join(t.TempDir(), "logs", "bridge.log")
    logger, err := SetupLogger(config.LogConfig{Level: "debug", Format: "json", Outputs: []string{out}})
    if err != nil {
        t.Fatalf("setup: %v", err)
    }
    defer zap.ReplaceGlobals(zap.NewNop())
    zap.L().Info("endpoint bound", zap.Int("port", 7400))
    _ = logger.Sync()
    b, err := os.ReadFile(out)
    if err != nil {
        t.Fatalf("read: %v", err)
    }
    if !strings.Contains(string(b), `"port":7400`) {
        t.Fatalf("log = %s", b)
    }
}
