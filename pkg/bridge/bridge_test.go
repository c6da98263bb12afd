package bridge

import (
    "context"
    "errors"
    "net"
    "strconv"
    "testing"
    "time"

    "mcpbridge/pkg/config"
    "mcpbridge/pkg/core/netstack"
    "mcpbridge/pkg/osc"
    "mcpbridge/pkg/protocol"
    "mcpbridge/pkg/security"
    "mcpbridge/pkg/transport"
    "mcpbridge/pkg/transport/mem"
)

// host plays the execution layer: it listens on port_out and sends to the
// bridge's bound port.
type host struct {
    t   *testing.T
    ln  transport.Listener
    out transport.Sender
}

func noSleep(context.Context, time.Duration) error { return nil }

func startBridge(t *testing.T, mut func(*config.Config)) (*Bridge, *host) {
    t.Helper()
    tr := mem.New()
    cfg := config.Default()
    cfg.Connection.Transport = "mem"
    cfg.Orchestrator.Workers = 1
    if mut != nil {
        mut(cfg)
    }
    ln, err := tr.Listen(context.Background(), "127.0.0.1:"+strconv.Itoa(cfg.Connection.PortOut))
    if err != nil {
        t.Fatalf("host listen: %v", err)
    }
    b, err := New(cfg, Options{Transport: tr, Sleep: noSleep})
    if err != nil {
        t.Fatalf("new: %v", err)
    }
    if err := b.Start(context.Background()); err != nil {
        t.Fatalf("start: %v", err)
    }
    t.Cleanup(func() {
        b.Stop()
        _ = ln.Close()
    })
    out, err := tr.Dial(context.Background(), "127.0.0.1:"+strconv.Itoa(b.Port()))
    if err != nil {
        t.Fatalf("host dial: %v", err)
    }
    return b, &host{t: t, ln: ln, out: out}
}

func (h *host) send(address string, vs ...any) {
    h.t.Helper()
    raw, err := osc.Encode(osc.Message{Address: address, Args: osc.MustArgs(vs...)})
    if err != nil {
        h.t.Fatalf("encode: %v", err)
    }
    if err := h.out.Send(raw); err != nil {
        h.t.Fatalf("host send: %v", err)
    }
}

func (h *host) recv() osc.Message {
    h.t.Helper()
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    pkt, err := h.ln.Recv(ctx)
    if err != nil {
        h.t.Fatalf("host recv: %v", err)
    }
    m, err := osc.Decode(pkt.Data)
    if err != nil {
        h.t.Fatalf("decode: %v", err)
    }
    return m
}

func nextError(t *testing.T, b *Bridge) error {
    t.Helper()
    select {
    case err := <-b.Errors():
        return err
    case <-time.After(2 * time.Second):
        t.Fatalf("no error reported")
        return nil
    }
}

func TestStartBindsCompatibilityWindow(t *testing.T) {
    b, _ := startBridge(t, nil)
    st := b.Status()
    if !st.Running || st.ConnectionState != "connected" {
        t.Fatalf("status = %+v", st)
    }
    if st.BoundPort != netstack.EphemeralLow {
        t.Fatalf("bound port = %d, want %d", st.BoundPort, netstack.EphemeralLow)
    }
    if st.MaxQueueSize != 100 || st.WorkerThreads != 1 || !st.AutoReconnect {
        t.Fatalf("status = %+v", st)
    }
}

func TestPingPong(t *testing.T) {
    _, h := startBridge(t, nil)
    h.send("/mcp/ping", 7, "x")
    want := osc.Message{Address: "/mcp/pong", Args: osc.MustArgs(7, "x")}
    if got := h.recv(); !got.Equal(want) {
        t.Fatalf("got %v, want %v", got, want)
    }
    h.send("/claude/ping")
    if got := h.recv(); got.Address != "/claude/pong" {
        t.Fatalf("got %v", got)
    }
}

func TestClaudeHandlers(t *testing.T) {
    _, h := startBridge(t, nil)
    h.send("/claude/ableton_command", "play", 1)
    if got := h.recv(); !got.Equal(osc.Message{Address: "/ableton/command", Args: osc.MustArgs("play", 1)}) {
        t.Fatalf("forward = %v", got)
    }
    h.send("/claude/dance")
    if got := h.recv(); !got.Equal(osc.Message{Address: "/claude/error", Args: osc.MustArgs("unknown_claude_command", "dance")}) {
        t.Fatalf("error reply = %v", got)
    }
    h.send("/claude/get_status")
    got := h.recv()
    if got.Address != "/claude/status/reply" || len(got.Args) < 2 || got.Args[0].S != "running" || !got.Args[1].Equal(osc.Bool(true)) {
        t.Fatalf("status reply = %v", got)
    }
}

func TestRouteDispatchesToHost(t *testing.T) {
    b, h := startBridge(t, nil)
    if err := b.Route(protocol.Intelligence, protocol.Execution, "play", osc.MustArgs(1), 3); err != nil {
        t.Fatalf("route: %v", err)
    }
    got := h.recv()
    if got.Address != "/mcp/dispatch/execution" {
        t.Fatalf("address = %q", got.Address)
    }
    if got.Args[1].S != "intelligence" || got.Args[5].S != "play" || got.Args[7].I != 3 || got.Args[10].I != 1 {
        t.Fatalf("args = %v", got.Args)
    }
}

func TestInboundRoutedByAddress(t *testing.T) {
    _, h := startBridge(t, nil)
    h.send("/mcp/execution/play", 1)
    got := h.recv()
    if got.Address != "/mcp/dispatch/execution" || got.Args[1].S != "interaction" || got.Args[5].S != "play" {
        t.Fatalf("got %v", got)
    }
    h.send("/mcp/nowhere")
    got = h.recv()
    if got.Address != "/mcp/dispatch/system" || got.Args[5].S != "/mcp/nowhere" {
        t.Fatalf("got %v", got)
    }
}

func TestInboundViolationsReported(t *testing.T) {
    b, h := startBridge(t, nil)
    h.send("/other/x")
    if err := nextError(t, b); !errors.Is(err, security.ErrAddressDenied) {
        t.Fatalf("err = %v", err)
    }
    h.send("/mcp/execution/delete")
    if err := nextError(t, b); !errors.Is(err, security.ErrCommandRestricted) {
        t.Fatalf("err = %v", err)
    }
    // the loop survives a malformed packet
    _ = h.out.Send([]byte("garbage"))
    if err := nextError(t, b); !osc.IsProtocolError(err) {
        t.Fatalf("err = %v", err)
    }
    h.send("/mcp/ping")
    if got := h.recv(); got.Address != "/mcp/pong" {
        t.Fatalf("got %v", got)
    }
}

func TestTokenCarriedAsFirstArgument(t *testing.T) {
    b, h := startBridge(t, func(c *config.Config) { c.Security.TokenRequired = true })
    tok, err := b.Policy().GenerateToken("host", time.Minute)
    if err != nil {
        t.Fatalf("token: %v", err)
    }
    h.send("/mcp/ping", "wrong", 1)
    if err := nextError(t, b); !errors.Is(err, security.ErrUnauthorized) {
        t.Fatalf("err = %v", err)
    }
    h.send("/mcp/ping", tok.ID, 1)
    if got := h.recv(); !got.Equal(osc.Message{Address: "/mcp/pong", Args: osc.MustArgs(1)}) {
        t.Fatalf("got %v", got)
    }
}

func TestRequestReplyAndTimeout(t *testing.T) {
    b, h := startBridge(t, nil)
    done := make(chan struct{})
    go func() {
        defer close(done)
        m := h.recv()
        h.send("/mcp/answer", m.Args[0].I+1)
    }()
    reply, err := b.Request(context.Background(), "/mcp/question", osc.MustArgs(41), "/mcp/answer", time.Second)
    <-done
    if err != nil {
        t.Fatalf("request: %v", err)
    }
    if reply.Args[0].I != 42 {
        t.Fatalf("reply = %v", reply)
    }

    _, err = b.Request(context.Background(), "/mcp/question", nil, "/mcp/never", 20*time.Millisecond)
    if !errors.Is(err, ErrRequestTimeout) {
        t.Fatalf("err = %v", err)
    }
    if n := b.PendingRequests(); n != 0 {
        t.Fatalf("pending = %d", n)
    }
}

func TestOnMessageExactBeforePattern(t *testing.T) {
    b, h := startBridge(t, nil)
    got := make(chan string, 2)
    _ = b.OnMessage("/mcp/user/*", func(_ context.Context, m osc.Message) error { got <- "pattern " + m.Address; return nil })
    _ = b.OnMessage("/mcp/user/exact", func(_ context.Context, m osc.Message) error { got <- "exact"; return nil })
    h.send("/mcp/user/exact")
    h.send("/mcp/user/other")
    for _, want := range []string{"exact", "pattern /mcp/user/other"} {
        select {
        case g := <-got:
            if g != want {
                t.Fatalf("got %q, want %q", g, want)
            }
        case <-time.After(2 * time.Second):
            t.Fatalf("handler not called for %q", want)
        }
    }
}

func TestSendPayload(t *testing.T) {
    b, h := startBridge(t, nil)
    if err := b.SendPayload("/mcp/state", protocol.FormatCBOR, map[string]any{"tempo": 120}); err != nil {
        t.Fatalf("send payload: %v", err)
    }
    m := h.recv()
    var v map[string]any
    f, err := b.DecodePayload(m.Args[0], &v)
    if err != nil || f != protocol.FormatCBOR {
        t.Fatalf("decode: %v %v", f, err)
    }
    if n, ok := v["tempo"].(uint64); !ok || n != 120 {
        t.Fatalf("payload = %#v", v)
    }
}

func TestOutboundSizeGate(t *testing.T) {
    b, _ := startBridge(t, func(c *config.Config) { c.Security.MaxMessageSize = 32 })
    err := b.Send("/mcp/big", osc.Blob(make([]byte, 64)))
    if !errors.Is(err, security.ErrSizeExceeded) {
        t.Fatalf("err = %v", err)
    }
    if b.ConnectionState() != netstack.Connected {
        t.Fatalf("size violation must not drop the connection")
    }
}

func TestDisconnectAndLifecycle(t *testing.T) {
    b, _ := startBridge(t, nil)
    for i := 0; i < 2; i++ {
        if err := b.Disconnect(); err != nil {
            t.Fatalf("disconnect %d: %v", i, err)
        }
        if b.ConnectionState() != netstack.Disconnected || b.Port() != 0 {
            t.Fatalf("state = %v port = %d", b.ConnectionState(), b.Port())
        }
    }
    if err := b.Send("/mcp/x"); !errors.Is(err, ErrNotConnected) {
        t.Fatalf("send: %v", err)
    }
    if err := b.Connect(context.Background()); err != nil {
        t.Fatalf("reconnect: %v", err)
    }
    b.Stop()
    b.Stop()
    if err := b.Send("/mcp/x"); !errors.Is(err, ErrNotRunning) {
        t.Fatalf("send after stop: %v", err)
    }
    if err := b.Start(context.Background()); !errors.Is(err, ErrStopped) {
        t.Fatalf("restart: %v", err)
    }
}

func TestConnectFailureKeepsRunning(t *testing.T) {
    tr := mem.New()
    // occupy the only port the binder may try
    ln, _ := tr.Listen(context.Background(), "127.0.0.1:9000")
    defer ln.Close()
    cfg := config.Default()
    cfg.Connection.PortIn = 9000
    cfg.Connection.DynamicPorts = false
    cfg.Connection.RetryCount = 2
    b, err := New(cfg, Options{Transport: tr, Sleep: noSleep})
    if err != nil {
        t.Fatalf("new: %v", err)
    }
    defer b.Stop()
    err = b.Start(context.Background())
    if !errors.Is(err, netstack.ErrRetriesExhausted) {
        t.Fatalf("start: %v", err)
    }
    if !b.Running() || b.ConnectionState() != netstack.Disconnected {
        t.Fatalf("running=%v state=%v", b.Running(), b.ConnectionState())
    }
    if err := b.Route(protocol.System, protocol.Execution, "queued", nil, 0); err != nil {
        t.Fatalf("route while disconnected: %v", err)
    }
}

func TestAbsentPeerKeepsConnection(t *testing.T) {
    b, h := startBridge(t, nil)
    port := b.Port()
    _ = h.ln.Close()

    err := b.Send("/mcp/x")
    if !transport.IsRefused(err) {
        t.Fatalf("send to absent peer: %v", err)
    }
    if b.ConnectionState() != netstack.Connected || b.Port() != port {
        t.Fatalf("state = %v port %d -> %d", b.ConnectionState(), port, b.Port())
    }
    got := make(chan struct{}, 1)
    _ = b.OnMessage("/mcp/user/check", func(context.Context, osc.Message) error { got <- struct{}{}; return nil })
    h.send("/mcp/user/check")
    select {
    case <-got:
    case <-time.After(2 * time.Second):
        t.Fatalf("inbound stopped after a refused send")
    }
}

func TestUDPRefusedSendKeepsReceivePort(t *testing.T) {
    // reserve a port, then free it so nothing listens on port_out
    pc, err := net.ListenPacket("udp", "127.0.0.1:0")
    if err != nil {
        t.Fatalf("reserve: %v", err)
    }
    peerPort := pc.LocalAddr().(*net.UDPAddr).Port
    _ = pc.Close()

    cfg := config.Default()
    cfg.Connection.Transport = "udp"
    cfg.Connection.PortIn = 0
    cfg.Connection.DynamicPorts = false
    cfg.Connection.PortOut = peerPort
    cfg.Orchestrator.Workers = 1
    b, err := New(cfg, Options{Sleep: noSleep})
    if err != nil {
        t.Fatalf("new: %v", err)
    }
    defer b.Stop()
    if err := b.Start(context.Background()); err != nil {
        t.Fatalf("start: %v", err)
    }
    port := b.Port()

    for i := 0; i < 10; i++ {
        if err := b.Send("/mcp/x", osc.Int32(int32(i))); err != nil && !transport.IsRefused(err) {
            t.Fatalf("send %d: %v", i, err)
        }
        time.Sleep(10 * time.Millisecond)
    }
    if b.ConnectionState() != netstack.Connected || b.Port() != port {
        t.Fatalf("state = %v port %d -> %d", b.ConnectionState(), port, b.Port())
    }

    got := make(chan osc.Message, 1)
    _ = b.OnMessage("/mcp/user/check", func(_ context.Context, m osc.Message) error { got <- m; return nil })
    c, err := net.Dial("udp", "127.0.0.1:"+strconv.Itoa(port))
    if err != nil {
        t.Fatalf("dial bridge: %v", err)
    }
    defer c.Close()
    raw, _ := osc.Encode(osc.Message{Address: "/mcp/user/check"})
    if _, err := c.Write(raw); err != nil {
        t.Fatalf("write: %v", err)
    }
    select {
    case <-got:
    case <-time.After(2 * time.Second):
        t.Fatalf("receive port stopped delivering")
    }
}
