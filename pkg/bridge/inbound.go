package bridge

import (
    "context"
    "errors"
    "net"
    "strings"

    "go.uber.org/zap"

    "mcpbridge/pkg/core/netstack"
    "mcpbridge/pkg/observability"
    "mcpbridge/pkg/osc"
    "mcpbridge/pkg/protocol"
    "mcpbridge/pkg/router"
    "mcpbridge/pkg/security"
)

// inboundLoop is the single consumer of the endpoint inbox. Every message
// passes the policy, then goes to a pending request, a handler or the
// router, in that order.
func (b *Bridge) inboundLoop(ctx context.Context) {
    defer b.wg.Done()
    for {
        select {
        case <-ctx.Done():
            return
        case in := <-b.ep.Inbox():
            b.handleInbound(ctx, in)
        }
    }
}

func (b *Bridge) handleInbound(ctx context.Context, in netstack.Inbound) {
    m, token := b.splitToken(in.Message)
    ip := security.HostIP(in.From)
    err := b.policy.Validate(security.Request{
        ClientID: ip,
        IP:       ip,
        Size:     in.Size,
        Token:    token,
        Command:  commandOf(m.Address),
        Address:  m.Address,
    })
    if err != nil {
        observability.RecordPacket("in", "rejected")
        observability.RecordViolation(security.KindOf(err).String())
        zap.L().Info("inbound rejected", zap.String("address", m.Address), zap.String("from", addrString(in.From)), zap.Error(err))
        b.report(err)
        return
    }
    observability.RecordPacket("in", "ok")

    if b.pending.resolve(m) { return }
    if h, ok := b.handlers.lookup(m.Address); ok {
        if err := h(ctx, m); err != nil {
            zap.L().Warn("handler failed", zap.String("address", m.Address), zap.Error(err))
            b.report(err)
        }
        return
    }
    b.routeInbound(m)
}

// splitToken removes the leading token argument when tokens are required.
func (b *Bridge) splitToken(m osc.Message) (osc.Message, string) {
    if !b.policy.TokenRequired() || len(m.Args) == 0 || m.Args[0].Type != osc.TypeString { return m, "" }
    return osc.Message{Address: m.Address, Args: m.Args[1:]}, m.Args[0].S
}

// routeInbound maps /<root>/<channel>/<command> onto that channel. Anything
// else goes to the system channel with the whole address as the command.
func (b *Bridge) routeInbound(m osc.Message) {
    dst, cmd := protocol.System, m.Address
    if rest, ok := strings.CutPrefix(m.Address, b.router.Root()+"/"); ok {
        if name, c, ok := strings.Cut(rest, "/"); ok && c != "" {
            if ch, err := protocol.ParseChannel(name); err == nil {
                dst, cmd = ch, c
            }
        }
    }
    if err := b.Route(protocol.Interaction, dst, cmd, m.Args, 0); err != nil {
        if !errors.Is(err, router.ErrNotRunning) {
            b.report(err)
        }
    }
}

// commandOf is the last address segment, which the policy matches against
// restricted commands.
func commandOf(address string) string {
    if i := strings.LastIndexByte(address, '/'); i >= 0 { return address[i+1:] }
    return address
}

func addrString(a net.Addr) string {
    if a == nil { return "" }
    return a.String()
}
