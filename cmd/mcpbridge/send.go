package main

import (
    "context"
    "fmt"
    "net"
    "strconv"
    "time"

    "github.com/spf13/cobra"

    "mcpbridge/pkg/core/netstack"
    "mcpbridge/pkg/osc"
    "mcpbridge/pkg/transport"
)

var (
    sendTo      string
    sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
    Use:   "send <address> [args...]",
    Short: "Send one OSC message",
    Long: `Send encodes one OSC message and writes it to connection.host:port_out
(or --to). Arguments are typed by form: integers, floats, true/false, nil,
inf, anything else is a string.`,
    Args: cobra.MinimumNArgs(1),
    RunE: func(cmd *cobra.Command, args []string) error {
        m := osc.Message{Address: args[0]}
        for _, lit := range args[1:] {
            m.Args = append(m.Args, osc.ParseArg(lit))
        }
        b, err := osc.Codec{MaxBlobSize: cfg.Connection.MaxBlobSize}.Encode(m)
        if err != nil {
            return err
        }
        if len(b) > cfg.Security.MaxMessageSize {
            return fmt.Errorf("message is %d bytes, limit %d", len(b), cfg.Security.MaxMessageSize)
        }
        tr, err := netstack.NewByKind(cfg.Connection.Transport, cfg.Connection.BufferSize)
        if err != nil {
            return err
        }
        to := sendTo
        if to == "" {
            to = net.JoinHostPort(cfg.Connection.Host, strconv.Itoa(cfg.Connection.PortOut))
        }
        ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
        defer cancel()
        mgr := transport.NewManager(tr)
        defer mgr.CloseAll()
        if err := mgr.Send(ctx, to, b); err != nil {
            return err
        }
        fmt.Fprint(cmd.OutOrStdout(), formatter.Format(map[string]any{
            "to":      to,
            "address": m.Address,
            "tags":    m.TypeTags(),
            "bytes":   len(b),
        }))
        return nil
    },
}

func init() {
    sendCmd.Flags().StringVar(&sendTo, "to", "", "destination host:port (default connection.host:port_out)")
    sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 5*time.Second, "send timeout")
}
