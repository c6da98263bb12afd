package main

import (
    "bytes"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/spf13/cobra"

    httpgw "mcpbridge/pkg/gateway/http"
    "mcpbridge/pkg/output"
    "mcpbridge/pkg/router"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

var statusCmd = &cobra.Command{
    Use:   "status",
    Short: "Show the status of a running bridge",
    RunE: func(cmd *cobra.Command, args []string) error {
        var st router.StatusSnapshot
        if err := callGateway(http.MethodGet, "/status", nil, &st); err != nil {
            return err
        }
        if outputFormat == "" || outputFormat == "table" {
            fmt.Fprint(cmd.OutOrStdout(), output.Title("mcpbridge "+st.ConnectionState))
        }
        fmt.Fprint(cmd.OutOrStdout(), formatter.Format(st))
        return nil
    },
}

var (
    tokenClient   string
    tokenTTL      time.Duration
    tokenCommands []string
)

var tokenCmd = &cobra.Command{
    Use:   "token",
    Short: "Issue a security token through the gateway",
    RunE: func(cmd *cobra.Command, args []string) error {
        req := httpgw.TokenRequest{Client: tokenClient, TTLSeconds: int(tokenTTL / time.Second), Commands: tokenCommands}
        var resp httpgw.TokenResponse
        if err := callGateway(http.MethodPost, "/tokens", req, &resp); err != nil {
            return err
        }
        fmt.Fprint(cmd.OutOrStdout(), formatter.Format(resp))
        return nil
    },
}

// callGateway sends body as JSON and decodes the reply into out.
func callGateway(method, path string, body, out any) error {
    var rd io.Reader
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil {
            return err
        }
        rd = bytes.NewReader(b)
    }
    req, err := http.NewRequest(method, gatewayURL()+path, rd)
    if err != nil {
        return err
    }
    req.Header.Set("Content-Type", "application/json")
    resp, err := httpClient.Do(req)
    if err != nil {
        return fmt.Errorf("gateway: %w", err)
    }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        var e struct {
            Error string `json:"error"`
        }
        _ = json.NewDecoder(resp.Body).Decode(&e)
        return fmt.Errorf("gateway: %s: %s", resp.Status, e.Error)
    }
    return json.NewDecoder(resp.Body).Decode(out)
}

func init() {
    tokenCmd.Flags().StringVar(&tokenClient, "client", "", "client the token is issued to")
    tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
    tokenCmd.Flags().StringSliceVar(&tokenCommands, "commands", nil, "commands the token may run (default any)")
    _ = tokenCmd.MarkFlagRequired("client")
}
