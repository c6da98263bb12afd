package main

import (
    "fmt"
    "os"
    "strings"

    "github.com/spf13/cobra"

    "mcpbridge/pkg/config"
    "mcpbridge/pkg/output"
)

var (
    // Global flags
    cfgFile      string
    outputFormat string
    serverURL    string

    // Shared state set during PersistentPreRun
    cfg       *config.Config
    formatter output.Formatter
)

var rootCmd = &cobra.Command{
    Use:   "mcpbridge",
    Short: "OSC transport and orchestration bridge",
    Long: `mcpbridge connects an intelligence layer, a host execution layer and an
interaction layer over OSC. It binds a UDP endpoint, gates inbound traffic
through a security policy and routes commands through a priority queue.`,
    SilenceUsage:  true,
    SilenceErrors: true,
    PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
        var err error
        cfg, err = config.Load(cfgFile)
        if err != nil {
            return fmt.Errorf("failed to load config: %w", err)
        }
        formatter = output.NewFormatter(outputFormat)
        return nil
    },
}

// Execute runs the root command.
func Execute() {
    if err := rootCmd.Execute(); err != nil {
        fmt.Fprintln(os.Stderr, "Error:", err)
        os.Exit(1)
    }
}

// gatewayURL prefers --server, then the configured gateway listen address.
func gatewayURL() string {
    if serverURL != "" {
        return strings.TrimRight(serverURL, "/")
    }
    return "http://" + cfg.HTTP.Listen
}

func init() {
    rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./mcpbridge.yaml, ./configs, ~/.mcpbridge)")
    rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")
    rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "HTTP gateway URL (default from http.listen)")
    rootCmd.AddCommand(serveCmd, sendCmd, statusCmd, tokenCmd, versionCmd)
}
