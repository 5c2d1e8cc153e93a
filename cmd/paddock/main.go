package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/paddock/pkg/client"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paddock",
	Short: "Paddock - control plane for game server node daemons",
	Long: `Paddock tracks nodes, allocations and game servers, drives the node
daemons that run them and receives their status callbacks.

Run "paddock serve" on each control plane member. The other commands talk
to a running control plane through its admin API.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Paddock version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("addr", envOr("PADDOCK_ADDR", "127.0.0.1:8080"), "control plane address (PADDOCK_ADDR)")
	rootCmd.PersistentFlags().String("api-key", "", "admin API key (PADDOCK_ADMIN_API_KEY)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(allocationCmd)
	rootCmd.AddCommand(eggCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(auditCmd)
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// newClient builds an admin API client from the persistent flags
func newClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	apiKey, _ := cmd.Flags().GetString("api-key")
	if apiKey == "" {
		apiKey = os.Getenv("PADDOCK_ADMIN_API_KEY")
	}
	return client.NewClient(addr, apiKey)
}
