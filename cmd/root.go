package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stratadb/strata/cmd/client"
	"github.com/stratadb/strata/cmd/serve"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "strata",
		Short: "replicated SQL database",
		Long: fmt.Sprintf(`strata (v%s)

A replicated SQL database server written in Go. Every node runs a full
SQLite engine; writes flow through a per-command transactional pipeline
and are replicated across the cluster via RAFT consensus.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of strata",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("strata v%s\n", Version)
		},
	}
)

func init() {
	// The server reports the binary's version to clients
	serve.Version = Version

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(client.ClientCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
