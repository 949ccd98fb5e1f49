package client

import (
	"github.com/spf13/cobra"
	"github.com/stratadb/strata/cmd/util"
	rpcclient "github.com/stratadb/strata/rpc/client"
)

var (
	cli *rpcclient.Client

	// ClientCommands represents the client command group
	ClientCommands = &cobra.Command{
		Use:               "client",
		Short:             "Send commands to a running strata node",
		PersistentPreRunE: setupClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common connection flags to the client command
	util.SetupClientFlags(ClientCommands)

	// Add subcommands
	ClientCommands.AddCommand(sendCmd)
	ClientCommands.AddCommand(statusCmd)
	ClientCommands.AddCommand(queryCmd)
	ClientCommands.AddCommand(perfCmd)
}

// setupClient initializes the RPC client
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	cli, err = rpcclient.NewClient(*util.GetClientConfig())
	return err
}
