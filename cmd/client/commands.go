package client

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stratadb/strata/cmd/util"
	"github.com/stratadb/strata/lib/command"
)

var (
	sendHeaders []string
	sendBody    string

	sendCmd = &cobra.Command{
		Use:   "send [method]",
		Short: "Send an arbitrary command",
		Long:  "Send a command with the given method line. Headers are passed as repeated --header flags in the form 'Key: value'.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := command.NewRequest(args[0])
			for _, h := range sendHeaders {
				key, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("invalid header %q (expected 'Key: value')", h)
				}
				req.Headers.Set(strings.TrimSpace(key), strings.TrimSpace(value))
			}
			req.Body = sendBody

			resp, err := cli.Do(req)
			if err != nil {
				return err
			}
			printResponse(resp)
			return nil
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the status of the node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := cli.Do(command.NewRequest("Status"))
			if err != nil {
				return err
			}
			printResponse(resp)
			return nil
		},
	}

	queryCmd = &cobra.Command{
		Use:   "query [sql]",
		Short: "Run a SQL query on the node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := command.NewRequest("Query")
			req.Headers.Set("query", args[0])
			resp, err := cli.Do(req)
			if err != nil {
				return err
			}
			printResponse(resp)
			return nil
		},
	}
)

func init() {
	sendCmd.Flags().StringArrayVar(&sendHeaders, "header", nil, util.WrapString("Header to send with the request, in the form 'Key: value' (repeatable)"))
	sendCmd.Flags().StringVar(&sendBody, "body", "", util.WrapString("Body to send with the request"))
}

// printResponse writes the response status, headers and body to stdout
func printResponse(resp *command.Response) {
	fmt.Println(resp.Status)
	for _, key := range resp.Headers.Keys() {
		value, _ := resp.Headers.Get(key)
		fmt.Printf("%s: %s\n", key, value)
	}
	if resp.Body != "" {
		fmt.Println()
		fmt.Println(resp.Body)
	}
}
