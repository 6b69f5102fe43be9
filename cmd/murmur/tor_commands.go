package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"murmur/internal/api"
	"murmur/internal/ipc"
)

func newTorCommand(ctx *commandContext) *cobra.Command {
	torCmd := &cobra.Command{
		Use:   "tor",
		Short: "Manage the supervised Tor daemon",
	}

	torCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start Tor and publish the onion service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				fmt.Fprintln(cmd.OutOrStdout(), "Starting Tor (bootstrap can take a minute)...")
				resp, err := client.TorStart()
				if err != nil {
					return fmt.Errorf("start tor: %w", err)
				}
				printTorStatus(cmd.OutOrStdout(), resp.Tor)
				return nil
			})
		},
	})

	torCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop Tor; local delivery keeps working",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.TorStop(); err != nil {
					return fmt.Errorf("stop tor: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Tor stopped")
				return nil
			})
		},
	})

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the Tor daemon state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TorStatus()
				if err != nil {
					return fmt.Errorf("tor status: %w", err)
				}
				if statusJSON {
					return writeJSON(cmd, resp.Tor)
				}
				printTorStatus(cmd.OutOrStdout(), resp.Tor)
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the status as JSON")
	torCmd.AddCommand(statusCmd)

	var circuitsJSON bool
	circuitsCmd := &cobra.Command{
		Use:   "circuits",
		Short: "List built Tor circuits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Circuits()
				if err != nil {
					return fmt.Errorf("list circuits: %w", err)
				}
				if circuitsJSON {
					return writeJSON(cmd, api.CircuitListResponse{Circuits: resp.Circuits})
				}
				out := cmd.OutOrStdout()
				if len(resp.Circuits) == 0 {
					fmt.Fprintln(out, "No built circuits")
					return nil
				}
				fmt.Fprint(out, renderTable(columns("ID", "Status", "Purpose", "Path"), buildCircuitRows(resp.Circuits)))
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	circuitsCmd.Flags().BoolVar(&circuitsJSON, "json", false, "Print circuits as JSON")
	torCmd.AddCommand(circuitsCmd)

	return torCmd
}

func newIdentityCommand(ctx *commandContext) *cobra.Command {
	identityCmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the onion identity",
	}

	var yes bool
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the onion key and publish a new address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("resetting the identity changes your address permanently; rerun with --yes to confirm")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ResetIdentity()
				if err != nil {
					return fmt.Errorf("reset identity: %w", err)
				}
				out := cmd.OutOrStdout()
				if resp.Address == "" {
					fmt.Fprintln(out, "Identity reset; a new address will be published when Tor starts")
					return nil
				}
				fmt.Fprintf(out, "New address: %s\n", resp.Address)
				return nil
			})
		},
	}
	resetCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the reset")
	identityCmd.AddCommand(resetCmd)
	return identityCmd
}

func printTorStatus(out io.Writer, status api.TorStatus) {
	if !status.Enabled {
		fmt.Fprintln(out, "Tor is disabled in the configuration")
		return
	}
	rows := [][2]string{
		{"Running", yesNo(status.Running)},
		{"Bootstrap", fmt.Sprintf("%d%%", status.BootstrapPercent)},
		{"SOCKS port", fmt.Sprintf("%d", status.ProxyPort)},
		{"Control port", fmt.Sprintf("%d", status.ControlPort)},
	}
	if status.ExecutablePath != "" {
		rows = append(rows, [2]string{"Executable", status.ExecutablePath})
	}
	if status.PID > 0 {
		rows = append(rows, [2]string{"PID", fmt.Sprintf("%d", status.PID)})
	}
	if status.ExternallyManaged {
		rows = append(rows, [2]string{"Managed", "externally (adopted running instance)"})
	}
	fmt.Fprint(out, renderKeyValueTable(rows))
	fmt.Fprintln(out)
}

func buildCircuitRows(circuits []api.Circuit) [][]string {
	rows := make([][]string, 0, len(circuits))
	for _, c := range circuits {
		hops := make([]string, 0, len(c.Nodes))
		for _, node := range c.Nodes {
			if node.Nickname != "" {
				hops = append(hops, node.Nickname)
				continue
			}
			hops = append(hops, shortID(node.Fingerprint))
		}
		rows = append(rows, []string{c.ID, c.Status, c.Purpose, strings.Join(hops, " > ")})
	}
	return rows
}
