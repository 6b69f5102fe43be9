package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"murmur/internal/api"
	"murmur/internal/ipc"
)

func newContactsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	contactsCmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage the address book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Contacts()
				if err != nil {
					return fmt.Errorf("list contacts: %w", err)
				}
				if jsonOut {
					return writeJSON(cmd, api.ContactListResponse{Contacts: resp.Contacts})
				}
				out := cmd.OutOrStdout()
				if len(resp.Contacts) == 0 {
					fmt.Fprintln(out, "No contacts")
					return nil
				}
				rows := make([][]string, 0, len(resp.Contacts))
				for _, contact := range resp.Contacts {
					rows = append(rows, []string{contact.Name, contact.Address, formatMessageTime(contact.AddedAt)})
				}
				fmt.Fprint(out, renderTable(columns("Name", "Address", "Added"), rows))
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	contactsCmd.Flags().BoolVar(&jsonOut, "json", false, "Print contacts as JSON")

	contactsCmd.AddCommand(&cobra.Command{
		Use:   "add <address> [name]",
		Short: "Add a contact, or rename it if it exists",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 1 {
				name = args[1]
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.AddContact(args[0], name)
				if err != nil {
					return fmt.Errorf("add contact: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved contact %s (%s)\n", resp.Contact.Name, resp.Contact.Address)
				return nil
			})
		},
	})

	contactsCmd.AddCommand(&cobra.Command{
		Use:   "edit <address> <name>",
		Short: "Rename a contact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.EditContact(args[0], args[1])
				if err != nil {
					return fmt.Errorf("edit contact: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", resp.Contact.Address, resp.Contact.Name)
				return nil
			})
		},
	})

	contactsCmd.AddCommand(&cobra.Command{
		Use:     "rm <address-or-name>",
		Aliases: []string{"delete"},
		Short:   "Remove a contact",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				address, err := resolvePeer(client, args[0])
				if err != nil {
					return err
				}
				if _, err := client.DeleteContact(address); err != nil {
					return fmt.Errorf("delete contact: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed contact %s\n", address)
				return nil
			})
		},
	})

	return contactsCmd
}
