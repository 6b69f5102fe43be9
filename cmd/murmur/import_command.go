package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"murmur/internal/config"
	"murmur/internal/daemonctl"
	"murmur/internal/fileutil"
	"murmur/internal/store"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	var noBackup bool

	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Import contacts.json and messages.json written by older releases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			alive, _, err := daemonctl.ProcessInfo(cfg.Paths.SocketPath)
			if err == nil && alive {
				return errors.New("stop the daemon before importing (`murmur stop`)")
			}
			dir, err := config.ExpandPath(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve import directory: %w", err)
			}

			out := cmd.OutOrStdout()
			if !noBackup {
				backupDir := filepath.Join(cfg.Paths.DataDir, "legacy-import", time.Now().UTC().Format("20060102T150405Z"))
				copied, err := fileutil.BackupFiles(dir, backupDir, "contacts.json", "messages.json")
				if err != nil {
					return fmt.Errorf("back up legacy files: %w", err)
				}
				if len(copied) > 0 {
					fmt.Fprintf(out, "Backed up %s to %s\n", strings.Join(copied, ", "), backupDir)
				}
			}

			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("open message store: %w", err)
			}
			defer st.Close()

			summary, err := st.ImportLegacy(cmd.Context(), dir)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			fmt.Fprintf(out, "Imported %d contact(s) and %d message(s); skipped %d\n",
				summary.Contacts, summary.Messages, summary.Skipped)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "Skip copying the legacy files into the data directory first")
	return cmd
}
