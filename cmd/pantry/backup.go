package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/pantry/internal/backup"
	"github.com/dukerupert/pantry/internal/database"
	"github.com/dukerupert/pantry/internal/docstore"
)

// openBackups opens the configured database and a backup manager over it.
// The returned func closes the database.
func (a *app) openBackups() (*backup.Manager, func(), error) {
	if err := a.cfg.RequireBackup(); err != nil {
		return nil, nil, err
	}
	if err := a.cfg.RequireDatabase(); err != nil {
		return nil, nil, err
	}
	db, err := database.Open(a.cfg.Server.DBDriver, a.cfg.Server.DSN)
	if err != nil {
		return nil, nil, err
	}
	store := docstore.NewSQLStore(db, a.cfg.Server.DBDriver, a.logger.With("component", "docstore"))
	return backup.NewManager(a.cfg.Backup, store, a.logger), func() { db.Close() }, nil
}

func newBackupCmd(a *app) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Upload an encrypted export of the document store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeDB, err := a.openBackups()
			if err != nil {
				return err
			}
			defer closeDB()
			if list {
				return printKeys(cmd, m)
			}
			key, err := m.RunNow(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list stored archives instead of creating one")
	return cmd
}

func printKeys(cmd *cobra.Command, m *backup.Manager) error {
	keys, err := m.List(cmd.Context())
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), k)
	}
	return nil
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <key>",
		Short: "Replace the document store with an uploaded archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeDB, err := a.openBackups()
			if err != nil {
				return err
			}
			defer closeDB()
			return a.restore(cmd.Context(), m, args[0])
		},
	}
}

func (a *app) restore(ctx context.Context, m *backup.Manager, key string) error {
	if err := m.Restore(ctx, key); err != nil {
		return err
	}
	a.logger.Info("store restored", "key", key)
	return nil
}
