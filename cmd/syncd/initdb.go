package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buehnenplan/syncd/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database schema",
	Long: `Create the SQLite database file and schema if they don't exist.

Safe to run repeatedly; serve also does this on startup, so init is only
needed when provisioning a database ahead of time (e.g. before seeding).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.InitSchema(cmd.Context()); err != nil {
			return err
		}

		fmt.Printf("Database ready: %s\n", db.Path())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
