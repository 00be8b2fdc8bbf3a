// Command syncd runs the sync backend for the Bühnenplan scanner app.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/buehnenplan/syncd/internal/config"
	"github.com/buehnenplan/syncd/internal/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	// Loaded in PersistentPreRunE, shared by all commands.
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "Sync backend for the Bühnenplan scanner app",
	Long: `syncd is the synchronization backend used by the offline-capable
scanner companion app: stagehands scan props (inventory scope) and door
staff scan admission tickets (tickets scope).

It serves a baseline snapshot for bootstrap, an incremental event feed,
and an idempotent push endpoint, all backed by an embedded SQLite
event log.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./syncd.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
