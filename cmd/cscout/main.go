// cscout is a local-first GitHub collaboration scout: it finds active
// repositories for a topic, analyzes each with an LLM, and ranks
// collaboration briefs. Every decision is persisted to a local SQLite
// store so runs can be audited and replayed offline.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/scoutworks/cscout/internal/config"
	"github.com/scoutworks/cscout/internal/logging"
	"github.com/scoutworks/cscout/internal/storage"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "cscout",
	Short:         "cscout - collaboration scout for GitHub repositories",
	Long:          `Discover active GitHub repositories for a topic, analyze them with an LLM, and rank two-to-four-repo collaboration briefs. All decisions are stored locally for audit and replay.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; the environment always wins.
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger = logging.Setup(cfg.LogLevel, cfg.LogFile)
		return nil
	},
}

func openStore() (*storage.Store, error) {
	return storage.Open(cfg.DBPath)
}

// emitJSON writes one line-delimited JSON record to stdout, the machine
// interface of every command.
func emitJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
