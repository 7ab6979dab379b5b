package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scoutworks/cscout/internal/llm"
	"github.com/scoutworks/cscout/internal/scoring"
	"github.com/scoutworks/cscout/internal/storage"
)

type doctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Fatal   bool   `json:"fatal,omitempty"`
	Message string `json:"message,omitempty"`
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check cscout configuration and database health",
	Long: `Run health checks against the local configuration and database. The
store is opened read-write through the normal path: the database file is
created when absent and pending migrations are applied before the
migration status is read.

Exit codes:
  0 - all checks passed
  1 - one or more checks failed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		verbose, _ := cmd.Flags().GetBool("verbose")

		checks := runDoctorChecks()

		failed := 0
		for _, c := range checks {
			if !c.OK {
				failed++
			}
		}

		if jsonOut {
			emitJSON(map[string]any{
				"checks": checks,
				"failed": failed,
				"ok":     failed == 0,
			})
		} else {
			printDoctorChecks(checks, verbose)
		}

		if failed > 0 {
			return fmt.Errorf("%d health check(s) failed", failed)
		}
		return nil
	},
}

func runDoctorChecks() []doctorCheck {
	var checks []doctorCheck
	add := func(name string, ok, fatal bool, format string, args ...any) {
		checks = append(checks, doctorCheck{
			Name: name, OK: ok, Fatal: fatal && !ok,
			Message: fmt.Sprintf(format, args...),
		})
	}

	// Config validity is the one fatal check.
	if err := cfg.Validate(); err != nil {
		add("config", false, true, "%v", err)
		return checks
	}
	add("config", true, false, "configuration valid (hash %s)", cfg.Hash())

	if cfg.GitHubToken == "" {
		add("github_token", false, false, "GITHUB_TOKEN not set (required for live runs, --dry works without it)")
	} else {
		add("github_token", true, false, "GITHUB_TOKEN present")
	}
	if cfg.OpenRouterAPIKey == "" {
		add("openrouter_api_key", false, false, "OPENROUTER_API_KEY not set (required for live runs)")
	} else {
		add("openrouter_api_key", true, false, "OPENROUTER_API_KEY present")
	}

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		add("database", false, false, "cannot open %s: %v", cfg.DBPath, err)
	} else {
		defer store.Close()
		applied, pending, err := store.MigrationStatus()
		if err != nil {
			add("database", false, false, "migration status: %v", err)
		} else {
			add("database", true, false, "%s open, %d migrations applied, %d pending",
				cfg.DBPath, len(applied), len(pending))
		}
	}

	if _, err := scoring.LoadPolicyOrDefault(cfg.PolicyPath); err != nil {
		add("scoring_policy", false, false, "%v", err)
	} else {
		add("scoring_policy", true, false, "policy loads from %s", cfg.PolicyPath)
	}

	promptsFS := os.DirFS(cfg.PromptsDir)
	for _, id := range []string{"repo_analysis", "brief_generate"} {
		if _, err := llm.LoadPrompt(promptsFS, id, "v1"); err != nil {
			add("prompt_"+id, false, false, "%v", err)
		} else {
			add("prompt_"+id, true, false, "%s@v1 loads", id)
		}
	}

	return checks
}

func printDoctorChecks(checks []doctorCheck, verbose bool) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Printf("Running cscout health checks...\n\n")
	for _, c := range checks {
		mark := green("✓")
		if !c.OK {
			mark = red("✗")
		}
		fmt.Printf("%s %s %s\n", cyan("→"), mark, c.Name)
		if verbose || !c.OK {
			fmt.Printf("    %s\n", c.Message)
		}
	}
}

func init() {
	doctorCmd.Flags().Bool("json", false, "Emit check results as JSON")
	doctorCmd.Flags().Bool("verbose", false, "Show detail for passing checks too")
	rootCmd.AddCommand(doctorCmd)
}
