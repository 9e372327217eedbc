package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

var (
	runOutput string
	runAll    bool
)

var runCmd = &cobra.Command{
	Use:   "run [scraper]",
	Short: "Run one scraper, or every enabled scraper as a batch",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if runAll && len(args) > 0 {
			return eris.New("--all cannot be combined with a scraper name")
		}

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var run *model.RunResult
		if !runAll && len(args) == 1 {
			run, err = env.Orchestrator.RunScraper(ctx, args[0], model.TriggerManual)
		} else {
			run, err = env.Orchestrator.RunAll(ctx, model.TriggerManual)
		}
		if err != nil {
			return err
		}

		if runOutput != "" {
			return writeFormatted(os.Stdout, runOutput, run)
		}
		formatRunResult(os.Stdout, run)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runAll, "all", false, "run every enabled scraper (default when no name is given)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "output format (json, yaml)")
	rootCmd.AddCommand(runCmd)
}
