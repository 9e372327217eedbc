package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/scraper-orchestrator/internal/analysis"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <result-file>",
	Short: "Cluster a result file into insights",
	Long:  "Embeds the items of a stored result file, clusters them and derives opportunities, trends, pain points and sentiment. Cached analyses are reused unless --force is given.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		modelName, _ := cmd.Flags().GetString("model")
		force, _ := cmd.Flags().GetBool("force")
		output, _ := cmd.Flags().GetString("output")

		res, err := env.Analysis.Analyze(ctx, args[0], analysis.AnalyzeOptions{Model: modelName, Force: force})
		if err != nil {
			return err
		}
		if output != "" {
			return writeFormatted(os.Stdout, output, res.Record)
		}
		formatInsights(os.Stdout, res.Record, res.Cached)
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the insight models available on the Ollama server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		models, err := env.Analysis.Models(cmd.Context())
		if err != nil {
			return err
		}
		def := env.Analysis.DefaultModel()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tSIZE\tCATEGORY\t")
		for _, m := range models {
			mark := ""
			if m.Name == def {
				mark = "(default)"
			}
			_, _ = fmt.Fprintf(w, "%s\t%.1f GB\t%s\t%s\n", m.Name, m.SizeGB, m.Category, mark)
		}
		return w.Flush()
	},
}

func init() {
	analyzeCmd.Flags().String("model", "", "insight model (default from config)")
	analyzeCmd.Flags().Bool("force", false, "re-run even when a cached analysis exists")
	analyzeCmd.Flags().StringP("output", "o", "", "output format (json, yaml)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(modelsCmd)
}
