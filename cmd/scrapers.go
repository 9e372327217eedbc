package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

var scrapersCmd = &cobra.Command{
	Use:   "scrapers",
	Short: "List and configure registered scrapers",
	Long:  "Commands for listing, toggling and configuring scrapers. Without a subcommand, lists scrapers.",
	RunE:  listScrapers,
}

var scrapersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scrapers with their enabled state and last run",
	RunE:  listScrapers,
}

func listScrapers(cmd *cobra.Command, _ []string) error {
	env, err := initApp(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	output, _ := cmd.Flags().GetString("output")
	list := env.Orchestrator.Scrapers()
	if output != "" {
		return writeFormatted(os.Stdout, output, list)
	}
	formatScrapers(os.Stdout, list)
	return nil
}

var scrapersConfigCmd = &cobra.Command{
	Use:   "config <name>",
	Short: "Show a scraper's config with secrets masked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Orchestrator.Config(args[0])
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		return writeFormatted(os.Stdout, output, c)
	},
}

var scrapersSetCmd = &cobra.Command{
	Use:   "set <name> <config>",
	Short: "Apply a partial config update (JSON or YAML)",
	Example: `  scrapectl scrapers set reddit '{"posts_per_subreddit": 50}'
  scrapectl scrapers set web 'urls: [https://example.com]'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := configJSON(args[1])
		if err != nil {
			return err
		}

		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Orchestrator.UpdateConfig(cmd.Context(), args[0], raw)
		if err != nil {
			return err
		}
		return writeFormatted(os.Stdout, "yaml", c)
	},
}

var scrapersToggleCmd = &cobra.Command{
	Use:   "toggle <name>",
	Short: "Flip a scraper's enabled flag, or set it with --enabled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var enabled *bool
		if cmd.Flags().Changed("enabled") {
			v, _ := cmd.Flags().GetBool("enabled")
			enabled = &v
		}
		return toggleScraper(cmd.Context(), args[0], enabled)
	},
}

func toggleScraper(ctx context.Context, name string, enabled *bool) error {
	env, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	sum, err := env.Orchestrator.Toggle(ctx, name, enabled)
	if err != nil {
		return err
	}
	formatScrapers(os.Stdout, []model.ScraperSummary{*sum})
	return nil
}

// configJSON accepts a JSON object or YAML mapping and returns JSON.
func configJSON(s string) ([]byte, error) {
	if json.Valid([]byte(s)) {
		return []byte(s), nil
	}
	var m map[string]any
	if err := yaml.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, model.NewValidationError("", "config must be a JSON object or YAML mapping")
	}
	return json.Marshal(m)
}

func init() {
	scrapersCmd.Flags().StringP("output", "o", "", "output format (json, yaml)")
	scrapersListCmd.Flags().StringP("output", "o", "", "output format (json, yaml)")
	scrapersConfigCmd.Flags().StringP("output", "o", "yaml", "output format (json, yaml)")
	scrapersToggleCmd.Flags().Bool("enabled", false, "set the enabled flag instead of flipping it")

	scrapersCmd.AddCommand(scrapersListCmd)
	scrapersCmd.AddCommand(scrapersConfigCmd)
	scrapersCmd.AddCommand(scrapersSetCmd)
	scrapersCmd.AddCommand(scrapersToggleCmd)
	rootCmd.AddCommand(scrapersCmd)
}
