package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"githubtriage/config"
	"githubtriage/service"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Manage tracked repositories",
}

var reposLoadCmd = &cobra.Command{
	Use:   "load [file]",
	Short: "Load the repositories file into the database",
	Long: `Upsert every repository listed in the YAML file. Stored repositories missing from
the file are deactivated; their cached items are kept.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReposLoad,
}

var reposListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked repositories",
	Args:  cobra.NoArgs,
	RunE:  runReposList,
}

func init() {
	reposListCmd.Flags().Bool("active", false, "only active repositories")
	reposCmd.AddCommand(reposLoadCmd)
	reposCmd.AddCommand(reposListCmd)
}

func runReposLoad(cmd *cobra.Command, args []string) error {
	path := cfg.ReposFile
	if len(args) == 1 {
		path = args[0]
	}
	repos, err := config.LoadRepositories(path)
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()
	database, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := service.StoreRepositories(ctx, database, repos); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d repositories from %s\n", len(repos), path)
	return nil
}

func runReposList(cmd *cobra.Command, args []string) error {
	activeOnly, err := cmd.Flags().GetBool("active")
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()
	database, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	repos, err := database.ListRepositories(ctx, activeOnly)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tNAME\tPRIORITY\tACTIVE\tGROUP\tCATEGORIES")
	for _, r := range repos {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\t%s\n",
			r.Repo, r.DisplayName, r.Priority, r.Active, r.LanguageGroup, strings.Join(r.Categories, ","))
	}
	return tw.Flush()
}
