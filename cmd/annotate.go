package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"githubtriage/models"
)

var annotateCmd = &cobra.Command{
	Use:   "annotate <owner/name#number>",
	Short: "Set triage, priority or comments on a cached item",
	Long: `Update the locally entered fields of an issue or pull request. Only the flags
given are changed; GitHub-sourced fields are never touched.`,
	Example: `  githubtriage annotate acme/widgets#12 --priority 1 --triage
  githubtriage annotate acme/widgets#40 --kind pulls --comments "needs rebase"`,
	Args: cobra.ExactArgs(1),
	RunE: runAnnotate,
}

func init() {
	annotateCmd.Flags().String("kind", "issues", "issues or pulls")
	annotateCmd.Flags().Bool("triage", false, "mark as triaged")
	annotateCmd.Flags().Int("priority", models.PriorityUnset, "priority 0..4, -1 to unset")
	annotateCmd.Flags().String("comments", "", "free-form comments")
}

// parseTarget splits owner/name#number.
func parseTarget(s string) (string, int, error) {
	repo, num, ok := strings.Cut(s, "#")
	if !ok {
		return "", 0, fmt.Errorf("invalid target %q: expected owner/name#number", s)
	}
	if _, _, err := models.SplitRepo(repo); err != nil {
		return "", 0, err
	}
	number, err := strconv.Atoi(num)
	if err != nil || number <= 0 {
		return "", 0, fmt.Errorf("invalid item number %q", num)
	}
	return repo, number, nil
}

// annotationFromFlags includes only the flags set on the command line.
func annotationFromFlags(cmd *cobra.Command) (models.Annotation, error) {
	var a models.Annotation
	flags := cmd.Flags()
	if flags.Changed("triage") {
		v, err := flags.GetBool("triage")
		if err != nil {
			return a, err
		}
		a.Triage = &v
	}
	if flags.Changed("priority") {
		v, err := flags.GetInt("priority")
		if err != nil {
			return a, err
		}
		a.Priority = &v
	}
	if flags.Changed("comments") {
		v, err := flags.GetString("comments")
		if err != nil {
			return a, err
		}
		a.Comments = &v
	}
	return a, a.Validate()
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	repo, number, err := parseTarget(args[0])
	if err != nil {
		return err
	}
	kindFlag, err := cmd.Flags().GetString("kind")
	if err != nil {
		return err
	}
	kind, err := models.ParseKind(kindFlag)
	if err != nil {
		return err
	}
	a, err := annotationFromFlags(cmd)
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

	if err := database.UpdateAnnotation(ctx, kind, repo, number, a); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated %s %s#%d\n", kind, repo, number)
	return nil
}
