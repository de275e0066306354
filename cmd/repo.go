package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/ghcanvas/internal/models"
)

var repoCmd = &cobra.Command{
	Use:     "repo",
	Aliases: []string{"repository"},
	Short:   "List and select repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoShowRun(cmd.Context())
	},
}

var repoListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List repositories you can access",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoListRun(cmd.Context())
	},
}

var repoSelectCmd = &cobra.Command{
	Use:   "select <owner/name>",
	Short: "Select the repository issue commands operate on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoSelectRun(cmd.Context(), args[0])
	},
}

var repoClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the repository selection",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoClearRun(cmd.Context())
	},
}

func init() {
	repoCmd.AddCommand(repoListCmd)
	repoCmd.AddCommand(repoSelectCmd)
	repoCmd.AddCommand(repoClearCmd)
	rootCmd.AddCommand(repoCmd)
}

func repoShowRun(ctx context.Context) error {
	sess, err := cliSession(orBackground(ctx))
	if err != nil {
		return err
	}
	repo := sess.SelectedRepository()
	if repo == nil {
		ui.Info("No repository selected")
		return nil
	}
	fmt.Fprintln(ui.Out, repo.FullName)
	return nil
}

func repoListRun(ctx context.Context) error {
	ctx = orBackground(ctx)
	sess, err := authedSession(ctx)
	if err != nil {
		return err
	}
	repos, err := newGateway().Repositories(ctx, sess)
	if err != nil {
		return fmt.Errorf("failed to load repositories: %w", err)
	}
	if len(repos) == 0 {
		ui.Info("No repositories found")
		return nil
	}
	return ui.Repositories(repos, sess.SelectedRepository())
}

// repoSelectRun selects slug, filling in the details when it is among the
// user's repositories.
func repoSelectRun(ctx context.Context, slug string) error {
	ctx = orBackground(ctx)
	repo, err := models.ParseRepository(slug)
	if err != nil {
		return err
	}
	sess, err := cliSession(ctx)
	if err != nil {
		return err
	}

	if sess.IsAuthenticated() {
		if repos, err := newGateway().Repositories(ctx, sess); err == nil {
			for _, r := range repos {
				if r.FullName == repo.FullName {
					repo = r
					break
				}
			}
		} else {
			ui.VerboseLog("Could not verify repository: %v", err)
		}
	}

	if err := sess.SetSelectedRepository(ctx, &repo); err != nil {
		return fmt.Errorf("select repository: %w", err)
	}
	ui.Success("Selected %s", repo.FullName)
	return nil
}

func repoClearRun(ctx context.Context) error {
	ctx = orBackground(ctx)
	sess, err := cliSession(ctx)
	if err != nil {
		return err
	}
	if err := sess.SetSelectedRepository(ctx, nil); err != nil {
		return fmt.Errorf("clear repository: %w", err)
	}
	ui.Success("Repository selection cleared")
	return nil
}

// orBackground substitutes a background context when cobra supplied none.
func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
