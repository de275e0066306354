package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/ghcanvas/internal/github"
	"github.com/joescharf/ghcanvas/internal/models"
	"github.com/joescharf/ghcanvas/internal/session"
)

var (
	issueTitle        string
	issueBody         string
	issueShowComments bool

	issueFilterState         string
	issueFilterTitle         string
	issueFilterBody          string
	issueFilterCreatedAfter  string
	issueFilterCreatedBefore string
	issueFilterUpdatedAfter  string
	issueFilterUpdatedBefore string
	issueFilterComments      int
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage the issues of the selected repository",
	Long:  "List, filter, create, edit, comment on and close issues of the selected repository.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun(cmd)
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues",
	Long: `List issues of the selected repository, newest first. Pull requests are
excluded and only the 100 most recent issues are searched. All filters are
AND-combined; dates accept YYYY-MM-DD or RFC 3339.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun(cmd)
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <number>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(cmd.Context(), args[0])
	},
}

var issueCreateCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"add"},
	Short:   "Create an issue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCreateRun(cmd.Context())
	},
}

var issueEditCmd = &cobra.Command{
	Use:   "edit <number>",
	Short: "Edit the title or body of an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueEditRun(cmd, args[0])
	},
}

var issueCloseCmd = &cobra.Command{
	Use:   "close <number>",
	Short: "Close an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCloseRun(cmd.Context(), args[0])
	},
}

var issueCommentsCmd = &cobra.Command{
	Use:   "comments <number>",
	Short: "Show the comments on an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCommentsRun(cmd.Context(), args[0])
	},
}

var issueCommentCmd = &cobra.Command{
	Use:   "comment <number>",
	Short: "Add a comment to an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCommentRun(cmd.Context(), args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{issueCmd, issueListCmd} {
		c.Flags().StringVar(&issueFilterState, "state", "", "Filter by state: open, closed, all (default all)")
		c.Flags().StringVar(&issueFilterTitle, "title", "", "Title contains")
		c.Flags().StringVar(&issueFilterBody, "body", "", "Body contains")
		c.Flags().StringVar(&issueFilterCreatedAfter, "created-after", "", "Created after date")
		c.Flags().StringVar(&issueFilterCreatedBefore, "created-before", "", "Created before date")
		c.Flags().StringVar(&issueFilterUpdatedAfter, "updated-after", "", "Updated after date")
		c.Flags().StringVar(&issueFilterUpdatedBefore, "updated-before", "", "Updated before date")
		c.Flags().IntVar(&issueFilterComments, "comments", 0, "Exact number of comments")
	}

	issueShowCmd.Flags().BoolVarP(&issueShowComments, "comments", "c", false, "Include comments")

	issueCreateCmd.Flags().StringVar(&issueTitle, "title", "", "Issue title (required)")
	issueCreateCmd.Flags().StringVar(&issueBody, "body", "", "Issue description")
	_ = issueCreateCmd.MarkFlagRequired("title")

	issueEditCmd.Flags().StringVar(&issueTitle, "title", "", "New title")
	issueEditCmd.Flags().StringVar(&issueBody, "body", "", "New description")

	issueCommentCmd.Flags().StringVar(&issueBody, "body", "", "Comment text (required)")
	_ = issueCommentCmd.MarkFlagRequired("body")

	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueCreateCmd)
	issueCmd.AddCommand(issueEditCmd)
	issueCmd.AddCommand(issueCloseCmd)
	issueCmd.AddCommand(issueCommentsCmd)
	issueCmd.AddCommand(issueCommentCmd)
	rootCmd.AddCommand(issueCmd)
}

// issueFilterFromFlags builds the filter from the list flags. The comments
// predicate applies only when its flag was given.
func issueFilterFromFlags(cmd *cobra.Command) models.IssueFilter {
	filter := models.IssueFilter{
		State:         issueFilterState,
		Title:         issueFilterTitle,
		Body:          issueFilterBody,
		CreatedAfter:  issueFilterCreatedAfter,
		CreatedBefore: issueFilterCreatedBefore,
		UpdatedAfter:  issueFilterUpdatedAfter,
		UpdatedBefore: issueFilterUpdatedBefore,
	}
	if cmd != nil {
		if f := cmd.Flags().Lookup("comments"); f != nil && f.Changed {
			n := issueFilterComments
			filter.Comments = &n
		}
	}
	return filter
}

// issueTarget loads the authenticated CLI session and its selected repository.
func issueTarget(ctx context.Context) (*session.Session, models.Repository, error) {
	sess, err := authedSession(ctx)
	if err != nil {
		return nil, models.Repository{}, err
	}
	repo := sess.SelectedRepository()
	if repo == nil {
		return nil, models.Repository{}, fmt.Errorf("%w (run 'ghcanvas repo select <owner/name>')", github.ErrMissingRepository)
	}
	return sess, *repo, nil
}

func parseIssueNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid issue number %q", s)
	}
	return n, nil
}

func issueListRun(cmd *cobra.Command) error {
	ctx := context.Background()
	if cmd != nil {
		ctx = orBackground(cmd.Context())
	}
	sess, repo, err := issueTarget(ctx)
	if err != nil {
		return err
	}

	filter := issueFilterFromFlags(cmd)
	if err := filter.Validate(); err != nil {
		return err
	}

	issues, err := newGateway().Issues(ctx, sess, filter)
	if err != nil {
		return err
	}
	ui.VerboseLog("%d issues in %s", len(issues), repo.FullName)
	return ui.Issues(issues, filter)
}

func issueShowRun(ctx context.Context, ref string) error {
	ctx = orBackground(ctx)
	n, err := parseIssueNumber(ref)
	if err != nil {
		return err
	}
	sess, repo, err := issueTarget(ctx)
	if err != nil {
		return err
	}

	gw := newGateway()
	issue, err := gw.Issue(ctx, sess, repo, n)
	if err != nil {
		return err
	}
	ui.Issue(*issue)

	if issueShowComments {
		comments, err := gw.Comments(ctx, sess, repo, n)
		if err != nil {
			return err
		}
		ui.Comments(comments)
	}
	return nil
}

func issueCreateRun(ctx context.Context) error {
	ctx = orBackground(ctx)
	if issueTitle == "" {
		return fmt.Errorf("--title is required")
	}
	sess, repo, err := issueTarget(ctx)
	if err != nil {
		return err
	}

	issue, err := newGateway().CreateIssue(ctx, sess, repo, issueTitle, issueBody)
	if err != nil {
		return err
	}
	ui.Success("Issue #%d created!", issue.Number)
	if issue.HTMLURL != "" {
		ui.Info("%s", issue.HTMLURL)
	}
	return nil
}

// issueEditRun replaces title and body, keeping whichever flag was not given.
func issueEditRun(cmd *cobra.Command, ref string) error {
	ctx := orBackground(cmd.Context())
	n, err := parseIssueNumber(ref)
	if err != nil {
		return err
	}
	titleSet := cmd.Flags().Changed("title")
	bodySet := cmd.Flags().Changed("body")
	if !titleSet && !bodySet {
		return fmt.Errorf("nothing to update (use --title or --body)")
	}
	sess, repo, err := issueTarget(ctx)
	if err != nil {
		return err
	}

	gw := newGateway()
	current, err := gw.Issue(ctx, sess, repo, n)
	if err != nil {
		return err
	}
	title, body := current.Title, current.Body
	if titleSet {
		title = issueTitle
	}
	if bodySet {
		body = issueBody
	}
	if title == "" {
		return fmt.Errorf("title cannot be empty")
	}

	if _, err := gw.UpdateIssue(ctx, sess, repo, n, title, body); err != nil {
		return err
	}
	ui.Success("Issue #%d updated", n)
	return nil
}

func issueCloseRun(ctx context.Context, ref string) error {
	ctx = orBackground(ctx)
	n, err := parseIssueNumber(ref)
	if err != nil {
		return err
	}
	sess, repo, err := issueTarget(ctx)
	if err != nil {
		return err
	}
	if _, err := newGateway().CloseIssue(ctx, sess, repo, n); err != nil {
		return err
	}
	ui.Success("Issue #%d closed", n)
	return nil
}

func issueCommentsRun(ctx context.Context, ref string) error {
	ctx = orBackground(ctx)
	n, err := parseIssueNumber(ref)
	if err != nil {
		return err
	}
	sess, repo, err := issueTarget(ctx)
	if err != nil {
		return err
	}
	comments, err := newGateway().Comments(ctx, sess, repo, n)
	if err != nil {
		return err
	}
	ui.Comments(comments)
	return nil
}

func issueCommentRun(ctx context.Context, ref string) error {
	ctx = orBackground(ctx)
	n, err := parseIssueNumber(ref)
	if err != nil {
		return err
	}
	if issueBody == "" {
		return fmt.Errorf("--body is required")
	}
	sess, repo, err := issueTarget(ctx)
	if err != nil {
		return err
	}
	if _, err := newGateway().CreateComment(ctx, sess, repo, n, issueBody); err != nil {
		return err
	}
	ui.Success("Comment added to #%d", n)
	return nil
}
