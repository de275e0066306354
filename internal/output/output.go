package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/joescharf/ghcanvas/internal/models"
)

// TitleWidth bounds the title column of issue tables.
const TitleWidth = 60

// UI provides colored output and respects verbose mode.
type UI struct {
	Verbose bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
	bold          = color.New(color.Bold).SprintFunc()
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
	faint         = color.New(color.Faint).SprintFunc()
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// Green returns a green-colored string.
func Green(s string) string { return green(s) }

// Yellow returns a yellow-colored string.
func Yellow(s string) string { return yellow(s) }

// Red returns a red-colored string.
func Red(s string) string { return red(s) }

// StateColor returns the issue state colored the way GitHub badges are.
func StateColor(state models.IssueState) string {
	switch state {
	case models.IssueStateOpen:
		return green(string(state))
	case models.IssueStateClosed:
		return red(string(state))
	default:
		return string(state)
	}
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// Repositories renders repos, marking the selected one.
func (u *UI) Repositories(repos []models.Repository, selected *models.Repository) error {
	table := u.Table([]string{"", "Repository", "Description"})
	for _, r := range repos {
		mark := ""
		if selected != nil && selected.FullName == r.FullName {
			mark = green("*")
		}
		if err := table.Append([]string{mark, r.FullName, truncate(r.Description, TitleWidth)}); err != nil {
			return err
		}
	}
	return table.Render()
}

// Issues renders issues as a table. An empty list prints the empty state
// with the active filters restated.
func (u *UI) Issues(issues []models.Issue, filter models.IssueFilter) error {
	if len(issues) == 0 {
		fmt.Fprintln(u.Out, "No issues found")
		if active := filter.Active(); len(active) > 0 {
			fmt.Fprintln(u.Out, faint("using filters:"))
			for _, line := range active {
				fmt.Fprintf(u.Out, "  %s\n", faint(line))
			}
		}
		return nil
	}

	table := u.Table([]string{"#", "State", "Title", "Comments", "Updated"})
	for _, issue := range issues {
		row := []string{
			strconv.Itoa(issue.Number),
			StateColor(issue.State),
			truncate(issue.Title, TitleWidth),
			strconv.Itoa(issue.Comments),
			Age(issue.UpdatedAt),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// Issue prints one issue with its full body.
func (u *UI) Issue(issue models.Issue) {
	fmt.Fprintf(u.Out, "%s %s [%s]\n", cyan(fmt.Sprintf("#%d", issue.Number)), bold(issue.Title), StateColor(issue.State))
	fmt.Fprintf(u.Out, "%s\n", faint(fmt.Sprintf("opened %s, updated %s, %d comments", Age(issue.CreatedAt), Age(issue.UpdatedAt), issue.Comments)))
	if issue.HTMLURL != "" {
		fmt.Fprintf(u.Out, "%s\n", faint(issue.HTMLURL))
	}
	if body := strings.TrimSpace(issue.Body); body != "" {
		fmt.Fprintf(u.Out, "\n%s\n", body)
	}
}

// Comments prints an issue discussion.
func (u *UI) Comments(comments []models.Comment) {
	fmt.Fprintf(u.Out, "\n%s\n", bold(fmt.Sprintf("Comments (%d)", len(comments))))
	if len(comments) == 0 {
		fmt.Fprintln(u.Out, faint("No comments yet"))
		return
	}
	for _, c := range comments {
		fmt.Fprintf(u.Out, "\n%s %s\n%s\n", cyan(c.User.Login), faint(Age(c.CreatedAt)), strings.TrimSpace(c.Body))
	}
}

// Age formats t relative to now, or "-" for the zero time.
func Age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
