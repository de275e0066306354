package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/ghcanvas/internal/assistant"
	"github.com/joescharf/ghcanvas/internal/models"
	"github.com/joescharf/ghcanvas/internal/output"
	"github.com/joescharf/ghcanvas/internal/session"
)

var chatReset bool

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Talk to your GitHub issues",
	Long: `Ask the assistant about the issues of the selected repository.

The assistant can search issues and answer with an issue list, a single
issue or a prefilled creation form. Without a message, prints the thread.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return chatRun(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	chatCmd.Flags().BoolVar(&chatReset, "reset", false, "Clear the conversation first")
	rootCmd.AddCommand(chatCmd)
}

func chatRun(ctx context.Context, text string) error {
	ctx = orBackground(ctx)
	s, err := getStore()
	if err != nil {
		return err
	}
	sess, err := session.Load(ctx, s, session.CLIID)
	if err != nil {
		return err
	}

	gw := newGateway()
	asst := newAssistant(s, gw)
	if asst == nil {
		return errors.New("assistant is not configured (set ANTHROPIC_API_KEY or anthropic.api_key)")
	}

	if chatReset {
		if err := asst.Reset(ctx, sess.ID); err != nil {
			return fmt.Errorf("reset conversation: %w", err)
		}
		ui.Success("Conversation cleared")
	}

	if strings.TrimSpace(text) == "" {
		if chatReset {
			return nil
		}
		history, err := asst.History(ctx, sess.ID)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			ui.Info("No messages yet")
			return nil
		}
		for _, msg := range history {
			printMessage(ctx, sess, msg, false)
		}
		return nil
	}

	if !sess.IsAuthenticated() {
		return fmt.Errorf("not connected to GitHub (run 'ghcanvas auth login')")
	}

	reply, err := asst.Send(ctx, sess, text)
	if err != nil {
		return err
	}
	printMessage(ctx, sess, reply, true)
	return nil
}

// printMessage writes one thread message. live renders the component
// against GitHub; otherwise only its name is shown.
func printMessage(ctx context.Context, sess *session.Session, msg *models.Message, live bool) {
	who := output.Cyan("you")
	if msg.Role == models.RoleAssistant {
		who = output.Green("assistant")
	}
	if msg.Content != "" {
		fmt.Fprintf(ui.Out, "%s: %s\n", who, msg.Content)
	}
	if msg.Component == nil {
		return
	}
	if !live {
		fmt.Fprintf(ui.Out, "  [%s]\n", msg.Component.Name)
		return
	}
	if err := renderComponent(ctx, sess, msg.Component); err != nil {
		ui.Warning("%v", err)
	}
}

// renderComponent shows an assistant component in the terminal.
func renderComponent(ctx context.Context, sess *session.Session, rc *models.RenderedComponent) error {
	c, err := assistant.Decode(rc.Name, rc.Props)
	if err != nil {
		return err
	}
	fmt.Fprintln(ui.Out)

	switch p := c.(type) {
	case assistant.IssuesListProps:
		issues, err := newGateway().Issues(ctx, sess, p.Filters)
		if err != nil {
			return err
		}
		return ui.Issues(issues, p.Filters)
	case assistant.IssueItemProps:
		ui.Issue(p.Issue)
	case assistant.CreateIssueFormProps:
		ui.Info("Suggested issue:")
		fmt.Fprintf(ui.Out, "  Title: %s\n", p.InitialTitle)
		if p.InitialBody != "" {
			fmt.Fprintf(ui.Out, "  Body:  %s\n", p.InitialBody)
		}
		fmt.Fprintf(ui.Out, "\nCreate it with: ghcanvas issue create --title %q --body %q\n", p.InitialTitle, p.InitialBody)
	}
	return nil
}
