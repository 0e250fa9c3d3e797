package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/session"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/ui"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"sess"},
	Short:   "Use the persisted polling API",
	Long: `Drive the relay's HTTP session API. Messages are stored until the
session expires, so the other side can poll for them later. Content is
stored as given; encrypt it before sending.`,
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sessionClient()
		if err != nil {
			return err
		}
		sp := ui.NewSimpleSpinner("Creating session...")
		sp.Start()
		sess, err := c.Create(cmd.Context())
		if err != nil {
			sp.Stop()
			return describe(err)
		}
		sp.UpdateMessage("Checking the session is live...")
		expires, err := c.Join(cmd.Context(), sess.ID)
		if err != nil {
			sp.Stop()
			return describe(err)
		}
		sp.Success("Session created")
		fmt.Println(ui.SessionSummaryView(ui.SessionSummary{ID: sess.ID, Key: sess.Key, ExpiresAt: expires}))
		return nil
	},
}

var sessionJoinCmd = &cobra.Command{
	Use:   "join <session-id>",
	Short: "Check that a session is live",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sessionClient()
		if err != nil {
			return err
		}
		expires, err := c.Join(cmd.Context(), args[0])
		if err != nil {
			return describe(err)
		}
		ui.PrintSuccessf("Session is live until %s", expires.Local().Format("15:04:05"))
		return nil
	},
}

var sessionSendCmd = &cobra.Command{
	Use:   "send <session-id> <content>",
	Short: "Store a message in a session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sessionClient()
		if err != nil {
			return err
		}
		id, err := c.Post(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return describe(err)
		}
		ui.PrintSuccessf("Stored message %s", id)
		return nil
	},
}

var sessionPollCmd = &cobra.Command{
	Use:   "poll <session-id>",
	Short: "List the messages in a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sessionClient()
		if err != nil {
			return err
		}
		stop := ui.RunConnectionSpinner("Fetching messages...")
		msgs, err := c.Poll(cmd.Context(), args[0])
		stop()
		if err != nil {
			return describe(err)
		}
		rows := make([]ui.MessageRow, len(msgs))
		for i, m := range msgs {
			rows[i] = ui.MessageRow{ID: m.ID, Content: m.Content, CreatedAt: m.CreatedAt}
		}
		ui.RenderMessageTable("Session "+args[0], rows)
		return nil
	},
}

func sessionClient() (*session.Client, error) {
	cfg, err := loadClientConfig()
	if err != nil {
		return nil, err
	}
	return session.NewClient(cfg.APIURL, httpClient()), nil
}

// describe turns API sentinels into messages for the terminal.
func describe(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return errors.New("session not found")
	case errors.Is(err, session.ErrExpired):
		return errors.New("session has expired")
	case errors.Is(err, session.ErrInvalidContent):
		return fmt.Errorf("content must be 1 to %d characters", session.MaxContentLength)
	case errors.Is(err, session.ErrRateLimited):
		return errors.New("too many requests, try again shortly")
	}
	return err
}

func init() {
	sessionCmd.AddCommand(sessionCreateCmd, sessionJoinCmd, sessionSendCmd, sessionPollCmd)
	rootCmd.AddCommand(sessionCmd)
}
