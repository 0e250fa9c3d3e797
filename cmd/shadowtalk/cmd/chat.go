package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/chat"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/roomid"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/transport"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/ui"
)

var chatCmd = &cobra.Command{
	Use:     "chat [room-id]",
	Aliases: []string{"c", "join"},
	Short:   "Open an encrypted chat room",
	Long: `Join a two-person room on the relay and chat end-to-end encrypted.
Without a room ID a new one is generated for you to share.

Examples:
  shadowtalk chat
  shadowtalk chat kitten-waffle-stardust-happy
  shadowtalk chat --server wss://relay.example.com/ws --reconnect`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig()
		if err != nil {
			return err
		}

		roomID := ""
		if len(args) == 1 {
			roomID = args[0]
			if !roomid.Valid(roomID) {
				return fmt.Errorf("invalid room id %q", roomID)
			}
			ui.PrintInfof("Joining room %s via %s", roomID, cfg.WebSocketURL)
		} else {
			roomID, err = roomid.Generate(nil)
			if err != nil {
				return err
			}
			fmt.Println(ui.NewRoomInfo(roomID, cfg.WebSocketURL).View())
		}

		var policy *transport.ReconnectPolicy
		if cfg.Reconnect {
			p := transport.DefaultReconnectPolicy
			policy = &p
			ui.PrintWarning("Reconnect is on: after a drop you rejoin as a new member and cannot pair again in the same room.")
		}

		sess, err := chat.New(chat.Options{
			URL:       cfg.WebSocketURL,
			RoomID:    roomID,
			Reconnect: policy,
			Dialer:    transport.NewDialer(resolver),
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		defer sess.Close()

		sess.Start(cmd.Context())
		return ui.RunChat(sess)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
