package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/roomid"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/ui"
)

var flagRemote bool

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Manage chat rooms",
}

var roomNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Print a fresh room ID to share",
	Long: `Print a fresh, memorable room ID.

By default the ID is generated locally. With --remote the relay reserves
one that is not currently in use and starts its expiry clock.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig()
		if err != nil {
			return err
		}

		info := ui.NewRoomInfo("", cfg.WebSocketURL)
		if flagRemote {
			sp := ui.NewConnectionSpinner("Asking the relay for a room...")
			sp.Start()
			info.RoomID, info.ExpiresAt, err = remoteRoom(cmd, cfg.APIURL)
			if err != nil {
				sp.Error(fmt.Sprintf("Relay could not reserve a room (%v), generating one locally", err))
			} else {
				sp.Success("Room reserved on the relay")
			}
		}
		if info.RoomID == "" {
			if info.RoomID, err = roomid.Generate(nil); err != nil {
				return err
			}
		}

		fmt.Println(info.View())
		return nil
	},
}

func remoteRoom(cmd *cobra.Command, apiURL string) (string, time.Time, error) {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, apiURL+"/room", nil)
	if err != nil {
		return "", time.Time{}, err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("request room: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		RoomID    string    `json:"roomId"`
		ExpiresAt time.Time `json:"expiresAt"`
		Error     string    `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", time.Time{}, fmt.Errorf("decode room response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, fmt.Errorf("relay refused room: %s (%d)", body.Error, resp.StatusCode)
	}
	return body.RoomID, body.ExpiresAt, nil
}

func init() {
	roomNewCmd.Flags().BoolVar(&flagRemote, "remote", false, "let the relay generate an unused ID")
	roomCmd.AddCommand(roomNewCmd)
	rootCmd.AddCommand(roomCmd)
}
