package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/config"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/dns"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/logging"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/ui"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/version"
)

var (
	flagServer    string
	flagReconnect bool

	logger   = zap.NewNop()
	resolver = dns.NewResolver()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "shadowtalk",
	Short:   "Ephemeral end-to-end encrypted chat rooms for two",
	Long:    `ShadowTalk opens short-lived chat rooms for exactly two people. Messages are encrypted on your machine; the relay only forwards ciphertext and forgets the room when it expires.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logging.NewCLILogger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "", "relay websocket URL (env SHADOWTALK_SERVER)")
	rootCmd.PersistentFlags().BoolVar(&flagReconnect, "reconnect", false, "redial with backoff if the connection drops (env SHADOWTALK_RECONNECT)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func loadClientConfig() (*config.ClientConfig, error) {
	return config.LoadClient(config.ClientOptions{
		ServerURL: flagServer,
		Reconnect: flagReconnect,
	})
}

// httpClient dials through the fallback resolver like the websocket does.
func httpClient() *http.Client {
	return &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         resolver.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}
