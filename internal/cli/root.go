package cli

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"estately/internal/backend"
	"estately/internal/platform/logging"
)

var (
	flagServer      string
	flagSessionFile string
	flagDebug       bool
	flagLogLevel    string
	flagLogFormat   string

	logger *slog.Logger
	client *backend.Client
)

// waitTimeout bounds how long a command waits for the session state to settle.
const waitTimeout = 15 * time.Second

// defaultServer returns the default server URL, checking ESTATELY_SERVER first.
func defaultServer() string {
	if s := os.Getenv("ESTATELY_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the estately CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "estately",
		Short: "Estately marketplace client",
		Long:  "estately signs in to an Estately server and manages listings, favorites, contact requests and notifications.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewWithWriter(flagLogLevel, flagLogFormat, cmd.ErrOrStderr())

			path := flagSessionFile
			if path == "" {
				var err error
				if path, err = backend.DefaultSessionPath(); err != nil {
					return err
				}
			}
			client = backend.NewClient(flagServer,
				backend.WithSessionStore(backend.NewFileStore(path)),
				backend.WithLogger(logger),
			)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Estately server URL (or ESTATELY_SERVER env)")
	root.PersistentFlags().StringVar(&flagSessionFile, "session-file", os.Getenv("ESTATELY_SESSION_FILE"), "Session file (default ~/.estately/session.yaml)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newLoginCmd(),
		newRegisterCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newVerifyCmd(),
		newResetPasswordCmd(),
		newPasswdCmd(),
		newListingsCmd(),
		newFavoritesCmd(),
		newContactCmd(),
		newNotificationsCmd(),
		newUpgradeCmd(),
	)

	return root
}
