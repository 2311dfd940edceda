// chatctl is a command line front end for the chat backend. It keeps the
// client state for the duration of one command.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"github.com/tullo/chats/internal/chatclient"
	"github.com/tullo/chats/internal/models"
)

// Config keys, also readable from CHATCTL_* environment variables
const (
	urlFlag      = "url"
	tokenFlag    = "token"
	userFlag     = "user"
	timeoutFlag  = "timeout"
	logLevelFlag = "logLevel"
	logFlag      = "log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Read and send direct messages from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLog(viper.GetUint(logLevelFlag), viper.GetString(logFlag))
	},
}

// session is what every subcommand needs: the client and who "me" is
type session struct {
	client    *chatclient.Client
	transport *chatclient.HTTPTransport
	me        models.User
}

func newSession() (*session, error) {
	me := models.User{ID: strings.TrimSpace(viper.GetString(userFlag))}
	if me.ID == "" {
		return nil, fmt.Errorf("--%s (or CHATCTL_USER) is required", userFlag)
	}

	transport, err := chatclient.NewHTTPTransport(chatclient.TransportParams{
		BaseURL: viper.GetString(urlFlag),
		Token:   viper.GetString(tokenFlag),
		Timeout: viper.GetDuration(timeoutFlag),
	})
	if err != nil {
		return nil, err
	}

	jww.DEBUG.Printf("[CHAT] Session for %s against %s", me.ID, viper.GetString(urlFlag))
	return &session{
		client:    chatclient.New(transport),
		transport: transport,
		me:        me,
	}, nil
}

// initLog enables logging to logPath with the given threshold. "-" logs to
// stdout and an empty path leaves logging at its defaults.
func initLog(threshold uint, logPath string) error {
	if logPath != "-" && logPath != "" {
		jww.SetStdoutOutput(io.Discard)
		logOutput, err := os.OpenFile(logPath,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		jww.SetLogOutput(logOutput)
	}

	switch {
	case threshold > 1:
		jww.SetStdoutThreshold(jww.LevelTrace)
		jww.SetLogThreshold(jww.LevelTrace)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
		jww.INFO.Printf("log level set to: TRACE")
	case threshold == 1:
		jww.SetStdoutThreshold(jww.LevelDebug)
		jww.SetLogThreshold(jww.LevelDebug)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
		jww.INFO.Printf("log level set to: DEBUG")
	default:
		jww.SetStdoutThreshold(jww.LevelWarn)
		jww.SetLogThreshold(jww.LevelInfo)
	}
	return nil
}

func init() {
	viper.SetEnvPrefix("chatctl")
	viper.AutomaticEnv()

	flags := rootCmd.PersistentFlags()

	flags.String(urlFlag, "http://localhost:8080", "Base URL of the chat backend")
	_ = viper.BindPFlag(urlFlag, flags.Lookup(urlFlag))

	flags.String(tokenFlag, "", "Bearer token issued by the backend")
	_ = viper.BindPFlag(tokenFlag, flags.Lookup(tokenFlag))

	flags.StringP(userFlag, "u", "", "ID of the current user")
	_ = viper.BindPFlag(userFlag, flags.Lookup(userFlag))

	flags.Duration(timeoutFlag, chatclient.DefaultTimeout, "Timeout of a single backend call")
	_ = viper.BindPFlag(timeoutFlag, flags.Lookup(timeoutFlag))

	flags.UintP(logLevelFlag, "v", 0, "Verbosity level of logging (0 = INFO, 1 = DEBUG, 2 = TRACE)")
	_ = viper.BindPFlag(logLevelFlag, flags.Lookup(logLevelFlag))

	flags.StringP(logFlag, "l", "-", "Path to the log output. \"-\" logs to stdout")
	_ = viper.BindPFlag(logFlag, flags.Lookup(logFlag))
}

// now is swapped in tests
var now = time.Now
