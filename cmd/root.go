package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxagent/internal/config"
	"github.com/teemow/inboxagent/internal/logging"
)

// rootCmd represents the base command for the inboxagent application
var rootCmd = &cobra.Command{
	Use:   "inboxagent",
	Short: "Answers Gmail messages under a label with an AI agent",
	Long: `inboxagent watches a Gmail label for unread messages, hands every new
message to an external agent command inside a per-sender workspace and
replies in the original thread with the agent's answer.

Each message is answered at most once. Conversations with the same sender
resume the agent session of the previous message.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

var rootFlags struct {
	configPath string
	debug      bool
	logFormat  string
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "inboxagent version %s\n" .Version}}`)

	// If no subcommand is provided, run the bridge by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "run")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", "", "Path to the config file (default: ~/.config/inboxagent/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&rootFlags.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&rootFlags.logFormat, "log-format", "", "Log format: text or json (overrides log.format)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// loadConfig reads the config file and applies the persistent flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("debug") {
		cfg.Log.Debug = rootFlags.debug
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = rootFlags.logFormat
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --log-format: %w", err)
		}
	}
	return cfg, nil
}

// newLogger builds the process logger and installs it as the slog default.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	logger := logging.New(w, cfg.Log.Debug, cfg.Log.Format)
	slog.SetDefault(logger)
	return logger
}
