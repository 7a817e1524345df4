// Package ragmoncli implements the ragmon operator CLI and terminal views.
package ragmoncli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/ragmon/internal/apiclient"
	"github.com/oremus-labs/ragmon/internal/sse"
	"github.com/oremus-labs/ragmon/internal/stream"
)

var (
	cfgFile          string
	contextName      string
	overrideURL      string
	overrideToken    string
	overrideUser     string
	overridePassword string
	outputFormat     string

	appConfig *Config
	failed    bool
)

var errCommandFailed = errors.New("command failed")

// Execute runs the CLI.
func Execute() error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printErrorLine("Error: %v", err)
		return err
	}
	if failed {
		return errCommandFailed
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "ragmon",
	Short: "Monitor and operate RAG pipeline services",
	Long: `ragmon follows the live event stream of the RAG monitoring API and sends
commands to the monitored services through it.
Most commands require a configured context (see 'ragmon config set-context').`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Config commands load/save the file manually.
		if strings.HasPrefix(cmd.CommandPath(), "ragmon config") {
			return nil
		}
		if appConfig == nil {
			var err error
			appConfig, err = LoadConfig(cfgFile)
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath(), "Path to the ragmon config file")
	rootCmd.PersistentFlags().StringVar(&contextName, "context", "", "Context name to use (overrides current)")
	rootCmd.PersistentFlags().StringVar(&overrideURL, "server", "", "Override API server URL")
	rootCmd.PersistentFlags().StringVar(&overrideToken, "token", "", "Override API token")
	rootCmd.PersistentFlags().StringVar(&overrideUser, "username", "", "Override basic auth username")
	rootCmd.PersistentFlags().StringVar(&overridePassword, "password", "", "Override basic auth password")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table|json")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(instancesCmd)
	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(commandsCmd)
	rootCmd.AddCommand(appCmd)
	rootCmd.AddCommand(configCmd)
}

// resolvedContext merges config state with flag overrides. With no config
// file at all, --server alone is enough.
func resolvedContext() (*Context, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	ctxName := contextName
	if ctxName == "" {
		ctxName = appConfig.CurrentContext
	}
	ctx, ok := appConfig.Contexts[ctxName]
	if !ok && overrideURL == "" {
		return nil, fmt.Errorf("context %q not found; use 'ragmon config set-context'", ctxName)
	}
	if !ok {
		ctx = Context{Name: "flags"}
	}
	if overrideURL != "" {
		ctx.Server = overrideURL
	}
	if overrideToken != "" {
		ctx.Token = overrideToken
	}
	if overrideUser != "" {
		ctx.Username = overrideUser
	}
	if overridePassword != "" {
		ctx.Password = overridePassword
	}
	if ctx.Server == "" {
		return nil, fmt.Errorf("context %q is missing a server URL", ctxName)
	}
	return &ctx, nil
}

func (c *Context) credentials() sse.Credentials {
	return sse.Credentials{Token: c.Token, Username: c.Username, Password: c.Password}
}

func mustClient() (*apiclient.Client, *Context, error) {
	ctx, err := resolvedContext()
	if err != nil {
		return nil, nil, err
	}
	client := &apiclient.Client{
		BaseURL:     ctx.Server,
		Credentials: ctx.credentials(),
		Timeout:     15 * time.Second,
	}
	return client, ctx, nil
}

// streamManager returns the process-wide stream manager every view mounts on.
// Connection logs are discarded unless verbose, so they never tear a terminal view.
func streamManager(verbose bool) *stream.Manager {
	logger := log.New(io.Discard, "", 0)
	if verbose {
		logger = log.New(rootCmd.ErrOrStderr(), "stream: ", log.LstdFlags)
	}
	manager := stream.Shared()
	manager.SetLogger(logger)
	return manager
}

func writeOutput(cmd *cobra.Command, data interface{}) error {
	switch strings.ToLower(outputFormat) {
	case "json":
		return printJSON(cmd.OutOrStdout(), data)
	case "table", "":
		// Table is handled by the caller.
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", outputFormat)
	}
}

func jsonOutput() bool {
	return strings.EqualFold(outputFormat, "json")
}

func exitWithError(cmd *cobra.Command, err error) {
	cmd.SilenceUsage = true
	failed = true
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
