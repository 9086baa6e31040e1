package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/observability"
	"github.com/xkilldash9x/tandem-cli/internal/service"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	cfgFile string
	root    string
}

// NewRootCommand builds a fresh command tree wired to the production factory.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCmd(service.NewComponentFactory())
	return cmd
}

// newRootCmd returns the root command and the configuration it populates in
// PersistentPreRunE, so tests can inspect the resolved values.
func newRootCmd(factory service.ComponentFactory) (*cobra.Command, *config.Config) {
	opts := &rootOptions{}
	appConfig := &config.Config{}

	rootCmd := &cobra.Command{
		Use:           "tandem",
		Short:         "Tandem answers questions about a sandboxed directory with two cooperating agents.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, opts); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "tandem"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "tandem"})
				return err
			}
			*appConfig = *cfg

			observability.InitializeLogger(appConfig.Logger())
			observability.GetLogger().Debug("Starting tandem",
				zap.String("version", Version),
				zap.String("sandbox_root", appConfig.Sandbox().Root))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.root, "root", "", "sandbox root shared by both agents (overrides sandbox.root)")

	rootCmd.AddCommand(newAskCmd(factory, appConfig))
	rootCmd.AddCommand(newTreeCmd(appConfig))
	rootCmd.AddCommand(newSessionsCmd(defaultLedgerProvider, appConfig))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd, appConfig
}

// initializeConfig reads the config file and TANDEM_* environment variables
// into v, then applies flag overrides.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, opts *rootOptions) error {
	if opts.cfgFile != "" {
		v.SetConfigFile(opts.cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TANDEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	if cmd.Flags().Changed("root") {
		v.Set("sandbox.root", opts.root)
	}
	return nil
}

// Execute runs the command tree over args with a signal-aware context.
func Execute(ctx context.Context, args []string) error {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	observability.Sync()
	return err
}
