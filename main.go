package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ObiAU/slotwatch/internal/config"
	"github.com/ObiAU/slotwatch/internal/observability"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configFile string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "slotwatch",
		Short:         "Watches a booking site for free appointment slots and reports them over Telegram.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v := viper.New()
			config.SetDefaults(v)
			cfg, err := config.Load(v, opts.configFile)
			if err != nil {
				return err
			}
			logger, err := observability.New(cfg.Logger, zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr())))
			if err != nil {
				return err
			}
			opts.cfg, opts.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (YAML); environment variables prefixed "+config.EnvPrefix+"_ override it")

	root.AddCommand(
		newRunCmd(opts),
		newTestLoginCmd(opts),
		newCheckCmd(opts),
		newResetCmd(opts),
	)
	return root
}
