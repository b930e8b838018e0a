package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ObiAU/slotwatch/internal/fsutil"
	"github.com/ObiAU/slotwatch/internal/httpapi"
	"github.com/ObiAU/slotwatch/internal/monitor"
	"github.com/ObiAU/slotwatch/internal/telegram"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var autostart bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitor with the Telegram control bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger := opts.cfg, opts.logger

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			bot, err := telegram.NewBot(cfg.Telegram.Token, cfg.Telegram.AdminChatID, logger)
			if err != nil {
				return err
			}
			mon := monitor.New(a.pipeline(bot), cfg.Policy(), logger)

			logger.Info("Starting slot monitor",
				zap.Duration("check_interval", cfg.Monitor.CheckInterval),
				zap.Bool("attached_browser", cfg.Browser.RemoteURL != ""),
				zap.Bool("autostart", autostart),
			)
			greeting := "Slot monitor online. Press Start to begin monitoring."
			if autostart {
				mon.Start()
				greeting = "Slot monitor online. Monitoring started."
			}
			if err := bot.Alert(ctx, cfg.Telegram.AdminChatID, monitor.Alert{Level: monitor.AlertInfo, Text: greeting}); err != nil {
				logger.Warn("Startup message not delivered", zap.Error(err))
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return mon.Run(gctx) })
			g.Go(func() error { return bot.Serve(gctx, mon) })
			if cfg.HTTP.Listen != "" {
				srv := httpapi.New(cfg.HTTP.Listen, mon, a.store, logger)
				g.Go(func() error { return srv.Serve(gctx) })
			}
			err = g.Wait()
			logger.Info("Slot monitor stopped")
			return err
		},
	}
	cmd.Flags().BoolVar(&autostart, "start", false, "start monitoring immediately instead of waiting for the operator")
	return cmd
}

func newTestLoginCmd(opts *rootOptions) *cobra.Command {
	var screenshot string
	cmd := &cobra.Command{
		Use:   "test-login",
		Short: "Log in once with the configured credentials and save a screenshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.pipeline(printNotifier{w: cmd.OutOrStdout()}).TestLogin(ctx)
			if len(report.Screenshot) > 0 {
				path := screenshot
				if path == "" {
					name := "test_login_" + time.Now().UTC().Format("20060102T150405Z") + ".png"
					path = filepath.Join(opts.cfg.Store.DataDir, name)
				}
				if werr := fsutil.WriteFileAtomic(path, report.Screenshot, 0o600); werr != nil {
					opts.logger.Warn("Could not save screenshot", zap.String("path", path), zap.Error(werr))
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "screenshot:", path)
				}
			}
			if err != nil {
				return fmt.Errorf("login failed: %s", describe(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "login ok in %s\n", report.Elapsed.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&screenshot, "screenshot", "", "where to write the screenshot (default <data_dir>/test_login_<time>.png)")
	return cmd
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one pass without recording or sending anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline(printNotifier{w: cmd.OutOrStdout()}).Run(ctx, true)
			if err != nil {
				return fmt.Errorf("check failed: %s", describe(err))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "extracted %d, matched %d, new %d (%s)\n", res.Extracted, len(res.Matched), len(res.New), res.Duration.Round(time.Millisecond))
			for _, s := range res.Matched {
				mark := " "
				if a.store.IsNew(s) {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %s %s\n", mark, s, s.RawLabel)
			}
			return nil
		},
	}
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget every slot already reported",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			cleared := a.store.Len()
			if err := a.store.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d notified slots\n", cleared)
			return nil
		},
	}
}
