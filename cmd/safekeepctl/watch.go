package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/oddbit-project/safekeep"
	"github.com/oddbit-project/safekeep/console"
	"github.com/oddbit-project/safekeep/events"
	"github.com/oddbit-project/safekeep/metrics"
	"github.com/oddbit-project/safekeep/session"
	"github.com/oddbit-project/safekeep/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var watchUnlock bool

func init() {
	watchCmd.Flags().BoolVarP(&watchUnlock, "unlock", "u", false, "unlock and keep the session open; Enter counts as activity")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream session, privacy and alert events until interrupted",
	Long: `Keeps the vault open and prints events as they happen. With --unlock the
session runs its inactivity timers; each Enter on the terminal counts as activity.
When metrics are enabled in the configuration, they are served while watching.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := safekeep.NewContainer(cfg)
		if err != nil {
			return err
		}
		return app.Run(subscribe, serveMetrics, startSession)
	},
}

func subscribe(app *safekeep.Container) error {
	c := app.Core
	subs := []*events.Subscription{
		c.OnSessionEvent(func(ev events.SessionEvent) {
			printEvent(ev.At, "session", console.Info.Sprint(ev.Kind), ev.Reason)
		}),
		c.OnPrivacyEvent(func(ev events.PrivacyEvent) {
			printEvent(ev.At, "privacy", console.Warn.Sprint(ev.Kind), ev.Reason)
		}),
		c.OnAlert(func(a store.SecurityAlert) {
			printEvent(a.CreatedAt, "alert", console.Level(string(a.Severity)).Sprint(a.Category), a.Message)
		}),
	}
	safekeep.RegisterDestructor(func() error {
		for _, s := range subs {
			s.Unsubscribe()
		}
		return nil
	})
	return nil
}

func serveMetrics(app *safekeep.Container) error {
	if !app.Config.Metrics.Enabled {
		return nil
	}
	registry, err := app.Core.Metrics().NewRegistry()
	if err != nil {
		return err
	}
	server, err := metrics.NewServer(app.Config.Metrics, registry)
	if err != nil {
		return err
	}
	go func() {
		if err := server.Start(); err != nil {
			fmt.Fprintln(os.Stderr, console.Error.Sprint("✗"), "metrics server:", err)
			app.CancelCtx()
		}
	}()
	safekeep.RegisterDestructor(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	})
	fmt.Fprintf(os.Stderr, "%s metrics on %s:%d%s\n", console.Info.Sprint("→"),
		app.Config.Metrics.Host, app.Config.Metrics.Port, app.Config.Metrics.Endpoint)
	return nil
}

func startSession(app *safekeep.Container) error {
	if !watchUnlock {
		return nil
	}
	if err := unlock(app.Context, app.Core); err != nil {
		return err
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if app.Context.Err() != nil {
				return
			}
			_ = app.Core.Activity(session.SignalKey)
		}
	}()
	return nil
}

func printEvent(at time.Time, source, kind, detail string) {
	line := fmt.Sprintf("%s %-8s %s", at.Local().Format(time.TimeOnly), source, kind)
	if detail != "" {
		line += " " + console.Muted.Sprint(detail)
	}
	fmt.Println(line)
}
