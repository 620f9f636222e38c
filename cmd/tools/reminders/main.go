// Command reminders sends deadline reminders for opportunities whose question
// or submission deadline falls within the configured lead time. Run it from
// cron; it is safe to run repeatedly.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/david/dispatch/internal/config"
	"github.com/david/dispatch/internal/db"
	"github.com/david/dispatch/internal/models"
	"github.com/david/dispatch/internal/notify"
	"github.com/david/dispatch/internal/reminders"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dryRun    bool
		configDir string
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:          "reminders",
		Short:        "Send question and submission deadline reminders",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configDir, dryRun, verbose)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list due reminders without sending")
	cmd.Flags().StringVar(&configDir, "config-dir", ".", "directory holding config.yml")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "development logging")
	return cmd
}

func run(ctx context.Context, configDir string, dryRun, verbose bool) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	logger, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()
	store := db.NewStore(pool)

	mailer := notify.NewMailer(notify.NewLogSender(logger.Named("mail")), store, notify.Config{
		SiteName: cfg.SiteName,
		BaseURL:  cfg.BaseURL,
	}, logger.Named("notify"))

	dispatcher := reminders.NewDispatcher(store, mailer, time.Now, reminders.Config{
		QuestionLeadHours:   cfg.QuestionDeadlineReminderHours,
		SubmissionLeadHours: cfg.SubmissionDeadlineReminderHours,
	}, logger.Named("reminders"))

	if dryRun {
		return printPending(ctx, dispatcher)
	}

	stats, runErr := dispatcher.Run(ctx)
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Kind", "Due", "Sent", "Failed"})
	for _, st := range stats {
		t.AppendRow(table.Row{st.Kind, st.Found, st.Sent, st.Failed})
	}
	t.Render()
	return runErr
}

func printPending(ctx context.Context, d *reminders.Dispatcher) error {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Kind", "Opportunity", "Title", "Deadline"})

	for _, kind := range []models.DeadlineKind{models.DeadlineQuestions, models.DeadlineSubmissions} {
		due, err := d.Pending(ctx, kind)
		if err != nil {
			return err
		}
		for _, o := range due {
			t.AppendRow(table.Row{kind, o.ID, o.Title, formatDeadline(o, kind)})
		}
	}
	t.Render()
	return nil
}

func formatDeadline(o models.Opportunity, kind models.DeadlineKind) string {
	deadline := o.SubmissionsCloseAt
	if kind == models.DeadlineQuestions {
		deadline = o.QuestionsCloseAt
	}
	if deadline == nil {
		return "-"
	}
	return deadline.Local().Format("2006-01-02 15:04")
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
