package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/david/dispatch/internal/config"
	"github.com/david/dispatch/internal/db"
	"github.com/david/dispatch/internal/filter"
	"github.com/david/dispatch/internal/lifecycle"
	"github.com/david/dispatch/internal/models"
)

// Prints how many live opportunities sit in each lifecycle status.
func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	now := time.Now()
	res, err := db.NewStore(pool).Query(ctx, filter.Query{
		View:   filter.ViewPending,
		Status: filter.StatusAll,
		Sort:   filter.SortRecentlyUpdated,
		Now:    now,
	})
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	counts := map[lifecycle.Status]int{}
	var questionReminders, submissionReminders int
	for _, o := range res.Opportunities {
		counts[lifecycle.StatusKey(o, now)]++
		if o.ReminderSent(models.DeadlineQuestions) {
			questionReminders++
		}
		if o.ReminderSent(models.DeadlineSubmissions) {
			submissionReminders++
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Status", "Opportunities"})
	for _, status := range []lifecycle.Status{
		lifecycle.StatusPendingApproval,
		lifecycle.StatusDraft,
		lifecycle.StatusNotPublished,
		lifecycle.StatusOpen,
		lifecycle.StatusClosed,
	} {
		t.AppendRow(table.Row{status, counts[status]})
	}
	t.AppendFooter(table.Row{"Total", len(res.Opportunities)})
	t.Render()

	fmt.Printf("Question reminders sent: %d\n", questionReminders)
	fmt.Printf("Submission reminders sent: %d\n", submissionReminders)
}
