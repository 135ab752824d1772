// Package main is an operator tool for enqueuing a one-off communication
// task. It talks straight to the task store, so the scheduled task flows
// through the same dispatch, guard, and delivery pipeline as any other.
//
// The --at value accepts a timezone-aware instant or a naive local-time
// string; naive values are interpreted at the configured regional offset.
//
// Usage:
//
//	enqueue --job-key=adhoc:42 --template=welcome --channel=email \
//	  --to=user@example.com --at="2026-09-01 09:00:00" \
//	  --payload='{"name":"Ari"}'
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"commrelay/internal/config"
	"commrelay/internal/db"
	"commrelay/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "enqueue failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		jobKey   = flag.String("job-key", "", "dedup job key (required)")
		template = flag.String("template", "", "template code (required)")
		channel  = flag.String("channel", "email", "delivery channel: email or whatsapp")
		topic    = flag.String("topic", string(types.TopicGeneral), "task topic")
		to       = flag.String("to", "", "recipient email address or phone number (required)")
		at       = flag.String("at", "", "schedule instant; empty means now")
		payload  = flag.String("payload", "{}", "template payload as a JSON object")
	)
	flag.Parse()

	if *jobKey == "" || *template == "" || *to == "" {
		flag.Usage()
		return fmt.Errorf("--job-key, --template, and --to are required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	scheduledAt := time.Now().UTC()
	if *at != "" {
		scheduledAt, err = types.ParseScheduleTime(*at, cfg.Schedule.RegionalOffsetMinutes)
		if err != nil {
			return err
		}
	}

	var vars types.Payload
	if err := json.Unmarshal([]byte(*payload), &vars); err != nil {
		return fmt.Errorf("invalid --payload: %w", err)
	}

	task := &types.Task{
		Channel:      types.Channel(*channel),
		TemplateCode: *template,
		Topic:        types.Topic(*topic),
		Payload:      vars,
		JobKey:       *jobKey,
		ScheduledAt:  scheduledAt,
	}
	switch task.Channel {
	case types.ChannelEmail:
		task.ToEmail = *to
	case types.ChannelWhatsApp:
		task.ToPhone = *to
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	inserted, err := db.NewTaskRepository(pool).Enqueue(ctx, task)
	if err != nil {
		return err
	}
	if !inserted {
		logger.Warn("task already exists, nothing enqueued",
			"job_key", *jobKey, "template", *template, "channel", *channel)
		return nil
	}
	logger.Info("task enqueued",
		"job_key", *jobKey, "template", *template, "channel", *channel,
		"scheduled_at", types.FormatUTC(scheduledAt))
	return nil
}
