package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"

	"github.com/brojonat/xray/service/db"
	natspkg "github.com/brojonat/xray/service/nats"
	"github.com/brojonat/xray/service/temporal"
)

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-schedules",
		Usage:   "List all Temporal schedules",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ids, err := listScheduleIDs(c.Context, temporalClient.SDKClient())
			if err != nil {
				return err
			}

			return render(c, ids, func(out io.Writer) {
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SCHEDULE ID\tADDRESS")
				for _, id := range ids {
					address, ok := temporal.AddressFromScheduleID(id)
					if !ok {
						address = "-"
					}
					fmt.Fprintf(w, "%s\t%s\n", id, address)
				}
				w.Flush()
				fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d schedules\n", len(ids))
			})
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe-schedule",
		Usage:     "Describe the watch schedule of an address",
		Aliases:   []string{"desc"},
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}

			scheduleID := temporal.ScheduleID(c.Args().First())
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			handle := temporalClient.SDKClient().ScheduleClient().GetHandle(c.Context, scheduleID)
			desc, err := handle.Describe(c.Context)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			out := c.App.Writer
			fmt.Fprintf(out, "Schedule ID:    %s\n", scheduleID)
			fmt.Fprintf(out, "State Note:     %s\n", desc.Schedule.State.Note)
			fmt.Fprintf(out, "Paused:         %v\n", desc.Schedule.State.Paused)

			if wa, ok := desc.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
				fmt.Fprintf(out, "\nWorkflow:\n")
				fmt.Fprintf(out, "  Workflow:     %v\n", wa.Workflow)
				fmt.Fprintf(out, "  Task Queue:   %s\n", wa.TaskQueue)
			}

			if len(desc.Schedule.Spec.Intervals) > 0 {
				fmt.Fprintf(out, "\nSchedule Spec:\n")
				for i, interval := range desc.Schedule.Spec.Intervals {
					fmt.Fprintf(out, "  Interval %d:   Every %v\n", i+1, interval.Every)
				}
			}

			fmt.Fprintf(out, "\nRecent Actions: %d\n", len(desc.Info.RecentActions))
			if n := len(desc.Info.RecentActions); n > 0 {
				fmt.Fprintf(out, "Last Action:    %s\n", desc.Info.RecentActions[n-1].ActualTime.Format(time.RFC3339))
			}
			if len(desc.Info.NextActionTimes) > 0 {
				fmt.Fprintf(out, "Next Action:    %s\n", desc.Info.NextActionTimes[0].Format(time.RFC3339))
			}
			return nil
		},
	}
}

func pauseScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "pause-schedule",
		Aliases:   []string{"pause"},
		Usage:     "Pause the watch schedule of an address",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is paused",
				Value: "Paused via xray CLI",
			},
		},
		Action: func(c *cli.Context) error {
			return setSchedulePaused(c, true)
		},
	}
}

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume-schedule",
		Aliases:   []string{"resume"},
		Usage:     "Resume the paused watch schedule of an address",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is resumed",
				Value: "Resumed via xray CLI",
			},
		},
		Action: func(c *cli.Context) error {
			return setSchedulePaused(c, false)
		},
	}
}

// setSchedulePaused pauses or resumes a watch schedule. With a database
// configured, the watched address status is updated to match.
func setSchedulePaused(c *cli.Context, paused bool) error {
	if c.NArg() != 1 {
		return fmt.Errorf("requires exactly one argument: address")
	}
	address := c.Args().First()
	note := c.String("note")

	temporalClient, err := getTemporalClient(c)
	if err != nil {
		return err
	}
	defer temporalClient.Close()

	handle := temporalClient.SDKClient().ScheduleClient().GetHandle(c.Context, temporal.ScheduleID(address))
	status := db.StatusActive
	if paused {
		status = db.StatusPaused
		err = handle.Pause(c.Context, client.SchedulePauseOptions{Note: note})
	} else {
		err = handle.Unpause(c.Context, client.ScheduleUnpauseOptions{Note: note})
	}
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	if c.String("database-url") != "" {
		store, closer, err := getStore(c)
		if err != nil {
			return err
		}
		defer closer()

		watched, err := store.GetWatchedAddress(c.Context, address)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("failed to get watched address: %w", err)
		}
		if watched != nil {
			if _, err := store.UpsertWatchedAddress(c.Context, db.UpsertWatchedAddressParams{
				Address:      address,
				PollInterval: watched.PollInterval,
				Status:       status,
			}); err != nil {
				return fmt.Errorf("failed to update watched address status: %w", err)
			}
		}
	}

	fmt.Fprintf(c.App.Writer, "✓ Schedule %s: %s\n", status, temporal.ScheduleID(address))
	if note != "" {
		fmt.Fprintf(c.App.Writer, "  Note: %s\n", note)
	}
	return nil
}

// reconcileReport lists the differences between watched addresses and schedules.
type reconcileReport struct {
	Watched   int                  `json:"watched"`
	Schedules int                  `json:"schedules"`
	Missing   []*db.WatchedAddress `json:"missing"`
	Orphaned  []string             `json:"orphaned"`
}

// reconcile finds active addresses without a schedule and watch schedules whose
// address is no longer watched. Schedules that are not watch schedules are ignored.
func reconcile(watched []*db.WatchedAddress, scheduleIDs []string) reconcileReport {
	report := reconcileReport{
		Watched:   len(watched),
		Schedules: len(scheduleIDs),
		Missing:   []*db.WatchedAddress{},
		Orphaned:  []string{},
	}

	schedules := make(map[string]bool, len(scheduleIDs))
	for _, id := range scheduleIDs {
		schedules[id] = true
	}
	addresses := make(map[string]bool, len(watched))
	for _, w := range watched {
		addresses[w.Address] = true
		if w.Status == db.StatusActive && !schedules[temporal.ScheduleID(w.Address)] {
			report.Missing = append(report.Missing, w)
		}
	}

	for _, id := range scheduleIDs {
		address, ok := temporal.AddressFromScheduleID(id)
		if ok && !addresses[address] {
			report.Orphaned = append(report.Orphaned, id)
		}
	}
	sort.Strings(report.Orphaned)
	return report
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Check for inconsistencies between watched addresses and Temporal schedules",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "fix",
				Usage: "Automatically fix inconsistencies (creates missing schedules, deletes orphaned ones)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := c.Context
			watched, err := store.ListWatchedAddresses(ctx)
			if err != nil {
				return fmt.Errorf("failed to list watched addresses: %w", err)
			}
			ids, err := listScheduleIDs(ctx, temporalClient.SDKClient())
			if err != nil {
				return err
			}

			report := reconcile(watched, ids)
			if c.Bool("json") && !c.Bool("fix") {
				return outputJSON(c.App.Writer, report)
			}

			out := c.App.Writer
			fmt.Fprintf(out, "Reconciliation Report:\n")
			fmt.Fprintf(out, "  Watched addresses in DB: %d\n", report.Watched)
			fmt.Fprintf(out, "  Schedules in Temporal:   %d\n\n", report.Schedules)

			if len(report.Missing) > 0 {
				fmt.Fprintf(out, "⚠ Addresses missing schedules (%d):\n", len(report.Missing))
				for _, w := range report.Missing {
					fmt.Fprintf(out, "  - %s (every %v)\n", w.Address, w.PollInterval)
				}
			} else {
				fmt.Fprintf(out, "✓ All active addresses have schedules\n")
			}

			if len(report.Orphaned) > 0 {
				fmt.Fprintf(out, "\n⚠ Orphaned schedules (%d):\n", len(report.Orphaned))
				for _, id := range report.Orphaned {
					fmt.Fprintf(out, "  - %s\n", id)
				}
			} else {
				fmt.Fprintf(out, "✓ No orphaned schedules\n")
			}

			if len(report.Missing) == 0 && len(report.Orphaned) == 0 {
				return nil
			}
			if !c.Bool("fix") {
				fmt.Fprintf(out, "\nTo fix these issues, run: xray temporal reconcile --fix\n")
				return nil
			}

			fmt.Fprintf(out, "\nFixing inconsistencies...\n")
			var failed int
			for _, w := range report.Missing {
				if err := temporalClient.UpsertAddressSchedule(ctx, w.Address, w.PollInterval); err != nil {
					fmt.Fprintf(out, "  ✗ Failed to create schedule for %s: %v\n", w.Address, err)
					failed++
					continue
				}
				fmt.Fprintf(out, "  ✓ Created schedule for %s\n", w.Address)
			}
			for _, id := range report.Orphaned {
				address, _ := temporal.AddressFromScheduleID(id)
				if err := temporalClient.DeleteAddressSchedule(ctx, address); err != nil {
					fmt.Fprintf(out, "  ✗ Failed to delete schedule %s: %v\n", id, err)
					failed++
					continue
				}
				fmt.Fprintf(out, "  ✓ Deleted orphaned schedule %s\n", id)
			}

			if failed > 0 {
				return fmt.Errorf("reconciliation finished with %d failures", failed)
			}
			fmt.Fprintf(out, "\nReconciliation complete!\n")
			return nil
		},
	}
}

func listScheduleIDs(ctx context.Context, c client.Client) ([]string, error) {
	iter, err := c.ScheduleClient().List(ctx, client.ScheduleListOptions{
		PageSize: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	var ids []string
	for iter.HasNext() {
		schedule, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate schedules: %w", err)
		}
		ids = append(ids, schedule.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to classified transaction events",
		ArgsUsage: "[ADDRESS]",
		Description: `Subscribe to real-time transaction events published to NATS JetStream.

Events are published to the subject: xray.txns.{address}. Without an address,
events for every watched address are shown.

Example:
  xray nats subscribe 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU --json`,
		Action: func(c *cli.Context) error {
			address := c.Args().First()
			jsonOutput := c.Bool("json")

			js, err := natspkg.Connect(c.String("nats-url"), "xray-cli", nil, newLogger(c))
			if err != nil {
				return err
			}
			defer js.Close()

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var count int
			events := make(chan *natspkg.TransactionEvent, 16)
			stop, err := js.Subscribe(ctx, address, func(e *natspkg.TransactionEvent) {
				select {
				case events <- e:
				case <-ctx.Done():
				}
			})
			if err != nil {
				return err
			}
			defer stop()

			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "Subscribed to %s (Ctrl+C to stop)\n\n", natspkg.Subject(address))
			}

			for {
				select {
				case e := <-events:
					count++
					if jsonOutput {
						outputJSON(c.App.Writer, e)
						continue
					}
					fmt.Fprintf(c.App.Writer, "Address:      %s\n", e.Address)
					printTransaction(c.App.Writer, e.Transaction)
					fmt.Fprintf(c.App.Writer, "Published:    %s\n\n", e.PublishedAt.Format(time.RFC3339))
				case <-ctx.Done():
					if !jsonOutput {
						fmt.Fprintf(c.App.ErrWriter, "\nReceived %d transactions\n", count)
					}
					return nil
				}
			}
		},
	}
}

func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the transaction JetStream stream",
		Action: func(c *cli.Context) error {
			js, err := natspkg.Connect(c.String("nats-url"), "xray-cli", nil, newLogger(c))
			if err != nil {
				return err
			}
			defer js.Close()

			info, err := js.StreamInfo(c.Context)
			if err != nil {
				return err
			}

			return render(c, info, func(out io.Writer) {
				fmt.Fprintf(out, "Stream: %s\n", info.Config.Name)
				fmt.Fprintf(out, "─────────────────────────────────────────────────────\n")
				fmt.Fprintf(out, "Description:  %s\n", info.Config.Description)
				fmt.Fprintf(out, "Subjects:     %v\n", info.Config.Subjects)
				fmt.Fprintf(out, "Messages:     %d\n", info.State.Msgs)
				fmt.Fprintf(out, "Bytes:        %d\n", info.State.Bytes)
				fmt.Fprintf(out, "First Seq:    %d\n", info.State.FirstSeq)
				fmt.Fprintf(out, "Last Seq:     %d\n", info.State.LastSeq)
				fmt.Fprintf(out, "Consumers:    %d\n", info.State.Consumers)
				fmt.Fprintf(out, "Max Age:      %s\n", info.Config.MaxAge)
				fmt.Fprintf(out, "Storage:      %s\n", info.Config.Storage)
			})
		},
	}
}

// getStore connects to the database named by --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(c.Context, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(c.Context); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool), pool.Close, nil
}

// getTemporalClient connects to the Temporal server named by the global flags.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	temporalClient, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		newLogger(c),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return temporalClient, nil
}
