package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/xray/client"
	natspkg "github.com/brojonat/xray/service/nats"
)

func perspectiveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "address",
			Aliases: []string{"a"},
			Usage:   "Viewer address actions are expressed relative to",
		},
		&cli.BoolFlag{
			Name:    "group",
			Aliases: []string{"g"},
			Usage:   "Merge repeated movements of the same asset between the same parties",
		},
	}
}

func txCommand() *cli.Command {
	return &cli.Command{
		Name:      "tx",
		Usage:     "Fetch and classify a transaction by signature",
		ArgsUsage: "SIGNATURE",
		Flags:     perspectiveFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			tx, err := cl.GetTransaction(c.Context, c.Args().First(), client.Options{
				Viewer: c.String("address"),
				Group:  c.Bool("group"),
			})
			if client.IsNotFound(err) {
				return fmt.Errorf("transaction %s not found", c.Args().First())
			}
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}
			return render(c, tx, func(w io.Writer) { printTransaction(w, *tx) })
		},
	}
}

func addressCommand() *cli.Command {
	return &cli.Command{
		Name:      "address",
		Usage:     "Fetch and classify recent transactions of an address",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "before", Usage: "Only transactions older than this signature"},
			&cli.StringFlag{Name: "until", Usage: "Only transactions newer than this signature"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum transactions (1-100)", Value: 20},
			&cli.BoolFlag{Name: "group", Aliases: []string{"g"}, Usage: "Merge repeated movements"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			page, err := cl.ListAddressTransactions(c.Context, c.Args().First(), client.ListOptions{
				Before: c.String("before"),
				Until:  c.String("until"),
				Limit:  c.Int("limit"),
				Group:  c.Bool("group"),
			})
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			return render(c, page, func(w io.Writer) {
				printTransactions(w, page.Transactions)
				fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d transactions\n", page.Count)
				if page.NextBefore != "" {
					fmt.Fprintf(c.App.ErrWriter, "Next page: --before %s\n", page.NextBefore)
				}
			})
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List stored transactions classified for an address",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Page size", Value: 50},
			&cli.IntFlag{Name: "offset", Usage: "Page offset"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			h, err := cl.History(c.Context, c.Args().First(), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to get history: %w", err)
			}
			return render(c, h, func(w io.Writer) {
				printTransactions(w, h.Transactions)
				fmt.Fprintf(c.App.ErrWriter, "\nShowing %d of %d transactions (offset %d)\n", h.Count, h.Total, h.Offset)
			})
		},
	}
}

func labelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "labels",
		Usage: "List the address labels known to the server",
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			labels, err := cl.Labels(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get labels: %w", err)
			}

			return render(c, labels, func(out io.Writer) {
				addresses := make([]string, 0, len(labels))
				for address := range labels {
					addresses = append(addresses, address)
				}
				sort.Strings(addresses)

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ADDRESS\tNAME\tCATEGORY")
				for _, address := range addresses {
					fmt.Fprintf(w, "%s\t%s\t%s\n", address, labels[address].Name, labels[address].Category)
				}
				w.Flush()
			})
		},
	}
}

func watchCommands() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Address watching commands",
		Subcommands: []*cli.Command{
			watchAddCommand(),
			watchRemoveCommand(),
			watchGetCommand(),
			watchListCommand(),
		},
	}
}

func watchAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Watch an address, or update its poll interval",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "poll-interval",
				Aliases: []string{"i"},
				Usage:   "How often to poll for new transactions (e.g., 30s, 1m). Empty uses the server default",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			watched, err := cl.Watch(c.Context, c.Args().First(), c.Duration("poll-interval"))
			if err != nil {
				return fmt.Errorf("failed to watch address: %w", err)
			}
			return render(c, watched, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Watching %s every %v\n", watched.Address, watched.PollInterval)
			})
		},
	}
}

func watchRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm"},
		Usage:     "Stop watching an address (stored history is kept)",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			address := c.Args().First()
			if err := cl.Unwatch(c.Context, address); err != nil {
				return fmt.Errorf("failed to unwatch address: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Stopped watching %s\n", address)
			return nil
		},
	}
}

func watchGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show the watch details of an address",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			watched, err := cl.GetWatched(c.Context, c.Args().First())
			if client.IsNotFound(err) {
				return fmt.Errorf("address %s is not watched", c.Args().First())
			}
			if err != nil {
				return fmt.Errorf("failed to get watched address: %w", err)
			}
			return render(c, watched, func(w io.Writer) { printWatched(w, watched) })
		},
	}
}

func watchListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List watched addresses",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Filter by status (active, paused)",
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			watched, err := cl.ListWatched(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list watched addresses: %w", err)
			}

			if status := c.String("status"); status != "" {
				filtered := make([]*client.WatchedAddress, 0, len(watched))
				for _, w := range watched {
					if w.Status == status {
						filtered = append(filtered, w)
					}
				}
				watched = filtered
			}

			return render(c, watched, func(out io.Writer) {
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ADDRESS\tSTATUS\tPOLL INTERVAL\tLAST POLL\tLAST SIGNATURE")
				for _, wa := range watched {
					fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
						wa.Address,
						wa.Status,
						wa.PollInterval,
						formatOptionalTime(wa.LastPollTime),
						formatOptionalString(wa.LastSignature),
					)
				}
				w.Flush()
				fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d addresses\n", len(watched))
			})
		},
	}
}

func printWatched(w io.Writer, wa *client.WatchedAddress) {
	fmt.Fprintf(w, "Address:        %s\n", wa.Address)
	fmt.Fprintf(w, "Status:         %s\n", wa.Status)
	fmt.Fprintf(w, "Poll Interval:  %v\n", wa.PollInterval)
	fmt.Fprintf(w, "Last Poll:      %s\n", formatOptionalTime(wa.LastPollTime))
	fmt.Fprintf(w, "Last Signature: %s\n", formatOptionalString(wa.LastSignature))
	fmt.Fprintf(w, "Created:        %s\n", wa.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated:        %s\n", wa.UpdatedAt.Format(time.RFC3339))
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func formatOptionalString(s *string) string {
	if s == nil || *s == "" {
		return "(none)"
	}
	return *s
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream classified transactions of watched addresses via SSE",
		ArgsUsage: "[ADDRESS]",
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			address := c.Args().First()

			// Create context that cancels on interrupt
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					cancel()
				case <-ctx.Done():
				}
			}()

			jsonOutput := c.Bool("json")
			if !jsonOutput {
				target := address
				if target == "" {
					target = "all watched addresses"
				}
				fmt.Fprintf(c.App.ErrWriter, "Streaming transactions for %s... (Ctrl+C to stop)\n\n", target)
			}

			return cl.Stream(ctx, address, func(e *natspkg.TransactionEvent) {
				if jsonOutput {
					outputJSON(c.App.Writer, e)
					return
				}
				fmt.Fprintf(c.App.Writer, "Address:      %s\n", e.Address)
				printTransaction(c.App.Writer, e.Transaction)
				fmt.Fprintf(c.App.Writer, "Published:    %s\n\n", e.PublishedAt.Format(time.RFC3339))
			})
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			if err := cl.Health(ctx); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			fmt.Fprintf(c.App.Writer, "✓ Server is healthy\n")
			fmt.Fprintf(c.App.Writer, "  URL: %s\n", c.String("server-url"))
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "xray CLI\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}
