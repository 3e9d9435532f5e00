package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/xray/service/classify"
)

func classifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Classify enhanced transactions locally",
		ArgsUsage: "[FILE]",
		Description: `Classify a raw enhanced transaction, or a JSON array of them, without a server.
Reads FILE, or stdin when FILE is omitted or "-".

Example:
  xray classify --address 7xKX...gAsU tx.json
  curl -s "$HELIUS/v0/addresses/$ADDR/transactions?api-key=$KEY" | xray classify --address $ADDR --jq '.[].type'`,
		Flags: []cli.Flag{
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
			&cli.StringFlag{
				Name:    "labels",
				Usage:   "YAML file of address labels merged over the built-in table",
				EnvVars: []string{"LABELS_FILE"},
			},
			&cli.Int64Flag{
				Name:  "rent-threshold",
				Usage: "Native transfers at or below this many lamports are treated as rent (0 = default, negative disables)",
			},
		},
		Action: func(c *cli.Context) error {
			input, err := readInput(c)
			if err != nil {
				return err
			}

			labels := classify.DefaultLabels()
			if path := c.String("labels"); path != "" {
				if labels, err = classify.LoadLabels(path); err != nil {
					return fmt.Errorf("failed to load labels: %w", err)
				}
			}
			opts := classify.DefaultOptions()
			if c.IsSet("rent-threshold") {
				opts.RentThreshold = c.Int64("rent-threshold")
			}
			classifier := classify.NewClassifier(labels, opts, nil, newLogger(c))

			viewer := c.String("address")
			group := func(tx classify.Transaction) classify.Transaction {
				if c.Bool("group") {
					return classify.Group(tx)
				}
				return tx
			}

			trimmed := bytes.TrimSpace(input)
			if len(trimmed) > 0 && trimmed[0] == '[' {
				var raws []*classify.RawTransaction
				if err := json.Unmarshal(trimmed, &raws); err != nil {
					return fmt.Errorf("failed to decode transactions: %w", err)
				}
				txs := classifier.ClassifyBatch(raws, viewer)
				for i := range txs {
					txs[i] = group(txs[i])
				}
				return render(c, txs, func(w io.Writer) { printTransactions(w, txs) })
			}

			var raw classify.RawTransaction
			if err := json.Unmarshal(trimmed, &raw); err != nil {
				return fmt.Errorf("failed to decode transaction: %w", err)
			}
			tx := group(classifier.Classify(&raw, viewer))
			return render(c, tx, func(w io.Writer) { printTransaction(w, tx) })
		},
	}
}

// readInput reads the file named by the first argument, or stdin.
func readInput(c *cli.Context) ([]byte, error) {
	path := c.Args().First()
	if path == "" || path == "-" {
		reader := c.App.Reader
		if reader == nil {
			reader = os.Stdin
		}
		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
