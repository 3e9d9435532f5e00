package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/xray/client"
	"github.com/brojonat/xray/service/classify"
	"github.com/brojonat/xray/service/logging"
)

const divider = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// render writes v as JSON when --json or --jq is set, and otherwise calls pretty.
func render(c *cli.Context, v interface{}, pretty func(w io.Writer)) error {
	w := c.App.Writer
	if filter := c.String("jq"); filter != "" {
		return outputJQ(w, filter, v)
	}
	if c.Bool("json") || pretty == nil {
		return outputJSON(w, v)
	}
	pretty(w)
	return nil
}

// outputJSON writes indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputJQ runs a jq filter over the JSON form of v. String results are written
// raw, everything else as indented JSON.
func outputJQ(w io.Writer, filter string, v interface{}) error {
	query, err := gojq.Parse(filter)
	if err != nil {
		return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}

	// gojq only accepts plain JSON values
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("failed to decode output: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := result.(error); ok {
			return fmt.Errorf("jq filter %q failed: %w", filter, err)
		}
		if s, ok := result.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
}

func newLogger(c *cli.Context) *slog.Logger {
	return logging.New(c.String("log-level"), "text", c.App.ErrWriter)
}

func newAPIClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set XRAY_SERVER_URL env var or use --server-url)")
	}
	return client.NewClient(serverURL, nil, newLogger(c)), nil
}

// printTransaction writes a human readable summary of a classified transaction.
func printTransaction(w io.Writer, tx classify.Transaction) {
	fmt.Fprintf(w, "Signature:    %s\n", tx.Signature)
	typ := string(tx.Type)
	if tx.CustomType != "" {
		typ += " (" + string(tx.CustomType) + ")"
	}
	fmt.Fprintf(w, "Type:         %s\n", typ)
	if tx.Source != "" {
		fmt.Fprintf(w, "Source:       %s\n", tx.Source)
	}
	fmt.Fprintf(w, "Fee:          %s SOL\n", tx.Fee.String())
	fmt.Fprintf(w, "Primary User: %s\n", orNone(tx.PrimaryUser))
	fmt.Fprintf(w, "Timestamp:    %d\n", tx.Timestamp)

	if len(tx.Actions) == 0 {
		fmt.Fprintf(w, "Actions:      (none)\n")
	} else {
		fmt.Fprintf(w, "Actions:\n")
		for _, a := range tx.Actions {
			asset := a.Sent
			if asset == "" {
				asset = a.Received
			}
			fmt.Fprintf(w, "  %-22s %s %s  %s -> %s\n",
				a.ActionType.Label(), a.Amount.String(), orNone(asset), orNone(a.From), orNone(a.To))
		}
	}

	if len(tx.Accounts) > 0 {
		fmt.Fprintf(w, "Accounts:\n")
		for _, entry := range tx.Accounts {
			name := entry.Account
			if entry.Label != "" {
				name += " (" + entry.Label + ")"
			}
			changes := make([]string, len(entry.Changes))
			for i, ch := range entry.Changes {
				changes[i] = ch.Amount.String() + " " + ch.Mint
			}
			fmt.Fprintf(w, "  %s: %s\n", name, strings.Join(changes, ", "))
		}
	}
}

func printTransactions(w io.Writer, txs []classify.Transaction) {
	for i, tx := range txs {
		if i > 0 {
			fmt.Fprintln(w, divider)
		}
		printTransaction(w, tx)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
