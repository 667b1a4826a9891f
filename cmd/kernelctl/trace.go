package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw/internal/kernel"
	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

var traceDBPath string

func traceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect a session's step trace",
	}
	cmd.PersistentFlags().StringVar(&traceDBPath, "db", "kernelctl.db", "sqlite database backing the session store")
	cmd.AddCommand(traceShowCmd())
	return cmd
}

func traceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <sessionId>",
		Short: "Replay a session's persisted trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			st, closeFn, err := openSessionStore(traceDBPath)
			if err != nil {
				return err
			}
			defer closeFn()

			tr := kernel.NewTracer(st, 0, 0, 0, nil)
			records, err := tr.GetStepStream(context.Background(), sessionID)
			if err != nil {
				return fmt.Errorf("get step stream: %w", err)
			}
			if len(records) == 0 {
				fmt.Println("(no trace records)")
				return nil
			}
			printTraceRows(records)
			return nil
		},
	}
}

// printTraceRows renders a fixed-width table, padding with go-runewidth so
// wide-character payload summaries (CJK tool args, emoji) don't skew the
// column alignment the way naive len() padding would.
func printTraceRows(records []kerntypes.StepTraceRecord) {
	const (
		timeWidth = 24
		typeWidth = 24
	)
	fmt.Println(pad("TIMESTAMP", timeWidth) + pad("TYPE", typeWidth) + "PAYLOAD")
	for _, r := range records {
		summary := summarizePayload(r.Payload)
		fmt.Println(pad(r.Timestamp, timeWidth) + pad(string(r.Type), typeWidth) + summary)
	}
}

func summarizePayload(payload map[string]any) string {
	if len(payload) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(payload))
	for k, v := range payload {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ")
}

func pad(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}
