package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw/internal/kvstore"
	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// queueSnapshotKey is where smokeCmd persists the run state's queue after a
// synthetic turn, so queueCmd has something real to read back against the
// same --db file. RunState itself is in-process control-plane state
// (internal/kernel.RunStateManager) and is never durably stored; this
// snapshot is a kernelctl-only convenience, not part of the KernelSessionStore
// contract.
func queueSnapshotKey(sessionID string) string { return "kernelctl:queue:" + sessionID }

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect a session's queued-prompt state",
	}
	cmd.PersistentFlags().StringVar(&traceDBPath, "db", "kernelctl.db", "sqlite database backing the session store")
	cmd.AddCommand(queueInspectCmd())
	return cmd
}

func queueInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <sessionId>",
		Short: "Dump a session's steer/follow-up queues from the last smoke run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			kv, err := kvstore.Open(traceDBPath)
			if err != nil {
				return err
			}
			defer kv.Close()

			raw, err := kv.KVGet(context.Background(), queueSnapshotKey(sessionID))
			if err != nil {
				return fmt.Errorf("read queue snapshot: %w", err)
			}
			if raw == nil {
				fmt.Println("(no queue snapshot — run `kernelctl smoke` first)")
				return nil
			}

			var qs kerntypes.QueueState
			if err := remarshal(raw, &qs); err != nil {
				return fmt.Errorf("decode queue snapshot: %w", err)
			}
			fmt.Printf("dequeueMode: %s\n", qs.DequeueMode)
			printQueueLane("steer", qs.Steer)
			printQueueLane("followUp", qs.FollowUp)
			return nil
		},
	}
}

func printQueueLane(name string, prompts []kerntypes.QueuedPrompt) {
	fmt.Printf("%s (%d):\n", name, len(prompts))
	for _, p := range prompts {
		fmt.Printf("  - [%s] %q skills=%v\n", p.Timestamp, p.Text, p.SkillIDs)
	}
}
