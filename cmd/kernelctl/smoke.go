package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/hooks"
	"github.com/nextlevelbuilder/goclaw/internal/kernel"
	"github.com/nextlevelbuilder/goclaw/internal/kvstore"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// echoScriptProvider is a trivial in-memory script-mode provider for the
// smoke run — it never shells out, so `kernelctl smoke` has a driveable
// surface with zero external dependencies.
type echoScriptProvider struct{}

func (echoScriptProvider) ID() string           { return "smoke.echo" }
func (echoScriptProvider) Mode() kerntypes.Mode { return kerntypes.ModeScript }
func (echoScriptProvider) Priority() int        { return 0 }
func (echoScriptProvider) CanHandle(ctx context.Context, input kerntypes.ExecuteStepInput) bool {
	return true
}
func (echoScriptProvider) Invoke(ctx context.Context, input kerntypes.ExecuteStepInput) (any, error) {
	return map[string]any{"echoed": input.Action}, nil
}

var _ tools.StepToolProvider = echoScriptProvider{}

func smokeCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run one synthetic turn end-to-end against stub collaborators",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			sessionID := "smoke"

			kv, err := kvstore.Open(dbPath)
			if err != nil {
				return err
			}
			defer kv.Close()
			sessStore := store.NewKVSessionStore(kv)

			cfg := config.DefaultKernelConfig()
			b := bus.New()
			hk := hooks.NewRunner()
			providers := tools.NewProviderRegistry()
			policies := tools.NewCapabilityPolicyRegistry()
			providers.RegisterMode(kerntypes.ModeScript, echoScriptProvider{})
			runstates := kernel.NewRunStateManager()
			tracer := kernel.NewTracer(sessStore, 0, 0, 0, nil)
			loopGuard := kernel.NewLoopGuard(0, 0)
			inputGuard := kernel.NewInputGuard(kernel.InputGuardWarn)

			hk.On("compaction.summary", "smoke-summarizer", 0, func(ctx context.Context, v map[string]any) (hooks.Action, error) {
				return hooks.Patch(map[string]any{"summary": "smoke run summary"}), nil
			})

			orch := kernel.NewOrchestrator(b, hk, providers, policies, runstates, tracer, loopGuard, inputGuard, sessStore, nil, cfg, nil)

			if _, err := sessStore.CreateSession(ctx, sessionID); err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			runstates.CreateSession(sessionID, cfg.RetryMaxAttempts(), kerntypes.DequeueOneAtATime)
			runstates.SetRunning(sessionID, true)

			runstates.EnqueueQueuedPrompt(sessionID, kerntypes.BehaviorFollowUp, "remember to check the logs", nil)
			runstates.EnqueueQueuedPrompt(sessionID, kerntypes.BehaviorSteer, "stop and summarize", nil)

			if err := sessStore.AppendMessage(ctx, sessionID, kerntypes.RoleUser, "run the smoke check"); err != nil {
				return fmt.Errorf("append message: %w", err)
			}

			result, err := orch.ExecuteStep(ctx, kerntypes.ExecuteStepInput{
				SessionID: sessionID, Mode: kerntypes.ModeScript, Action: "smoke.check",
			})
			if err != nil {
				return fmt.Errorf("execute step: %w", err)
			}
			fmt.Printf("executeStep: ok=%v modeUsed=%s data=%v\n", result.OK, result.ModeUsed, result.Data)

			endResult, err := orch.HandleAgentEnd(ctx, kernel.AgentEndInput{SessionID: sessionID})
			if err != nil {
				return fmt.Errorf("handle agent end: %w", err)
			}
			fmt.Printf("handleAgentEnd: action=%s reason=%s\n", endResult.Action, endResult.Reason)

			// Persist the partial trace chunk so `trace show` can read it.
			tracer.Flush(ctx, sessionID)

			runstates.SetRunning(sessionID, false)
			rs, _ := runstates.Get(sessionID)
			if err := kv.KVSet(ctx, queueSnapshotKey(sessionID), rs.Queue); err != nil {
				return fmt.Errorf("persist queue snapshot: %w", err)
			}

			fmt.Println("smoke run complete — try `kernelctl trace show smoke` and `kernelctl queue inspect smoke`")
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "kernelctl.db", "sqlite database backing the session store")
	return cmd
}
