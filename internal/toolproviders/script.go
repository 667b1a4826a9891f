// Package toolproviders holds the concrete StepToolProvider implementations
// the kernel dispatches through: a script-mode provider backed by the
// teacher's sandboxed exec tool, a cdp-mode provider backed by go-rod/rod,
// and a bridge-mode provider backed by an MCP client.
package toolproviders

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/internal/tools"
	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// ScriptProvider runs a step's action as a sandboxed shell command via the
// teacher's ExecTool (internal/tools/shell.go), adapted from a single named
// "exec" tool call to the kernel's generic mode==script invocation.
type ScriptProvider struct {
	id   string
	exec *tools.ExecTool
}

// NewScriptProvider wraps an ExecTool rooted at workingDir. restrict toggles
// the working-directory escape check ExecTool enforces.
func NewScriptProvider(workingDir string, restrict bool) *ScriptProvider {
	return &ScriptProvider{id: "script.exec", exec: tools.NewExecTool(workingDir, restrict)}
}

func (p *ScriptProvider) ID() string         { return p.id }
func (p *ScriptProvider) Mode() kerntypes.Mode { return kerntypes.ModeScript }
func (p *ScriptProvider) Priority() int      { return 0 }

func (p *ScriptProvider) CanHandle(ctx context.Context, input kerntypes.ExecuteStepInput) bool {
	_, ok := input.Args["command"].(string)
	return ok
}

// Invoke runs input.Args["command"] through the sandboxed exec tool and
// folds its Result into the plain data/error shape Orchestrator.ExecuteStep
// expects (a *StepError when the tool itself flags the result as an error,
// so the retry/fallback classification in internal/kernel/orchestrator.go
// sees a typed failure rather than an opaque one).
func (p *ScriptProvider) Invoke(ctx context.Context, input kerntypes.ExecuteStepInput) (any, error) {
	command, _ := input.Args["command"].(string)
	if command == "" {
		return nil, &kerntypes.StepError{Message: "script provider requires args.command", Code: "EINVAL"}
	}

	res := p.exec.Execute(ctx, map[string]any{"command": command})
	if res.IsError {
		return nil, &kerntypes.StepError{Message: res.ForLLM, Code: "ESCRIPT"}
	}
	return map[string]any{"output": res.ForLLM}, nil
}

var _ tools.StepToolProvider = (*ScriptProvider)(nil)
