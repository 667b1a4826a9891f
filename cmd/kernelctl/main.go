// Command kernelctl is the operator CLI for the orchestration kernel:
// inspecting a session's run state and trace, and driving a synthetic
// end-to-end turn against in-memory stub collaborators. Grounded on the
// teacher's cmd/root.go + per-area subcommand layout (cmd/agent_chat.go,
// cmd/doctor.go, …), generalised from the gateway CLI to the kernel.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kernelctl",
	Short: "Inspect and smoke-test the orchestration kernel",
}

func init() {
	rootCmd.AddCommand(traceCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(smokeCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kernelctl:", err)
		os.Exit(1)
	}
}
