// Package cmd holds the command-line surface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tillfalko/interpolation-engine/internal/config"
	"github.com/tillfalko/interpolation-engine/internal/engine"
	"github.com/tillfalko/interpolation-engine/internal/ioman"
	"github.com/tillfalko/interpolation-engine/internal/logsink"
	"github.com/tillfalko/interpolation-engine/internal/program"
	intsignal "github.com/tillfalko/interpolation-engine/internal/signal"
)

var (
	logPath     string
	historyPath string
	insertsDir  string
	agentMode   bool
)

var rootCmd = &cobra.Command{
	Use:   "interpolation-engine <program.json5> [program-arguments...]",
	Short: "Run a declarative chat-completion program",
	Long: `interpolation-engine interprets declarative .json5 programs that
orchestrate streaming chat completions, user input, control flow and
string interpolation.

Program arguments after the path become {ARG1}, {ARG2}, … inside the
program. Use '--' before arguments that start with '-'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: run,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&logPath, "log", "", "Append run logs to this path (recommended)")
	rootCmd.Flags().StringVar(&historyPath, "history", "", "Persist prompt-line history at this path")
	rootCmd.Flags().StringVar(&insertsDir, "inserts-dir", "", "Directory to load inserts from when a key is not in the state")
	rootCmd.Flags().BoolVar(&agentMode, "agent-mode", false, "Exchange prompts via the agent input/output files instead of the TUI")
}

// Execute runs the root command; errors exit non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// A local .env may carry OPENAI_API_KEY and friends.
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if insertsDir != "" {
		info, err := os.Stat(insertsDir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("--inserts-dir must be an existing directory, got '%s'", insertsDir)
		}
	}

	sink, err := logsink.Open(logPath)
	if err != nil {
		return err
	}
	defer sink.Close()

	loader := program.NewLoader(insertsDir, sink)
	path := args[0]
	prog, state, err := loader.Load(path)
	if err != nil {
		return err
	}

	var eng *engine.Engine
	var io ioman.Manager
	if agentMode {
		io = ioman.NewAgent(cfg.AgentOutputPath, cfg.AgentInputPath)
	} else {
		io = ioman.NewTUI(historyPath,
			func() { eng.ToggleMenu() },
			func() { eng.Terminate() },
		)
	}

	eng = engine.New(prog, state, io, sink, cfg, loader, path)
	eng.SetArgs(args[1:])

	ctx := context.Background()
	if len(prog.Order()) > 0 {
		if err := io.Start(ctx); err != nil {
			return err
		}
	}

	stopSignals := intsignal.NotifyMenu(eng.ToggleMenu)
	runErr := eng.Run(ctx)
	stopSignals()

	if len(prog.Order()) > 0 {
		if err := io.Stop(); err != nil && runErr == nil {
			runErr = err
		}
	}

	// Leave the final visible output on the plain terminal.
	fmt.Println(strings.TrimSpace(eng.State().Output()))

	return runErr
}
