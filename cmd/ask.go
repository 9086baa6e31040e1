package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/observability"
	"github.com/xkilldash9x/tandem-cli/internal/service"
)

// Function variable for dependency injection in tests.
var newPromptOnly = service.NewPromptOnly

type askOptions struct {
	reuseStreamedAnswer bool
	engine              string
	promptOnly          bool
	contextFile         string
}

// newAskCmd creates the `ask` command. With no query it reads questions from
// stdin until EOF or "exit".
func newAskCmd(factory service.ComponentFactory, cfg *config.Config) *cobra.Command {
	opts := &askOptions{}

	askCmd := &cobra.Command{
		Use:   "ask [query...]",
		Short: "Ask the restricted agent a question about the sandbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if cmd.Flags().Changed("reuse-streamed-answer") {
				cfg.SetReuseStreamedAnswer(opts.reuseStreamedAnswer)
			}
			if opts.engine != "" {
				cfg.SetEngineKind(config.EngineKind(opts.engine))
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			if opts.promptOnly {
				return runPromptOnly(ctx, cmd, cfg, opts, args, logger)
			}

			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize session components: %w", err)
			}
			defer components.Shutdown()

			if logger.Core().Enabled(zap.DebugLevel) {
				sb := cfg.Sandbox()
				if tree, err := components.Backend.Tree(ctx, sb.TreeDepth, sb.TreeFilesPerDir); err == nil {
					logger.Debug("Sandbox layout\n" + tree)
				}
			}

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				answer, err := components.Controller.AskAgent(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(out, answer)
				return nil
			}
			return runInteractive(ctx, cmd.InOrStdin(), out, components.Controller.AskAgent)
		},
	}

	askCmd.Flags().BoolVar(&opts.reuseStreamedAnswer, "reuse-streamed-answer", false, "return the streamed pass's answer instead of running a second answer pass.\n"+
		"Without it every delegated write runs twice; set it when tasks such as renames or deletes are not idempotent")
	askCmd.Flags().StringVar(&opts.engine, "engine", "", "reasoning engine: gemini or json (overrides llm.engine)")
	askCmd.Flags().BoolVar(&opts.promptOnly, "prompt-only", false, "answer from --context-file with a single generation and no capabilities")
	askCmd.Flags().StringVar(&opts.contextFile, "context-file", "", "file holding the context for --prompt-only")
	return askCmd
}

func runPromptOnly(ctx context.Context, cmd *cobra.Command, cfg config.Interface, opts *askOptions, args []string, logger *zap.Logger) error {
	if opts.contextFile == "" {
		return fmt.Errorf("--prompt-only requires --context-file")
	}
	if len(args) == 0 {
		return fmt.Errorf("--prompt-only requires a question")
	}
	contextText, err := os.ReadFile(opts.contextFile)
	if err != nil {
		return fmt.Errorf("failed to read context file: %w", err)
	}

	p, cleanup, err := newPromptOnly(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	answer, err := p.Answer(ctx, string(contextText), strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), answer)
	return nil
}

// runInteractive is the question loop. Failed questions are reported and the
// loop continues; cancellation ends it.
func runInteractive(ctx context.Context, in io.Reader, out io.Writer, ask func(context.Context, string) (string, error)) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "tandem > ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		answer, err := ask(ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintln(out, "Error:", err)
			continue
		}
		fmt.Fprintln(out, answer)
	}
	fmt.Fprintln(out)
	return scanner.Err()
}
