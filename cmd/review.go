package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/codereview-chat/internal/config"
	"github.com/samsaffron/codereview-chat/internal/exitcode"
	"github.com/samsaffron/codereview-chat/internal/history"
	"github.com/samsaffron/codereview-chat/internal/llm"
	"github.com/samsaffron/codereview-chat/internal/review"
	"github.com/samsaffron/codereview-chat/internal/turn"
	"github.com/samsaffron/codereview-chat/internal/ui"
)

var reviewCmd = &cobra.Command{
	Use:   "review <file|->",
	Short: "Review a file and stream the result",
	Long: `Send one file (or stdin with "-") for review and stream the reply.

Examples:
  codereview review main.go
  codereview review handler.go -q "is the locking right?"
  git diff | codereview review - --local
  codereview review util.py --diff       # also show the suggested changes`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

var (
	reviewLocal    bool
	reviewProvider string
	reviewQuestion string
	reviewDiff     bool
	reviewNoSave   bool
)

func init() {
	reviewCmd.Flags().BoolVar(&reviewLocal, "local", false, "Use the local model provider")
	reviewCmd.Flags().StringVar(&reviewProvider, "provider", "", "Provider name, optionally with model (e.g. anthropic:claude-sonnet-4-5)")
	reviewCmd.Flags().StringVarP(&reviewQuestion, "question", "q", "", "Question to ask about the code")
	reviewCmd.Flags().BoolVar(&reviewDiff, "diff", false, "Print a diff of the reviewer's suggested code")
	reviewCmd.Flags().BoolVar(&reviewNoSave, "no-save", false, "Do not save the review to history")
	reviewCmd.MarkFlagsMutuallyExclusive("local", "provider")
	_ = reviewCmd.RegisterFlagCompletionFunc("provider", ProviderFlagCompletion)
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	name, content, err := readReviewInput(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	choice, err := resolveChoice(cfg, reviewLocal, false, reviewProvider)
	if err != nil {
		return err
	}

	store := history.Store(&history.NoopStore{})
	if !reviewNoSave {
		if store, err = openHistory(cfg); err != nil {
			return err
		}
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	res := reviewOnce(ctx, reviewRun{
		Config:    cfg,
		Providers: buildProviders(cfg, cfg.ProviderFor(choice)),
		Choice:    choice,
		Store:     store,
		Prompt:    reviewPrompt(reviewQuestion, name, content),
		Out:       cmd.OutOrStdout(),
		ErrOut:    cmd.ErrOrStderr(),
	})

	switch res.Outcome {
	case turn.OutcomeCancelled:
		return exitcode.Cancel()
	case turn.OutcomeFailed:
		msg := turn.FailureNotice
		if res.Err != nil {
			msg = res.Err.Error()
		}
		return exitcode.FromKind(res.Kind, msg)
	}

	if reviewDiff {
		diff, ok, err := review.SuggestedDiff(reviewPrompt("", name, content), res.Partial)
		if err != nil {
			return err
		}
		if !ok || diff == "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "No code changes suggested.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout())
		lang := review.DetectLanguage(name, content)
		fmt.Fprint(cmd.OutOrStdout(), ui.ColorizeDiff(diff, lang, ui.NewStyles(cmd.OutOrStdout())))
	}
	return nil
}

func readReviewInput(arg string, stdin io.Reader) (string, string, error) {
	var data []byte
	var err error
	name := arg
	if arg == "-" {
		name = ""
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", arg, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", "", exitcode.FromKind(llm.KindInvalidInput, "nothing to review: input is empty")
	}
	return name, string(data), nil
}

// reviewPrompt builds the user message: the question, if any, followed by
// the fenced code.
func reviewPrompt(question, name, content string) string {
	fenced := review.FenceCode(name, content)
	if q := strings.TrimSpace(question); q != "" {
		return q + "\n\n" + fenced
	}
	return fenced
}

type reviewRun struct {
	Config    *config.Config
	Providers map[string]llm.Provider
	Choice    string
	Store     history.Store
	Prompt    string
	Out       io.Writer
	ErrOut    io.Writer
}

// reviewOnce runs a single turn, streaming the reply to Out. Cancelling
// ctx cancels the turn.
func reviewOnce(ctx context.Context, run reviewRun) turn.Result {
	printer := ui.NewStreamPrinter(run.Out)
	status := ui.NewStatusLine(run.ErrOut, isTerminalWriter(run.ErrOut))
	recorder := history.NewRecorder(run.Store, "")

	ctrl := turn.New(turn.Options{
		Providers:    run.Providers,
		SystemPrompt: run.Config.SystemPrompt,
		Callbacks: recorder.Attach(turn.Callbacks{
			OnProgress: func(text string) {
				status.Clear()
				printer.Update(text)
			},
			OnLoadProgress: func(p llm.LoadProgress) {
				status.Set(ui.FormatLoadProgress(modelName(run.Config, run.Config.ProviderFor(run.Choice)), p))
			},
		}),
	})
	defer ctrl.Close()

	if !ctrl.Submit(ctx, nil, run.Prompt, run.Choice) {
		return turn.Result{Outcome: turn.OutcomeFailed, Kind: llm.KindInvalidInput, Err: llm.ErrEmptyInput}
	}
	res := ctrl.Wait()
	status.Clear()
	printer.Finish()
	if res.Outcome == turn.OutcomeFailed && (res.Kind != llm.KindGenerationFailed || res.Partial == "") {
		fmt.Fprintln(run.Out, turn.FailureNotice)
	}
	return res
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && ui.IsTerminal(f)
}
