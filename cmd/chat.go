package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/samsaffron/codereview-chat/internal/config"
	"github.com/samsaffron/codereview-chat/internal/history"
	"github.com/samsaffron/codereview-chat/internal/llm"
	"github.com/samsaffron/codereview-chat/internal/review"
	"github.com/samsaffron/codereview-chat/internal/turn"
	"github.com/samsaffron/codereview-chat/internal/ui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive code review chat",
	Long: `Start an interactive chat. Paste code between lines containing only """
to send several lines as one message.

Commands inside the chat:
  /file <path>      send a file for review
  /diff             show the reviewer's changes to your last code block
  /provider [name]  show or switch the provider (hosted, local or a name)
  /reset            start a new chat
  /quit             exit

Ctrl-C cancels a reply in progress; at the prompt it exits.`,
	Args: cobra.NoArgs,
}

var (
	chatLocal      bool
	chatHosted     bool
	chatProvider   string
	chatSelect     bool
	chatResume     string
	chatNoMarkdown bool
)

func init() {
	chatCmd.RunE = runChat
	chatCmd.Flags().BoolVar(&chatLocal, "local", false, "Use the local model provider")
	chatCmd.Flags().BoolVar(&chatHosted, "hosted", false, "Use the hosted provider")
	chatCmd.Flags().StringVar(&chatProvider, "provider", "", "Provider name, optionally with model (e.g. openai:gpt-4o)")
	chatCmd.Flags().BoolVar(&chatSelect, "select", false, "Pick the provider interactively")
	chatCmd.Flags().StringVar(&chatResume, "resume", "", "Continue a saved chat by id or id prefix")
	chatCmd.Flags().BoolVar(&chatNoMarkdown, "no-markdown", false, "Leave replies as streamed text")
	chatCmd.MarkFlagsMutuallyExclusive("local", "hosted", "provider")
	_ = chatCmd.RegisterFlagCompletionFunc("provider", ProviderFlagCompletion)
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigWithSetup()
	if err != nil {
		return err
	}
	choice, err := resolveChoice(cfg, chatLocal, chatHosted, chatProvider)
	if err != nil {
		return err
	}
	providers := buildProviders(cfg, cfg.ProviderFor(choice))
	if chatSelect {
		if choice, err = ui.SelectProvider(providerOptions(cfg, providers), cfg.ProviderFor(choice)); err != nil {
			return err
		}
	}

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	var conv llm.Conversation
	historyID := ""
	if chatResume != "" {
		h, err := store.GetByPrefix(ctx, chatResume)
		if err != nil {
			return err
		}
		if h == nil {
			return fmt.Errorf("no saved chat matches %q", chatResume)
		}
		conv, historyID = h.Messages, h.ID
	}

	tty := ui.IsTerminal(os.Stdout)
	repl := newChatREPL(chatREPLOptions{
		Config:    cfg,
		Providers: providers,
		Choice:    choice,
		Store:     store,
		HistoryID: historyID,
		Conv:      conv,
		Out:       os.Stdout,
		ErrOut:    os.Stderr,
		StatusTTY: ui.IsTerminal(os.Stderr),
		Markdown:  tty && !chatNoMarkdown,
	})
	defer repl.Close()

	if historyID != "" {
		repl.printTranscript()
	}
	fmt.Fprintln(os.Stderr, repl.styles.Muted.Render(fmt.Sprintf("Reviewing with %s. /quit to exit.", repl.choiceLabel())))

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	entries := make(chan string)
	go func() {
		defer close(entries)
		_ = readEntries(os.Stdin, func(entry string) { entries <- entry })
	}()

	return repl.Run(ctx, entries, interrupts)
}

// resolveChoice turns the provider flags into a controller choice.
func resolveChoice(cfg *config.Config, local, hosted bool, providerFlag string) (string, error) {
	switch {
	case local:
		return config.ChoiceLocal, nil
	case hosted:
		return config.ChoiceHosted, nil
	case providerFlag != "":
		return applyProviderOverrides(cfg, providerFlag)
	case cfg.DefaultChoice != "":
		return cfg.DefaultChoice, nil
	}
	return config.ChoiceLocal, nil
}

// readEntries splits input into chat entries: one per line, or everything
// between two lines holding only """ as a single entry.
func readEntries(r io.Reader, emit func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)

	var block []string
	inBlock := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == `"""` {
			if inBlock {
				emit(strings.Join(block, "\n"))
				block = nil
			}
			inBlock = !inBlock
			continue
		}
		if inBlock {
			block = append(block, line)
			continue
		}
		emit(line)
	}
	if inBlock && len(block) > 0 {
		emit(strings.Join(block, "\n"))
	}
	return scanner.Err()
}

type chatREPLOptions struct {
	Config    *config.Config
	Providers map[string]llm.Provider
	Choice    string
	Store     history.Store
	HistoryID string
	Conv      llm.Conversation
	Out       io.Writer
	ErrOut    io.Writer
	StatusTTY bool
	Markdown  bool
}

// chatREPL drives one turn controller from typed entries.
type chatREPL struct {
	cfg       *config.Config
	providers map[string]llm.Provider
	ctrl      *turn.Controller
	recorder  *history.Recorder
	out       io.Writer
	errOut    io.Writer
	styles    *ui.Styles
	printer   *ui.StreamPrinter
	status    *ui.StatusLine
	markdown  bool

	mu     sync.Mutex
	conv   llm.Conversation
	choice string
}

func newChatREPL(opts chatREPLOptions) *chatREPL {
	r := &chatREPL{
		cfg:       opts.Config,
		providers: opts.Providers,
		out:       opts.Out,
		errOut:    opts.ErrOut,
		styles:    ui.NewStyles(opts.Out),
		printer:   ui.NewStreamPrinter(opts.Out),
		status:    ui.NewStatusLine(opts.ErrOut, opts.StatusTTY),
		markdown:  opts.Markdown,
		conv:      opts.Conv,
		choice:    opts.Choice,
	}
	r.recorder = history.NewRecorder(opts.Store, opts.HistoryID)
	r.ctrl = turn.New(turn.Options{
		Providers:      opts.Providers,
		SystemPrompt:   opts.Config.SystemPrompt,
		SurfaceAborted: opts.Config.KeepPartialOnCancel,
		Callbacks: r.recorder.Attach(turn.Callbacks{
			OnMessagesChanged: func(conv llm.Conversation) {
				r.mu.Lock()
				r.conv = conv
				r.mu.Unlock()
			},
			OnProgress: func(text string) {
				r.status.Clear()
				r.printer.Update(text)
			},
			OnLoadProgress: func(p llm.LoadProgress) {
				r.status.Set(ui.FormatLoadProgress(modelName(r.cfg, r.cfg.ProviderFor(r.currentChoice())), p))
			},
		}),
	})
	return r
}

func (r *chatREPL) Close() {
	r.ctrl.Close()
}

func (r *chatREPL) currentChoice() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.choice
}

func (r *chatREPL) conversation() llm.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conv.Clone()
}

func (r *chatREPL) choiceLabel() string {
	choice := r.currentChoice()
	name := r.cfg.ProviderFor(choice)
	if name == choice {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, choice)
}

// Run reads entries until input ends, /quit, or an interrupt at the prompt.
func (r *chatREPL) Run(ctx context.Context, entries <-chan string, interrupts <-chan os.Signal) error {
	for {
		fmt.Fprint(r.errOut, r.styles.Prompt.Render("> "))
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			fmt.Fprintln(r.errOut)
			return nil
		case entry, ok := <-entries:
			if !ok {
				fmt.Fprintln(r.errOut)
				return nil
			}
			if quit := r.handle(ctx, entry, interrupts); quit {
				return nil
			}
		}
	}
}

// handle runs one entry and reports whether the chat should end.
func (r *chatREPL) handle(ctx context.Context, entry string, interrupts <-chan os.Signal) bool {
	trimmed := strings.TrimSpace(entry)
	if !strings.HasPrefix(trimmed, "/") || strings.Contains(trimmed, "\n") {
		r.runTurn(ctx, entry, interrupts)
		return false
	}

	command, arg, _ := strings.Cut(trimmed, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/quit", "/exit", "/q":
		return true
	case "/reset", "/new":
		r.mu.Lock()
		r.conv = nil
		r.mu.Unlock()
		r.recorder.Reset()
		fmt.Fprintln(r.errOut, r.styles.Muted.Render("Started a new chat."))
	case "/provider":
		r.switchProvider(arg)
	case "/file":
		content, err := os.ReadFile(arg)
		if err != nil {
			fmt.Fprintln(r.errOut, r.styles.FormatResult(false, err.Error()))
			return false
		}
		r.runTurn(ctx, review.FenceCode(arg, string(content)), interrupts)
	case "/diff":
		r.printDiff()
	case "/help":
		fmt.Fprintln(r.errOut, chatCmd.Long)
	default:
		fmt.Fprintln(r.errOut, r.styles.FormatResult(false, "unknown command "+command))
	}
	return false
}

func (r *chatREPL) switchProvider(arg string) {
	if arg == "" {
		fmt.Fprintln(r.errOut, "Provider: "+r.choiceLabel())
		return
	}
	if _, ok := r.providers[arg]; !ok {
		p, err := llm.NewProvider(r.cfg, arg)
		if err != nil {
			fmt.Fprintln(r.errOut, r.styles.FormatResult(false, err.Error()))
			return
		}
		r.providers[arg] = p
		r.ctrl.Register(arg, p)
	}
	r.mu.Lock()
	r.choice = arg
	r.mu.Unlock()
	fmt.Fprintln(r.errOut, r.styles.FormatResult(true, "Provider: "+r.choiceLabel()))
}

func (r *chatREPL) printDiff() {
	sug, ok := review.LatestSuggestion(r.conversation())
	if !ok {
		fmt.Fprintln(r.errOut, r.styles.Muted.Render("No code suggestion to compare yet."))
		return
	}
	diff, err := sug.Unified()
	if err != nil {
		fmt.Fprintln(r.errOut, r.styles.FormatResult(false, err.Error()))
		return
	}
	if diff == "" {
		fmt.Fprintln(r.errOut, r.styles.Muted.Render("The reviewer's code matches yours."))
		return
	}
	fmt.Fprint(r.out, ui.ColorizeDiff(diff, sug.Language, r.styles))
}

// runTurn submits text and blocks until the turn ends. An interrupt
// cancels the turn instead of ending the chat.
func (r *chatREPL) runTurn(ctx context.Context, text string, interrupts <-chan os.Signal) {
	r.status.Set(r.styles.Muted.Render("Thinking..."))
	if !r.ctrl.Submit(ctx, r.conversation(), text, r.currentChoice()) {
		r.status.Clear()
		return
	}

	done := make(chan turn.Result, 1)
	go func() { done <- r.ctrl.Wait() }()

	var res turn.Result
wait:
	for {
		select {
		case <-interrupts:
			r.ctrl.Cancel()
		case res = <-done:
			break wait
		}
	}
	r.status.Clear()
	r.finishTurn(res)
}

func (r *chatREPL) finishTurn(res turn.Result) {
	switch res.Outcome {
	case turn.OutcomeCompleted:
		r.showReply(res.Partial)
	case turn.OutcomeCancelled:
		r.printer.Finish()
		fmt.Fprintln(r.errOut, r.styles.Muted.Render(ui.AbortIcon+" cancelled"))
	case turn.OutcomeFailed:
		r.printer.Finish()
		if res.Kind != llm.KindGenerationFailed || res.Partial == "" {
			fmt.Fprintln(r.out, r.styles.Error.Render(turn.FailureNotice))
		}
		msg := res.Kind.String()
		if res.Err != nil {
			msg = res.Err.Error()
		}
		fmt.Fprintln(r.errOut, r.styles.FormatResult(false, msg))
	}
	if res.Duration > 0 {
		fmt.Fprintln(r.errOut, r.styles.Muted.Render(turnSummary(res)))
	}
}

// showReply swaps the streamed text for rendered markdown when the whole
// reply is still on screen.
func (r *chatREPL) showReply(text string) {
	f, ok := r.out.(*os.File)
	if !r.markdown || !ok || text == "" {
		r.printer.Finish()
		return
	}
	if !r.printer.Erase(ui.TerminalWidth(f), ui.TerminalHeight(f)) {
		r.printer.Finish()
		return
	}
	fmt.Fprintln(r.out, ui.RenderMarkdown(text, ui.TerminalWidth(f)))
}

func (r *chatREPL) printTranscript() {
	for _, msg := range r.conversation() {
		fmt.Fprintln(r.out, r.styles.FormatRole(msg.Role))
		fmt.Fprintln(r.out, msg.Content)
		fmt.Fprintln(r.out)
	}
}

func turnSummary(res turn.Result) string {
	parts := []string{res.Provider, res.Duration.Round(100 * time.Millisecond).String()}
	if res.Usage.InputTokens > 0 || res.Usage.OutputTokens > 0 {
		parts = append(parts, fmt.Sprintf("%d in / %d out tokens", res.Usage.InputTokens, res.Usage.OutputTokens))
	}
	return strings.Join(parts, " · ")
}
