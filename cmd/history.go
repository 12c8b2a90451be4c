package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/samsaffron/codereview-chat/internal/history"
	"github.com/samsaffron/codereview-chat/internal/review"
	"github.com/samsaffron/codereview-chat/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"histories"},
	Short:   "Manage saved chats",
	Long: `List, search, show, delete and export saved chats.

Ids can be shortened to any unique prefix, or to the short form shown by list.

Examples:
  codereview history                       # list recent chats
  codereview history search "mutex"
  codereview history show 240115-1430
  codereview history diff 240115-1430      # reviewer's suggested changes
  codereview history export 240115-1430 review.html
  codereview history delete 240115-1430`,
	RunE: runHistoryList,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved chats",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search of saved messages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHistorySearch,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a saved chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyExportCmd = &cobra.Command{
	Use:   "export <id> [path]",
	Short: "Export a chat as markdown or HTML",
	Long: `Export a chat. The format follows the file extension (.html or .md)
unless --format is given; without a path the export goes to stdout.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runHistoryExport,
}

var historyDiffCmd = &cobra.Command{
	Use:   "diff <id>",
	Short: "Diff your code against the reviewer's latest suggestion",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDiff,
}

var (
	historyProvider      string
	historyLimit         int
	historyJSON          bool
	historyFormat        string
	historyIncludeSystem bool
)

func init() {
	historyListCmd.Flags().StringVar(&historyProvider, "provider", "", "Only chats answered by this provider")
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of chats to list")
	historyCmd.Flags().AddFlagSet(historyListCmd.Flags())
	historySearchCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of matches")
	historyShowCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
	historyExportCmd.Flags().StringVar(&historyFormat, "format", "", "md or html")
	historyExportCmd.Flags().BoolVar(&historyIncludeSystem, "system", false, "Include system messages")

	historyCmd.AddCommand(historyListCmd, historySearchCmd, historyShowCmd, historyDeleteCmd, historyExportCmd, historyDiffCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := requireHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List(cmd.Context(), history.ListOptions{Provider: historyProvider, Limit: historyLimit})
	if err != nil {
		return fmt.Errorf("failed to list chats: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No saved chats.")
		return nil
	}

	fmt.Fprintf(out, "%-12s %-12s %-10s %5s  %s\n", "ID", "Provider", "Updated", "Msgs", "Title")
	fmt.Fprintln(out, strings.Repeat("-", 72))
	for _, s := range list {
		provider := s.Provider
		if provider == "" {
			provider = "-"
		}
		fmt.Fprintf(out, "%-12s %-12s %-10s %5d  %s\n",
			history.ShortID(s.ID), ui.Truncate(provider, 12), formatRelativeTime(s.UpdatedAt), s.MessageCount, ui.Truncate(s.Title, 40))
	}
	return nil
}

func runHistorySearch(cmd *cobra.Command, args []string) error {
	store, err := requireHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	query := strings.Join(args, " ")
	results, err := store.Search(cmd.Context(), query, historyLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintf(out, "No results found for '%s'\n", query)
		return nil
	}
	fmt.Fprintf(out, "Found %d matches for '%s':\n\n", len(results), query)
	for _, r := range results {
		fmt.Fprintf(out, "%s  %s (%s)\n", history.ShortID(r.HistoryID), r.Title, r.Role)
		fmt.Fprintf(out, "  %s\n\n", r.Snippet)
	}
	return nil
}

// findHistory resolves an id or prefix to a saved chat.
func findHistory(ctx context.Context, store history.Store, id string) (*history.History, error) {
	h, err := store.GetByPrefix(ctx, id)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("no saved chat matches %q", id)
	}
	return h, nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := requireHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	h, err := findHistory(cmd.Context(), store, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(h)
	}

	styles := ui.NewStyles(out)
	fmt.Fprintln(out, styles.Title.Render(h.Title))
	fmt.Fprintf(out, "ID: %s\n", h.ID)
	if h.Provider != "" {
		fmt.Fprintf(out, "Provider: %s\n", h.Provider)
	}
	fmt.Fprintf(out, "Created: %s\n", h.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Updated: %s\n\n", h.UpdatedAt.Local().Format(time.RFC3339))

	render := isTerminalWriter(out)
	width := ui.TerminalWidth(os.Stdout)
	for _, msg := range h.Messages {
		fmt.Fprintln(out, styles.FormatRole(msg.Role))
		if render {
			fmt.Fprintln(out, ui.RenderMarkdown(msg.Content, width))
		} else {
			fmt.Fprintln(out, msg.Content)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	store, err := requireHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	h, err := findHistory(cmd.Context(), store, args[0])
	if err != nil {
		return err
	}
	if err := store.Delete(cmd.Context(), h.ID); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted chat: %s\n", h.ID)
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	store, err := requireHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	h, err := findHistory(cmd.Context(), store, args[0])
	if err != nil {
		return err
	}
	path := ""
	if len(args) > 1 {
		path = args[1]
	}

	format := historyFormat
	if format == "" {
		format = "md"
		if ext := strings.ToLower(filepath.Ext(path)); ext == ".html" || ext == ".htm" {
			format = "html"
		}
	}

	opts := history.ExportOptions{IncludeSystem: historyIncludeSystem}
	var content string
	switch format {
	case "md", "markdown":
		content = history.ExportToMarkdown(h, opts)
	case "html":
		if content, err = history.ExportToHTML(h, opts); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown export format %q", format)
	}

	if path == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), content)
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d messages to %s\n", len(h.Messages), path)
	return nil
}

func runHistoryDiff(cmd *cobra.Command, args []string) error {
	store, err := requireHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	h, err := findHistory(cmd.Context(), store, args[0])
	if err != nil {
		return err
	}
	sug, ok := review.LatestSuggestion(h.Messages)
	if !ok {
		return fmt.Errorf("chat %s has no code suggestion", history.ShortID(h.ID))
	}
	diff, err := sug.Unified()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if diff == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "The reviewer's code matches the original.")
		return nil
	}
	if isTerminalWriter(out) {
		diff = ui.ColorizeDiff(diff, sug.Language, ui.NewStyles(out))
	}
	_, err = fmt.Fprint(out, diff)
	return err
}

func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Local().Format("2006-01-02")
	}
}
