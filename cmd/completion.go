package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/codereview-chat/internal/config"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate a completion script for your shell.

Examples:
  source <(codereview completion bash)
  codereview completion zsh > "${fpath[1]}/_codereview"
  codereview completion fish > ~/.config/fish/completions/codereview.fish`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(out, true)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		}
		return fmt.Errorf("unsupported shell %q", args[0])
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

// ProviderFlagCompletion completes --provider with the configured provider
// names and, after a colon, the configured model of that provider.
func ProviderFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := loadConfig()
	if err != nil {
		cfg = config.Default()
	}
	completions := providerCompletions(cfg, toComplete)

	// No space after a bare name so the user can type ":model"
	if !strings.Contains(toComplete, ":") {
		return completions, cobra.ShellCompDirectiveNoFileComp | cobra.ShellCompDirectiveNoSpace
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

func providerCompletions(cfg *config.Config, toComplete string) []string {
	if name, _, ok := strings.Cut(toComplete, ":"); ok {
		var out []string
		if m := cfg.Providers[name].Model; m != "" {
			out = append(out, name+":"+m)
		}
		return out
	}

	var out []string
	for _, name := range cfg.ProviderNames() {
		if strings.HasPrefix(name, toComplete) {
			out = append(out, name)
		}
	}
	return out
}
