package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/samsaffron/codereview-chat/internal/config"
	"github.com/samsaffron/codereview-chat/internal/llm"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers",
	Long: `List configured providers with their type, model and streaming mode.
Providers that cannot be built (missing API key, unknown type) are shown as
unavailable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return printProviders(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func printProviders(out io.Writer, cfg *config.Config) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tMODEL\tSTREAM\tROLE")
	for _, name := range cfg.ProviderNames() {
		pc := cfg.Providers[name]
		typ := string(config.InferProviderType(name, pc))
		if typ == "" {
			typ = "?"
		}
		model := pc.Model
		if model == "" {
			model = "-"
		}

		stream := "unavailable"
		if p, err := llm.NewProvider(cfg, name); err == nil {
			stream = p.Capabilities().FragmentMode.String()
		}

		role := "-"
		switch name {
		case cfg.HostedProvider:
			role = config.ChoiceHosted
		case cfg.LocalProvider:
			role = config.ChoiceLocal
		}
		if role != "-" && cfg.DefaultChoice == role {
			role += " (default)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, typ, model, stream, role)
	}
	return w.Flush()
}
