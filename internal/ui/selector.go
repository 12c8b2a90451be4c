package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/samsaffron/codereview-chat/internal/config"
)

var (
	nameStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// ProviderOption is one entry of the provider picker.
type ProviderOption struct {
	Name   string
	Detail string
}

// SelectProvider asks the user to pick a provider, preselecting current.
func SelectProvider(options []ProviderOption, current string) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("no providers configured")
	}
	selected := current
	opts := make([]huh.Option[string], 0, len(options))
	for _, o := range options {
		label := nameStyle.Render(o.Name)
		if o.Detail != "" {
			label += detailStyle.Render("  " + o.Detail)
		}
		opts = append(opts, huh.NewOption(label, o.Name).Selected(o.Name == current))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which provider should review your code?").
				Options(opts...).
				Value(&selected),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return selected, nil
}

// RunSetupWizard asks for the hosted provider and default choice, then
// writes a starter config to path.
func RunSetupWizard(path string) (*config.Config, error) {
	fmt.Fprintln(os.Stderr, "Welcome to codereview! Let's get you set up.")

	cfg := config.Default()
	hosted := cfg.HostedProvider
	choice := cfg.DefaultChoice

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which hosted provider do you want to use?").
				Options(
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("Anthropic (Claude)", "anthropic"),
					huh.NewOption("Google Gemini", "gemini"),
				).
				Value(&hosted),
			huh.NewSelect[string]().
				Title("Where should reviews run by default?").
				Options(
					huh.NewOption("Local model (Ollama)", config.ChoiceLocal),
					huh.NewOption("Hosted API", config.ChoiceHosted),
				).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		return nil, err
	}

	cfg.HostedProvider = hosted
	cfg.DefaultChoice = choice
	if err := config.Save(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Config saved to %s\n", path)
	return cfg, nil
}
