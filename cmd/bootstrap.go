package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/samsaffron/codereview-chat/internal/config"
	"github.com/samsaffron/codereview-chat/internal/history"
	"github.com/samsaffron/codereview-chat/internal/llm"
	"github.com/samsaffron/codereview-chat/internal/ui"
)

func loadConfig() (*config.Config, error) {
	load := config.Load
	if configFile != "" {
		load = func() (*config.Config, error) { return config.LoadFile(configFile) }
	}
	cfg, err := load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// loadConfigWithSetup runs the setup wizard on first use in a terminal.
func loadConfigWithSetup() (*config.Config, error) {
	if configFile == "" && !config.Exists() && ui.IsTerminal(os.Stdin) && ui.IsTerminal(os.Stderr) {
		path, err := config.GetConfigPath()
		if err != nil {
			return nil, err
		}
		if _, err := ui.RunSetupWizard(path); err != nil {
			return nil, fmt.Errorf("setup cancelled: %w", err)
		}
	}
	return loadConfig()
}

// applyProviderOverrides applies a --provider flag ("name" or
// "name:model") and returns the provider name it selected.
func applyProviderOverrides(cfg *config.Config, providerFlag string) (string, error) {
	if providerFlag == "" {
		return "", nil
	}
	name, model, err := llm.ParseProviderModel(providerFlag, cfg)
	if err != nil {
		return "", err
	}
	cfg.ApplyOverrides(name, model)
	return name, nil
}

// buildProviders constructs the named providers plus the "hosted" and
// "local" choices. Providers that cannot be built are left out with a
// warning; selecting one later fails the turn as unavailable.
func buildProviders(cfg *config.Config, names ...string) map[string]llm.Provider {
	explicit := len(names)
	names = append(names, cfg.HostedProvider, cfg.LocalProvider)
	reg := make(map[string]llm.Provider)
	for i, name := range names {
		if name == "" || reg[name] != nil {
			continue
		}
		p, err := llm.NewProvider(cfg, name)
		if err != nil {
			level := slog.LevelDebug
			if i < explicit {
				level = slog.LevelWarn
			}
			slog.Log(context.Background(), level, "provider unavailable", "provider", name, "error", err)
			continue
		}
		reg[name] = p
	}
	for _, choice := range []string{config.ChoiceHosted, config.ChoiceLocal} {
		if p, ok := reg[cfg.ProviderFor(choice)]; ok {
			reg[choice] = p
		}
	}
	return reg
}

// providerOptions describes the providers of reg for the picker.
func providerOptions(cfg *config.Config, reg map[string]llm.Provider) []ui.ProviderOption {
	names := make([]string, 0, len(reg))
	for name := range reg {
		if name != config.ChoiceHosted && name != config.ChoiceLocal {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	opts := make([]ui.ProviderOption, 0, len(names))
	for _, name := range names {
		pc := cfg.Providers[name]
		detail := string(config.InferProviderType(name, pc))
		if pc.Model != "" {
			detail += " · " + pc.Model
		}
		switch name {
		case cfg.HostedProvider:
			detail += " (hosted)"
		case cfg.LocalProvider:
			detail += " (local)"
		}
		opts = append(opts, ui.ProviderOption{Name: name, Detail: detail})
	}
	return opts
}

// openHistory opens the configured store; a disabled history gives a store
// that keeps nothing.
func openHistory(cfg *config.Config) (history.Store, error) {
	store, err := history.Open(cfg.History)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

// requireHistory is openHistory for commands that only make sense with
// history enabled.
func requireHistory() (history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.History.Enabled {
		return nil, fmt.Errorf("chat history is disabled in config")
	}
	return openHistory(cfg)
}

func modelName(cfg *config.Config, name string) string {
	if m := cfg.Providers[name].Model; m != "" {
		return m
	}
	return name
}
