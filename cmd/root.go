package cmd

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/cobra"

	"github.com/samsaffron/codereview-chat/internal/exitcode"
	"github.com/samsaffron/codereview-chat/internal/logging"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/codereview/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides log_level)")
	rootCmd.PersistentFlags().StringVar(&cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	rootCmd.PersistentFlags().StringVar(&memProfile, "memprofile", "", "Write memory profile to file")
}

var rootCmd = &cobra.Command{
	Use:   "codereview",
	Short: "Chat with an LLM about your code",
	Long: `codereview sends code and questions to a hosted LLM API or a local
Ollama model and streams the review back.

Examples:
  codereview chat                       # interactive review chat
  codereview chat --local               # use the local model
  codereview review main.go             # one-shot review of a file
  codereview serve --addr :8080         # HTTP + websocket server
  codereview history                    # list saved chats`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(); err != nil {
			return err
		}
		return startProfiling()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return stopProfiling()
	},
}

var (
	configFile     string
	logLevel       string
	cpuProfile     string
	memProfile     string
	cpuProfileFile *os.File
)

// setupLogging installs the stderr handler. The flag wins over the config
// file; a broken config is reported later by the command that loads it.
func setupLogging() error {
	level := logLevel
	if level == "" {
		if cfg, err := loadConfig(); err == nil {
			level = cfg.LogLevel
		}
	}
	if err := logging.Setup(os.Stderr, level); err != nil {
		return exitcode.ExitError{Code: exitcode.Usage, Message: err.Error()}
	}
	return nil
}

func startProfiling() error {
	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			return err
		}
		cpuProfileFile = f
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return err
		}
	}
	return nil
}

func stopProfiling() error {
	if cpuProfileFile != nil {
		pprof.StopCPUProfile()
		cpuProfileFile.Close()
	}
	if memProfile != "" {
		f, err := os.Create(memProfile)
		if err != nil {
			return err
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return err
		}
	}
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		code := exitcode.Code(err)
		if code != exitcode.Cancelled {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(code)
	}
}
