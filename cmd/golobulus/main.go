package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/AppMana/golobulus/internal/config"
)

var (
	cfg    config.Config
	logger *slog.Logger

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "YAML config file; GOLOB_* environment variables override it")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initGolobulus

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("golobulus failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "golobulus",
	Short:        "Background render bridge for scripted layer effects",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("golobulus: version info not available")
			return
		}
		fmt.Printf("golobulus: %s\n", info.Main.Version)
		fmt.Printf("go:        %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:    %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:      %s\n", s.Value)
			}
		}
	},
}

func initGolobulus(cmd *cobra.Command, _ []string) error {
	if flagConfigFilePath != "" {
		var err error
		cfg, err = config.LoadFile(flagConfigFilePath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Load()
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		cfg.LogLevel = slog.LevelDebug
	}

	// Logs go to stderr so render and inspect output stays clean on stdout.
	logger = config.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)
	return nil
}
