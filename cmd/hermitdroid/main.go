package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool

	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hermitdroid",
	Short: "hermitdroid is an autonomous Android agent with a guardrail gate",
	Long: `hermitdroid drives an Android device over adb on a heartbeat loop.
Every action a model proposes passes through a tier gate: GREEN and
YELLOW actions run, RED actions wait for your explicit approval.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(log)
		return nil
	},
}

func initConfig() error {
	viper.SetEnvPrefix("HERMITDROID")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(defaultHome())
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && (errors.As(err, &notFound) || os.IsNotExist(err)) {
			// Running without a config file is fine; env and flags cover it.
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "."
	}
	return filepath.Join(home, ".hermitdroid")
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default "+filepath.Join(defaultHome(), "config.yaml")+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		gatewayCmd,
		runCmd,
		flowCmd,
		workflowCmd,
		statusCmd,
		pendingCmd,
		confirmCmd,
		chatCmd,
		killCmd,
		resumeCmd,
		cronCmd,
		onboardCmd,
		doctorCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
