package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"frugal/internal/config"
	"frugal/internal/proxy"
	"frugal/internal/version"
)

var (
	cfgFile string
	port    int
)

// rootCmd runs the proxy when invoked without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "frugal",
	Short: "Frugal - cost-aware LLM reverse proxy",
	Long: `Frugal is a local reverse proxy in front of LLM provider APIs. It exposes
one OpenAI-compatible chat endpoint, classifies each request, and routes it to
the cheapest model that can plausibly serve it, with cross-provider fallback.`,
	Version: version.Full(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProxy()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Frugal %s\n", version.Full())
		buildInfo := version.GetBuildInfo()
		if buildInfo.GitCommit != "unknown" {
			fmt.Printf("Git commit: %s\n", buildInfo.GitCommit)
		}
		if buildInfo.BuildDate != "unknown" {
			fmt.Printf("Build date: %s\n", buildInfo.BuildDate)
		}
		fmt.Printf("Go version: %s\n", buildInfo.GoVersion)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default ~/.frugal/frugal/config.json)")
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default 11435, or FRUGAL_PORT)")
	rootCmd.AddCommand(versionCmd)
}

func runProxy() error {
	if config.Disabled() {
		log.Println("[Frugal] disabled via FRUGAL_DISABLED, exiting")
		return nil
	}

	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port > 0 {
		cfg.Port = port
	}

	if !cfg.HasAnyKey() {
		fmt.Fprintln(os.Stderr, "no provider API keys configured; set OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY or OPENROUTER_API_KEY")
		os.Exit(1)
	}

	server, err := proxy.New(cfg)
	if err != nil {
		return fmt.Errorf("init proxy: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		if errors.Is(err, proxy.ErrAlreadyRunning) {
			log.Println("[Frugal] another instance is healthy, nothing to do")
			return nil
		}
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
