// ABOUTME: Entry point for the voxrelay chat relay server
// ABOUTME: Bridges chat clients to inference, transcription and synthesis backends

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/voxrelay/voxrelay/internal/config"
	"github.com/voxrelay/voxrelay/internal/logging"
	"github.com/voxrelay/voxrelay/internal/relay"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                          _
__   _______  ___ __ ___| | __ _ _   _
\ \ / / _ \ \/ / '__/ _ \ |/ _' | | | |
 \ V / (_) >  <| | |  __/ | (_| | |_| |
  \_/ \___/_/\_\_|  \___|_|\__,_|\__, |
                                 |___/
`

// getConfigPath returns the path to the relay config file.
// Priority: VOXRELAY_CONFIG env var > XDG_CONFIG_HOME/voxrelay/config.yaml > ~/.config/voxrelay/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("VOXRELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "voxrelay", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: voxrelay <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the relay server")
		fmt.Println("  health   Check relay health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.Setup(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s\n", cfg.Inference.Model)
	fmt.Println()

	logger.Info("starting voxrelay",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"model", cfg.Inference.Model,
	)

	r, err := relay.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	return r.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.HTTPAddr
	url := fmt.Sprintf("http://%s/healthz", addr)

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay unreachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay unhealthy: %s", resp.Status)
	}

	color.New(color.FgGreen).Println("✓ relay healthy")
	return nil
}
