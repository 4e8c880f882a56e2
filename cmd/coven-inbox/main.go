// ABOUTME: Entry point for coven-inbox: reference gateway server and interactive chat client
// ABOUTME: Subcommands serve, token, chat and health share one configuration file

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-inbox/internal/api"
	"github.com/2389/coven-inbox/internal/auth"
	"github.com/2389/coven-inbox/internal/config"
	"github.com/2389/coven-inbox/internal/gateway"
	"github.com/2389/coven-inbox/internal/identity"
)

// Version is set at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __       (_)_ __ | |__   _____  __
 / __/ _ \ \ / / _ \ '_ \ _____| | '_ \| '_ \ / _ \ \/ /
| (_| (_) \ V /  __/ | | |_____| | | | | |_) | (_) >  <
 \___\___/ \_/ \___|_| |_|     |_|_| |_|_.__/ \___/_/\_\
`

func usage() {
	fmt.Println("Usage: coven-inbox <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                    Start the gateway server")
	fmt.Println("  token --as customer:5    Mint a participant token")
	fmt.Println("  chat                     Interactive chat client")
	fmt.Println("  health                   Check gateway health")
	fmt.Println("  version                  Print the version")
	fmt.Println()
	fmt.Printf("Every command accepts --config (default $%s or the user config dir).\n", config.EnvConfigPath)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "token":
		err = runToken(args)
	case "chat":
		err = runChat(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses the shared --config flag plus whatever fs already
// declares, then loads the configuration.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, string, error) {
	configPath := fs.String("config", config.ResolvePath(), "path to config file")
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, *configPath, nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "", "listen address (overrides server.http_addr)")
	cfg, configPath, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.HTTPAddr = *addr
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if configPath == "" {
		configPath = "(defaults)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Moderation: ")
	if cfg.Moderation.Enabled {
		yellow.Printf("on (%d words)\n", len(cfg.Moderation.Words))
	} else {
		gray.Println("off")
	}
	fmt.Println()

	logger.Info("starting coven-inbox gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	as := fs.String("as", "", "participant the token is issued to, e.g. customer:5 or provider:9")
	ttl := fs.Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	cfg, _, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	p, err := identity.Parse(*as)
	if err != nil {
		return fmt.Errorf("--as: %w", err)
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("auth.jwt_secret: %w", err)
	}
	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	token, err := verifier.Generate(p, lifetime)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	cfg, _, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := api.NewClient(cfg.Client.GatewayURL, "").Health(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	color.Green("healthy")
	return nil
}
