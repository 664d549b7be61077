package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"classjudge/internal/cli/command"
	"classjudge/internal/cli/config"
	"classjudge/internal/cli/http"
	"classjudge/internal/cli/repl"
	"classjudge/internal/cli/state"
	"classjudge/internal/common/http/middleware"

	"github.com/chzyer/readline"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	token := flag.String("token", "", "Override access token")
	statePath := flag.String("state", "", "Override token state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.TokenStatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	tokenState, err := state.Load(cfg.TokenStatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load token state failed: %v\n", err)
		return
	}
	if *token != "" {
		tokenState = state.TokenState{AccessToken: *token}
	}

	opts := repl.Options{
		TokenTTL:   cfg.Auth.TokenTTL,
		PrettyJSON: cfg.PrettyJSON != nil && *cfg.PrettyJSON,
	}
	if cfg.Auth.JWTSecret != "" {
		issuer, err := middleware.NewAuthenticator(middleware.AuthConfig{
			JWTSecret: cfg.Auth.JWTSecret,
			JWTIssuer: cfg.Auth.JWTIssuer,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "init token issuer failed: %v\n", err)
			return
		}
		opts.Issuer = issuer
	}

	commands := command.Registry()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "classjudge> ",
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    repl.Completer(commands),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init readline failed: %v\n", err)
		return
	}
	defer func() {
		_ = rl.Close()
	}()

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string {
		return tokenState.AccessToken
	})
	session := repl.New(client, commands, &tokenState, cfg.TokenStatePath, rl, rl.Stdout(), opts)
	session.Run(context.Background())
}
