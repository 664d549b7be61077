package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"classjudge/internal/cli/command"
	httpclient "classjudge/internal/cli/http"
	"classjudge/internal/cli/state"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

// LineReader supplies input lines. *readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
}

// TokenIssuer signs development access tokens.
type TokenIssuer interface {
	Issue(userID int64, ttl time.Duration) (string, error)
}

// Options carries optional session collaborators.
type Options struct {
	Issuer     TokenIssuer
	TokenTTL   time.Duration
	PrettyJSON bool
	Now        func() time.Time
}

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	tokenState *state.TokenState
	statePath  string
	in         LineReader
	out        io.Writer
	opts       Options
}

func New(client *httpclient.Client, commands map[string]command.Command, tokenState *state.TokenState, statePath string, in LineReader, out io.Writer, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		client:     client,
		commands:   commands,
		tokenState: tokenState,
		statePath:  statePath,
		in:         in,
		out:        out,
		opts:       opts,
	}
}

// Run reads commands until exit or end of input.
func (s *Session) Run(ctx context.Context) {
	for {
		line, err := s.in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			s.printLine("bye")
			return
		}
		if err != nil {
			s.printLine("read input failed: %v", err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if err := s.Execute(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

// Execute runs one input line.
func (s *Session) Execute(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	switch tokens[0] {
	case "help":
		s.printHelp()
		return nil
	case "set":
		return s.handleSet(tokens[1:])
	case "show":
		return s.handleShow(tokens[1:])
	case "token":
		return s.handleToken(tokens[1:])
	}
	return s.handleCommand(ctx, tokens)
}

func (s *Session) handleSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set base|timeout|token <value>")
	}
	switch args[0] {
	case "base":
		s.client.SetBaseURL(args[1])
		s.printLine("base set to %s", args[1])
	case "timeout":
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		*s.tokenState = state.TokenState{AccessToken: args[1]}
		if err := state.Save(s.statePath, *s.tokenState); err != nil {
			return fmt.Errorf("save token failed: %w", err)
		}
		s.printLine("token updated")
	default:
		return fmt.Errorf("unknown set command: %s", args[0])
	}
	return nil
}

func (s *Session) handleShow(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: show token|config")
	}
	switch args[0] {
	case "token":
		if s.tokenState.AccessToken == "" {
			s.printLine("token: <empty>")
			return nil
		}
		token := s.tokenState.AccessToken
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s", token)
		if s.tokenState.UserID > 0 {
			s.printLine("user: %d", s.tokenState.UserID)
		}
		if s.tokenState.Expired(s.opts.Now()) {
			s.printLine("token expired at %s", s.tokenState.ExpiresAt.Format(time.RFC3339))
		}
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("tokenStatePath: %s", s.statePath)
	default:
		return fmt.Errorf("usage: show token|config")
	}
	return nil
}

// handleToken signs a token locally: token issue user_id=7 [ttl=2h].
func (s *Session) handleToken(args []string) error {
	if len(args) == 0 || args[0] != "issue" {
		return fmt.Errorf("usage: token issue user_id=<id> [ttl=24h]")
	}
	if s.opts.Issuer == nil {
		return fmt.Errorf("token signing is not configured, set auth.jwtSecret in the cli config")
	}
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}
	userID, err := command.ParseInt64(params.Get("user_id"))
	if err != nil || userID <= 0 {
		return fmt.Errorf("invalid user_id")
	}
	ttl := s.opts.TokenTTL
	if raw := params.Get("ttl"); raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid ttl: %w", err)
		}
	}
	token, err := s.opts.Issuer.Issue(userID, ttl)
	if err != nil {
		return fmt.Errorf("issue token failed: %w", err)
	}
	*s.tokenState = state.TokenState{
		AccessToken: token,
		UserID:      userID,
		ExpiresAt:   s.opts.Now().Add(ttl),
	}
	if err := state.Save(s.statePath, *s.tokenState); err != nil {
		return fmt.Errorf("save token failed: %w", err)
	}
	s.printLine("token issued for user %d", userID)
	return nil
}

func (s *Session) handleCommand(ctx context.Context, tokens []string) error {
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	key := tokens[0] + " " + tokens[1]
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s", key)
	}
	params, err := parseParams(tokens[2:])
	if err != nil {
		return err
	}
	params.Canonicalize(cmd.Fields)
	if params.Get("code_file") != "" && params.Get("code") == "" {
		params.Set("code", command.FilePlaceholder)
	}
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	if cmd.RequiresAuth && s.tokenState.AccessToken == "" {
		return fmt.Errorf("not logged in, use: token issue user_id=<id> or set token <token>")
	}

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func parseParams(tokens []string) (command.Params, error) {
	params := command.Params{}
	for _, token := range tokens {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}
	return params, nil
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(prompt string) (string, error) {
	s.printLine("%s:", prompt)
	line, err := s.in.Readline()
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration.Round(time.Millisecond))
	if len(resp.Body) == 0 {
		return
	}
	if s.opts.PrettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|token | show token|config | token issue user_id=<id> [ttl=24h]")
	s.printLine("commands:")
	for _, key := range command.SortedKeys(s.commands) {
		cmd := s.commands[key]
		s.printLine("  %-24s %s", key, cmd.Help)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}

// Completer builds tab completion for the registry and system commands.
func Completer(commands map[string]command.Command) *readline.PrefixCompleter {
	services := map[string][]string{}
	for _, key := range command.SortedKeys(commands) {
		cmd := commands[key]
		services[cmd.Service] = append(services[cmd.Service], cmd.Action)
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token")),
		readline.PcItem("show", readline.PcItem("token"), readline.PcItem("config")),
		readline.PcItem("token", readline.PcItem("issue")),
	}
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		children := make([]readline.PrefixCompleterInterface, 0, len(services[name]))
		for _, action := range services[name] {
			children = append(children, readline.PcItem(action))
		}
		items = append(items, readline.PcItem(name, children...))
	}
	return readline.NewPrefixCompleter(items...)
}
