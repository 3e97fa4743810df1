package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"runcell/internal/cli/command"
	httpclient "runcell/internal/cli/http"

	"github.com/google/shlex"
)

var errExit = errors.New("exit")

// Session holds REPL state.
type Session struct {
	client       *httpclient.Client
	commands     map[string]command.Command
	prettyJSON   bool
	input        *bufio.Reader
	outputWriter *bufio.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, prettyJSON bool, in io.Reader, out io.Writer) *Session {
	return &Session{
		client:       client,
		commands:     commands,
		prettyJSON:   prettyJSON,
		input:        bufio.NewReader(in),
		outputWriter: bufio.NewWriter(out),
	}
}

// Run reads commands until exit or end of input.
func (s *Session) Run(ctx context.Context) {
	for {
		_, _ = s.outputWriter.WriteString("runcell> ")
		_ = s.outputWriter.Flush()
		line, err := s.input.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(line) == "") {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		if err := s.Exec(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			s.printLine("error: %v", err)
		}
	}
}

// Exec runs a single command line.
func (s *Session) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if handled, err := s.handleSystemCommand(line); handled {
		return err
	}
	return s.handleCommand(ctx, line)
}

func (s *Session) handleSystemCommand(line string) (bool, error) {
	switch line {
	case "exit", "quit":
		s.printLine("bye")
		return true, errExit
	case "help":
		s.printHelp()
		return true, nil
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true, nil
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true, nil
	}
	return false, nil
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout|pretty")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8090")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 60s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "pretty":
		value := true
		if len(parts) > 1 {
			parsed, err := command.ParseBool(parts[1])
			if err != nil {
				s.printLine("invalid bool: %v", err)
				return
			}
			value = parsed
		}
		s.prettyJSON = value
		s.printLine("pretty set to %t", value)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("pretty: %t", s.prettyJSON)
	case "commands":
		for _, key := range s.commandKeys() {
			s.printLine("  %s", s.commands[key].Usage)
		}
	default:
		s.printLine("usage: show config|commands")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <group> <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := parseTokens(tokens[2:])
	if err != nil {
		return err
	}
	params.Canonicalize(cmd.Fields)
	if err := s.promptMissing(&cmd, params); err != nil {
		return err
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

// parseTokens accepts bare flags such as "wait" as key= with an empty value.
func parseTokens(tokens []string) (command.Params, error) {
	normalized := make([]string, len(tokens))
	for i, token := range tokens {
		if !strings.Contains(token, "=") {
			token += "="
		}
		normalized[i] = token
	}
	return command.ParseParams(normalized)
}

func (s *Session) promptMissing(cmd *command.Command, params command.Params) error {
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
	line, err := s.input.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	if traceID := resp.TraceID(); traceID != "" {
		s.printLine("HTTP %d (%s) trace=%s", resp.StatusCode, resp.Duration, traceID)
	} else {
		s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	}
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) commandKeys() []string {
	keys := make([]string, 0, len(s.commands))
	for key := range s.commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *Session) printHelp() {
	s.printLine("usage: <group> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|pretty | show config|commands")
	s.printLine("commands:")
	for _, key := range s.commandKeys() {
		s.printLine("  %s", s.commands[key].Usage)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.outputWriter, format+"\n", args...)
	_ = s.outputWriter.Flush()
}
