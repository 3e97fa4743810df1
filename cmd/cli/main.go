package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"runcell/internal/cli/command"
	"runcell/internal/cli/config"
	httpclient "runcell/internal/cli/http"
	"runcell/internal/cli/repl"

	"github.com/spf13/pflag"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := pflag.StringP("config", "c", defaultConfigPath, "Path to config file")
	baseURL := pflag.String("base", "", "Override base URL")
	timeout := pflag.Duration("timeout", 0, "Override HTTP timeout (e.g. 60s)")
	pretty := pflag.Bool("pretty", false, "Pretty print JSON response")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := httpclient.New(cfg.BaseURL, cfg.Timeout)
	session := repl.New(client, command.Registry(), cfg.PrettyJSON != nil && *cfg.PrettyJSON, os.Stdin, os.Stdout)

	// Remaining args run as a single command, e.g. `cli run start files=Main.cell`.
	if args := pflag.Args(); len(args) > 0 {
		if err := session.Exec(ctx, strings.Join(quoteArgs(args), " ")); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	session.Run(ctx)
}

func quoteArgs(args []string) []string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		if strings.ContainsAny(arg, " \t'\"\\") {
			arg = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
		}
		quoted[i] = arg
	}
	return quoted
}
