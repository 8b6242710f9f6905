// Command repository-proxy serves managed Maven repositories that fill
// themselves from remote repositories through ordered proxy connectors.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
)

// CLI is the command line of repository-proxy.
type CLI struct {
	Config             string `short:"c" help:"Configuration file." default:"repository-proxy.yaml" type:"path" env:"REPOPROXY_CONFIG"`
	Credentials        string `help:"Credentials template. Overrides server.credentials_file." type:"path" env:"REPOPROXY_CREDENTIALS"`
	OnePassword        bool   `name:"onepassword" help:"Resolve op:// references in the credentials template with the 1Password CLI."`
	OnePasswordAccount string `name:"onepassword-account" help:"1Password account to read secrets from."`
	LogLevel           string `help:"Log level." enum:"debug,info,warn,error" default:"info"`
	LogFormat          string `help:"Log format." enum:"text,json" default:"text"`

	Serve      ServeCmd      `cmd:"" default:"1" help:"Run the HTTP server."`
	Fetch      FetchCmd      `cmd:"" help:"Fetch an artifact or metadata path into a managed repository."`
	Metadata   MetadataCmd   `cmd:"" help:"Rebuild a metadata document from local files and remote copies."`
	Policies   PoliciesCmd   `cmd:"" help:"List the connector policies and their options."`
	Connectors ConnectorsCmd `cmd:"" help:"Inspect and reorder proxy connectors."`
	Failures   FailuresCmd   `cmd:"" help:"Manage the failure cache."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("repository-proxy"),
		kong.Description("A proxying Maven repository manager."),
		kong.UsageOnError(),
	)

	logger, err := newLogger(cli.LogLevel, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	err = kctx.Run(&Globals{CLI: &cli, Logger: logger})
	kctx.FatalIfErrorf(err)
}

// Globals are bound into every command's Run method.
type Globals struct {
	CLI    *CLI
	Logger *slog.Logger
}

func newLogger(levelName, format string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", levelName)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.TimeOnly})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}
