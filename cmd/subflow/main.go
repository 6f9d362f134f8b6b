package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

// Globals are the flags shared by every command.
type Globals struct {
	TemplatesFile string `name:"templates" short:"t" help:"Template definitions file (YAML or JSON)." env:"SUBFLOW_TEMPLATES" type:"path"`
	LogFormat     string `help:"Log output format." enum:"json,text" default:"json" env:"SUBFLOW_LOG_FORMAT"`
	LogLevel      string `help:"Minimum log level." default:"info" env:"SUBFLOW_LOG_LEVEL"`
}

type cli struct {
	Globals `embed:""`

	Validate  validateCmd  `cmd:"" help:"Validate a step definition against the templates."`
	Compile   compileCmd   `cmd:"" help:"Compile a step definition into a graph or task payload."`
	Graph     graphCmd     `cmd:"" help:"Render a compiled step definition as a Mermaid flowchart."`
	List      templatesCmd `cmd:"" name:"templates" help:"List templates, optionally filtered by tags."`
	Publish   publishCmd   `cmd:"" help:"Compile and submit a task or template to the rule engine."`
	Plugins   pluginsCmd   `cmd:"" help:"List sensor and actuator primitives published by the rule engine."`
	Serve     serveCmd     `cmd:"" help:"Serve the compile endpoints over HTTP."`
	Cron      cronCmd      `cmd:"" help:"Check a cron expression and print its next activations."`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var root cli
	exitCode := -1
	parser, err := kong.New(&root,
		kong.Name("subflow"),
		kong.Description("Author, validate and publish rule engine step graphs."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.Exit(func(code int) { exitCode = code }),
	)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	kctx, err := parser.Parse(args)
	if exitCode >= 0 {
		return exitCode
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	a := &app{
		ctx:     ctx,
		out:     stdout,
		globals: root.Globals,
		logger:  newLogger(stderr, root.LogFormat, root.LogLevel),
	}
	if err := kctx.Run(a); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}
