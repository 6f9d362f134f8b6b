package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-subflow"
	"github.com/goliatone/go-subflow/catalog"
	"github.com/goliatone/go-subflow/catalog/redis"
	"github.com/goliatone/go-subflow/client"
	"github.com/goliatone/go-subflow/cron"
	"github.com/goliatone/go-subflow/mermaid"
	"github.com/goliatone/go-subflow/metrics"
	"github.com/goliatone/go-subflow/server"
)

type app struct {
	ctx     context.Context
	out     io.Writer
	globals Globals
	logger  subflow.Logger
}

func (a *app) subflow(api subflow.TaskCreator, opts ...subflow.Option) (*subflow.Subflow, error) {
	if a.globals.TemplatesFile == "" {
		return nil, errors.New("no templates file given, use --templates or SUBFLOW_TEMPLATES")
	}
	templates, err := subflow.LoadTemplatesFile(a.globals.TemplatesFile)
	if err != nil {
		return nil, err
	}
	reg, err := subflow.NewRegistry(templates, subflow.WithRegistryLogger(a.logger))
	if err != nil {
		return nil, err
	}
	opts = append([]subflow.Option{subflow.WithLogger(a.logger)}, opts...)
	return subflow.New(reg, api, opts...)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// TaskFlags are the task options accepted on the command line.
type TaskFlags struct {
	Name            string `help:"Task name, overrides the definition name."`
	Type            string `help:"Task type (periodic, scheduled, onetime, reactive)."`
	Cron            string `help:"Cron expression for scheduled tasks."`
	PollingInterval int    `help:"Polling interval in seconds."`
	NoStart         bool   `help:"Create the task stopped."`
}

func (f TaskFlags) apply(def subflow.TaskDefinition) (subflow.TaskDefinition, subflow.TaskOptions) {
	if f.Name != "" {
		def.Name = f.Name
	}
	opts := subflow.TaskOptions{}
	if f.Type != "" {
		opts["type"] = f.Type
	}
	if f.Cron != "" {
		opts["cron"] = f.Cron
	}
	if f.PollingInterval != 0 {
		opts["pollingInterval"] = f.PollingInterval
	}
	if f.NoStart {
		opts["start"] = false
	}
	return def, opts
}

// EngineFlags locate and authenticate against the rule engine.
type EngineFlags struct {
	Engine    string        `help:"Rule engine base URL." env:"SUBFLOW_ENGINE_URL" required:""`
	Token     string        `help:"Bearer token." env:"SUBFLOW_ENGINE_TOKEN"`
	APIKey    string        `name:"api-key" help:"API key for basic auth." env:"SUBFLOW_ENGINE_KEY"`
	APISecret string        `name:"api-secret" help:"API secret for basic auth." env:"SUBFLOW_ENGINE_SECRET"`
	Timeout   time.Duration `help:"Request timeout." default:"30s"`
	Retries   int           `help:"Extra attempts for discovery requests." default:"2"`
}

func (f EngineFlags) client(logger subflow.Logger) (*client.Client, error) {
	opts := []client.Option{
		client.WithLogger(logger),
		client.WithHTTPClient(&http.Client{Timeout: f.Timeout}),
		client.WithRetry(f.Retries, client.ExponentialBackoff{Base: 200 * time.Millisecond, Factor: 2, Max: 2 * time.Second}),
	}
	if f.Token != "" {
		opts = append(opts, client.WithToken(f.Token))
	}
	if f.APIKey != "" {
		opts = append(opts, client.WithBasicAuth(f.APIKey, f.APISecret))
	}
	return client.New(f.Engine, opts...)
}

type validateCmd struct {
	Steps string `arg:"" type:"existingfile" help:"Step definition file."`
}

func (c *validateCmd) Run(a *app) error {
	def, err := subflow.LoadStepsFile(c.Steps)
	if err != nil {
		return err
	}
	sf, err := a.subflow(nil)
	if err != nil {
		return err
	}
	if err := subflow.ValidateSteps(sf.Registry(), def.Steps); err != nil {
		for _, v := range subflow.Violations(err) {
			fmt.Fprintf(a.out, "- %s\n", v)
		}
		return err
	}
	fmt.Fprintf(a.out, "ok: %d steps\n", len(def.Steps))
	return nil
}

type compileCmd struct {
	Steps string `arg:"" type:"existingfile" help:"Step definition file."`
	Task  bool   `help:"Wrap the graph in a task payload."`

	TaskFlags `embed:""`
}

func (c *compileCmd) Run(a *app) error {
	def, err := subflow.LoadStepsFile(c.Steps)
	if err != nil {
		return err
	}
	sf, err := a.subflow(nil)
	if err != nil {
		return err
	}
	if !c.Task {
		graph, err := sf.Compile(def.Steps)
		if err != nil {
			return err
		}
		return a.printJSON(graph)
	}
	def, opts := c.apply(def)
	payload, err := sf.CompileTask(def, opts)
	if err != nil {
		return err
	}
	return a.printJSON(payload)
}

type graphCmd struct {
	Steps string `arg:"" type:"existingfile" help:"Step definition file."`
}

func (c *graphCmd) Run(a *app) error {
	def, err := subflow.LoadStepsFile(c.Steps)
	if err != nil {
		return err
	}
	sf, err := a.subflow(nil)
	if err != nil {
		return err
	}
	graph, err := sf.Compile(def.Steps)
	if err != nil {
		return err
	}
	_, err = io.WriteString(a.out, mermaid.Generate(graph))
	return err
}

type templatesCmd struct {
	And []string `help:"Tags a template must all carry." sep:","`
	Or  []string `help:"Tags a template must carry at least one of." sep:","`
}

func (c *templatesCmd) Run(a *app) error {
	sf, err := a.subflow(nil)
	if err != nil {
		return err
	}
	return a.printJSON(sf.GetSubflows(subflow.TagQuery{And: c.And, Or: c.Or}))
}

type publishCmd struct {
	Steps    string `arg:"" type:"existingfile" help:"Step definition file."`
	Template bool   `help:"Publish as a reusable template instead of a task."`

	TaskFlags   `embed:""`
	EngineFlags `embed:""`
}

func (c *publishCmd) Run(a *app) error {
	def, err := subflow.LoadStepsFile(c.Steps)
	if err != nil {
		return err
	}
	api, err := c.client(a.logger)
	if err != nil {
		return err
	}
	sf, err := a.subflow(api)
	if err != nil {
		return err
	}

	def, opts := c.apply(def)
	var handle *subflow.Handle
	if c.Template {
		handle, err = sf.CreateTemplate(a.ctx, def)
	} else {
		handle, err = sf.CreateTask(a.ctx, def, opts)
	}
	if err != nil {
		return err
	}
	if len(handle.Raw) > 0 {
		return a.printJSON(handle.Raw)
	}
	return a.printJSON(handle)
}

type pluginsCmd struct {
	Stored bool              `help:"List stored templates instead of primitives."`
	Filter map[string]string `help:"Template listing filter (key=value)."`
	Redis  string            `help:"Redis address for a shared discovery cache." env:"SUBFLOW_REDIS_ADDR"`
	TTL    time.Duration     `name:"ttl" help:"Discovery cache TTL." default:"5m"`

	EngineFlags `embed:""`
}

func (c *pluginsCmd) Run(a *app) error {
	api, err := c.client(a.logger)
	if err != nil {
		return err
	}
	opts := []catalog.Option{catalog.WithTTL(c.TTL), catalog.WithLogger(a.logger)}
	if c.Redis != "" {
		cache := redis.New(c.Redis, "", 0)
		defer cache.Close()
		opts = append(opts, catalog.WithCache(cache))
	}
	cat := catalog.New(api, opts...)

	if c.Stored {
		templates, err := cat.Templates(a.ctx, c.Filter)
		if err != nil {
			return err
		}
		return a.printJSON(templates)
	}
	plugins, err := cat.Plugins(a.ctx)
	if err != nil {
		return err
	}
	return a.printJSON(plugins)
}

type serveCmd struct {
	Addr string `help:"Listen address." default:":8080" env:"SUBFLOW_ADDR"`
}

func (c *serveCmd) Run(a *app) error {
	promReg := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(promReg)
	if err != nil {
		return err
	}
	sf, err := a.subflow(nil, subflow.WithMetrics(recorder))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              c.Addr,
		Handler:           server.NewHandler(sf, server.WithGatherer(promReg), server.WithLogger(a.logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening on %s", c.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-a.ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

type cronCmd struct {
	Expression string `arg:"" help:"Cron expression."`
	Count      int    `short:"n" help:"Number of activations to print." default:"5"`
	Parser     string `help:"Expression dialect." enum:"default,standard,seconds" default:"default"`
	Location   string `help:"Time zone for activations." default:"UTC"`
}

func (c *cronCmd) Run(a *app) error {
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return err
	}
	parser := cron.DefaultParser
	switch c.Parser {
	case "standard":
		parser = cron.StandardParser
	case "seconds":
		parser = cron.SecondsParser
	}
	v := cron.NewValidator(cron.WithParser(parser), cron.WithLocation(loc))

	next, err := v.Next(c.Expression, time.Now(), c.Count)
	if err != nil {
		return err
	}
	for _, t := range next {
		fmt.Fprintln(a.out, t.Format(time.RFC3339))
	}
	return nil
}
