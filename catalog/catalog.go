// Package catalog discovers the primitives and stored templates published by
// the rule engine and memoizes the results.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-subflow"
	"github.com/goliatone/go-subflow/client"
)

// DefaultTTL is how long discovery results stay cached.
const DefaultTTL = 5 * time.Minute

const (
	keyPlugins   = "plugins"
	keyTemplates = "templates"
	keySensor    = "sensor"
)

// Source is the subset of the rule engine API used for discovery.
type Source interface {
	ListSensors(ctx context.Context) ([]client.Plugin, error)
	ListActuators(ctx context.Context) ([]client.Plugin, error)
	GetSensor(ctx context.Context, name, version string) (client.Plugin, error)
	ListTemplates(ctx context.Context, filter map[string]string) ([]client.TemplateRef, error)
	GetTemplate(ctx context.Context, name string) (client.Template, error)
}

var _ Source = (*client.Client)(nil)

// Catalog memoizes discovery calls against a Source.
type Catalog struct {
	source Source
	cache  Cache
	ttl    time.Duration
	logger subflow.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithTTL overrides DefaultTTL. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Catalog) {
		c.ttl = ttl
	}
}

// WithCache replaces the in-memory cache.
func WithCache(cache Cache) Option {
	return func(c *Catalog) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithLogger sets the catalog logger.
func WithLogger(logger subflow.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// New creates a Catalog reading from source.
func New(source Source, opts ...Option) *Catalog {
	c := &Catalog{
		source: source,
		cache:  NewMemoryCache(),
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.logger == nil {
		c.logger = subflow.NewFmtLogger(io.Discard)
	}
	return c
}

// Plugins lists sensors followed by actuators, each tagged with its type.
func (c *Catalog) Plugins(ctx context.Context) ([]client.Plugin, error) {
	return memoize(ctx, c, keyPlugins, func(ctx context.Context) ([]client.Plugin, error) {
		sensors, err := c.source.ListSensors(ctx)
		if err != nil {
			return nil, err
		}
		actuators, err := c.source.ListActuators(ctx)
		if err != nil {
			return nil, err
		}

		out := make([]client.Plugin, 0, len(sensors)+len(actuators))
		for _, p := range sensors {
			out = append(out, withType(p, subflow.PluginSensor))
		}
		for _, p := range actuators {
			out = append(out, withType(p, subflow.PluginActuator))
		}
		return out, nil
	})
}

// Sensor fetches one sensor definition.
func (c *Catalog) Sensor(ctx context.Context, name, version string) (client.Plugin, error) {
	key := keySensor + ":" + name + ":" + version
	return memoize(ctx, c, key, func(ctx context.Context) (client.Plugin, error) {
		p, err := c.source.GetSensor(ctx, name, version)
		if err != nil {
			return client.Plugin{}, err
		}
		return withType(p, subflow.PluginSensor), nil
	})
}

// Templates lists stored templates matching filter and fetches each in
// simplified form, keeping listing order.
func (c *Catalog) Templates(ctx context.Context, filter map[string]string) ([]client.Template, error) {
	key := keyTemplates + ":" + filterKey(filter)
	return memoize(ctx, c, key, func(ctx context.Context) ([]client.Template, error) {
		refs, err := c.source.ListTemplates(ctx, filter)
		if err != nil {
			return nil, err
		}
		out := make([]client.Template, 0, len(refs))
		for _, ref := range refs {
			tpl, err := c.source.GetTemplate(ctx, ref.Name)
			if err != nil {
				return nil, fmt.Errorf("fetch template %s: %w", ref.Name, err)
			}
			out = append(out, tpl)
		}
		return out, nil
	})
}

func memoize[T any](ctx context.Context, c *Catalog, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if data, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("catalog cache read %s failed: %v", key, err)
	} else if ok {
		var cached T
		if err := json.Unmarshal(data, &cached); err == nil {
			c.logger.Trace("catalog cache hit %s", key)
			return cached, nil
		}
		c.logger.Warn("catalog cache entry %s is corrupt, refreshing", key)
	}

	value, err := load(ctx)
	if err != nil {
		return zero, err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return zero, fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("catalog cache write %s failed: %v", key, err)
	}
	return value, nil
}

func withType(p client.Plugin, kind subflow.PluginType) client.Plugin {
	p.Type = string(kind)
	return p
}

func filterKey(filter map[string]string) string {
	if len(filter) == 0 {
		return "*"
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+filter[k])
	}
	return strings.Join(parts, "&")
}
