// Command ipojo-demo runs one component instance with a dynamic greeter
// dependency while providers come and go, and logs how the instance binds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bayleafwalker/felix-core/internal/bundle"
	"github.com/bayleafwalker/felix-core/internal/component"
	"github.com/bayleafwalker/felix-core/internal/config"
	"github.com/bayleafwalker/felix-core/internal/dependency"
	"github.com/bayleafwalker/felix-core/internal/handler"
	"github.com/bayleafwalker/felix-core/internal/metrics"
	"github.com/bayleafwalker/felix-core/internal/registry"
	"github.com/bayleafwalker/felix-core/internal/version"
)

type Greeter interface {
	Greet(name string) string
}

type greeter struct{ lang, prefix string }

func (g *greeter) Greet(name string) string { return g.prefix + ", " + name }

type greeterProxy struct {
	target func() (any, error)
}

func (p *greeterProxy) Greet(name string) string {
	svc, err := p.target()
	if err != nil {
		return err.Error()
	}
	return svc.(Greeter).Greet(name)
}

type silentGreeter struct{}

func (silentGreeter) Greet(string) string { return "..." }

// Console prints greetings with whichever greeter is bound.
type Console struct {
	Greeter dependency.Field[Greeter]

	log logr.Logger
}

func (c *Console) BindGreeter(g Greeter, props map[string]any) {
	c.log.Info("greeter bound", "lang", props["lang"])
}

func (c *Console) UnbindGreeter(_ Greeter, props map[string]any) {
	c.log.Info("greeter unbound", "lang", props["lang"])
}

func (c *Console) Say(name string) string {
	return c.Greeter.MustGet().Greet(name)
}

func main() {
	var (
		configPath  string
		metricsAddr string
		policy      string
		duration    time.Duration
	)
	flag.StringVar(&configPath, "config", "felix.yaml", "path to the framework configuration")
	flag.StringVar(&metricsAddr, "metrics-bind-address", "", "The address the metric endpoint binds to.")
	flag.StringVar(&policy, "policy", "dynamic", "binding policy of the greeter dependency")
	flag.DurationVar(&duration, "duration", 5*time.Second, "how long to run")
	flag.Parse()

	zl, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	setupLog := zapr.NewLogger(zl).WithName("setup")

	if err := run(configPath, metricsAddr, policy, duration, zapr.NewLogger(zl)); err != nil {
		setupLog.Error(err, "demo failed")
		os.Exit(1)
	}
}

func run(configPath, metricsAddr, policy string, duration time.Duration, log logr.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	proxy, err := cfg.ProxySettings()
	if err != nil {
		return err
	}
	timeout, err := cfg.DefaultTimeout()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	consoleLog := log.WithName("console")
	b := bundle.New("org.example.demo", version.MustParse("1.0.0"))
	if err := b.Register(
		&bundle.Class{
			Name:       "org.example.Greeter",
			Type:       reflect.TypeFor[Greeter](),
			SmartProxy: func(target func() (any, error)) any { return &greeterProxy{target: target} },
			Null:       func() any { return silentGreeter{} },
		},
		&bundle.Class{
			Name: "org.example.Console",
			Type: reflect.TypeFor[*Console](),
			New:  func() (any, error) { return &Console{log: consoleLog}, nil },
		},
	); err != nil {
		return err
	}

	reg := registry.New(log.WithName("registry"))
	im, err := component.NewInstance(&handler.Component{
		ClassName: "org.example.Console",
		Dependencies: []handler.Metadata{{
			ID:       "greeter",
			Field:    "Greeter",
			Optional: true,
			Policy:   policy,
			Callbacks: []handler.CallbackMetadata{
				{Type: "bind", Method: "BindGreeter"},
				{Type: "unbind", Method: "UnbindGreeter"},
			},
		}},
	}, component.Options{
		Handler: handler.Options{
			Context:        reg,
			Bundle:         b,
			Proxy:          proxy,
			DefaultTimeout: timeout,
			Log:            log.WithName("handler"),
		},
		Config:    map[string]any{handler.InstanceNameProperty: "console"},
		Immediate: true,
	})
	if err != nil {
		return err
	}
	im.Start()
	defer im.Dispose()

	greeters := []*greeter{{"en", "Hello"}, {"fr", "Bonjour"}, {"de", "Hallo"}}
	var current *registry.Registration
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			log.Info("done", "instance", im.Describe())
			return nil
		case <-ticker.C:
		}

		if i%2 == 0 {
			g := greeters[(i/2)%len(greeters)]
			if current, err = reg.Register([]string{"org.example.Greeter"}, g, registry.Properties{"lang": g.lang}); err != nil {
				return err
			}
		} else if current != nil {
			if err := current.Unregister(); err != nil {
				return err
			}
			current = nil
		}

		err := component.Invoke(im, func(c *Console) error {
			log.Info("greeting", "text", c.Say("world"), "state", im.State().String())
			return nil
		})
		if err != nil {
			log.Info("console unavailable", "reason", err.Error())
		}
	}
}
