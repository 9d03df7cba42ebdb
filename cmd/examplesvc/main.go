// Command examplesvc is a minimal runnable service built on servicekit. It
// registers one service schema with two actions, serves them over NATS, and
// exposes Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c360/servicekit/config"
	"github.com/c360/servicekit/dispatch"
	"github.com/c360/servicekit/metric"
	"github.com/c360/servicekit/middleware"
	"github.com/c360/servicekit/natsclient"
	"github.com/c360/servicekit/runtime"
	"github.com/c360/servicekit/schema"
	"github.com/c360/servicekit/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "examplesvc: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to JSON config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	loader := config.NewLoader()
	if *configPath != "" {
		loader.AddLayer(*configPath)
	} else {
		// Without a config file the defaults still need an identity.
		os.Setenv("SVK_COMPONENT_NAME", "examplesvc")
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	metricsRegistry := metric.NewRegistry()
	metrics := metricsRegistry.CoreMetrics()

	registry := schema.NewRegistry()
	if cfg.Dispatch.SchemaDir != "" {
		if err := schema.LoadDirectory(registry, cfg.Dispatch.SchemaDir); err != nil {
			return err
		}
	}

	svc := exampleService()
	if err := registry.Register(svc); err != nil {
		return err
	}

	pipeline := middleware.NewPipeline(logger)
	pipeline.OnRequest("request-log", func(_ context.Context, _ *middleware.Run, tp *transport.Transport) (*transport.Transport, error) {
		logger.Info("request received", "request_id", tp.Meta().ID, "origin", tp.Meta().Origin)
		return tp, nil
	})
	pipeline.OnResponse("response-log", func(_ context.Context, _ *middleware.Run, tp *transport.Transport, action *schema.ActionSchema) (*transport.Transport, error) {
		name := ""
		if action != nil {
			name = action.Name
		}
		logger.Info("request completed",
			"request_id", tp.Meta().ID, "action", name, "has_errors", tp.HasErrors())
		return tp, nil
	})

	nc, err := natsclient.NewClient(cfg.NATS.URL, natsOptions(cfg, metrics)...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.NATS.ConnectTimeout.Duration())
	err = nc.Connect(connectCtx)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := nc.Close(closeCtx); err != nil {
			logger.Error("NATS close failed", "error", err)
		}
	}()

	caller := runtime.NewCaller(nc, runtime.WithCallerLogger(logger))
	dispatcher := dispatch.NewDispatcher(registry, pipeline,
		dispatch.WithCaller(caller),
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(metrics),
		dispatch.WithDefaultTimeout(cfg.Dispatch.DefaultTimeout.Duration()),
	)
	if err := registerHandlers(dispatcher, svc); err != nil {
		return err
	}

	server := runtime.NewActionServer(nc, dispatcher,
		runtime.WithWorkers(cfg.Server.Workers),
		runtime.WithQueueSize(cfg.Server.QueueSize),
		runtime.WithStopTimeout(cfg.Server.StopTimeout.Duration()),
		runtime.WithServerLogger(logger),
		runtime.WithMetricsRegistry(metricsRegistry),
	)
	if err := server.Serve(ctx, svc); err != nil {
		return err
	}
	defer func() {
		if err := server.Stop(); err != nil {
			logger.Error("server stop failed", "error", err)
		}
	}()

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, "/metrics", metricsRegistry)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				logger.Error("metrics server stop failed", "error", err)
			}
		}()
		logger.Info("metrics server listening", "address", metricsServer.Address())
	}

	logger.Info("examplesvc running",
		"service", svc.Name, "version", svc.Version, "nats", cfg.NATS.URL)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// natsOptions derives the NATS client options from the loaded configuration.
func natsOptions(cfg *config.Config, metrics *metric.Metrics) []natsclient.ClientOption {
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Component.Name),
		natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password),
		natsclient.WithToken(cfg.NATS.Token),
		natsclient.WithTimeout(cfg.NATS.ConnectTimeout.Duration()),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithCircuitBreakerThreshold(cfg.NATS.CircuitThreshold),
		natsclient.WithMetrics(metrics),
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(
			cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}
	return opts
}

func exampleService() *schema.ServiceSchema {
	return schema.NewServiceSchema("example", "1.0.0",
		&schema.ActionSchema{
			Name: "echo",
			Params: []schema.ParamSchema{
				{Name: "message", Type: "string", Required: true},
				{Name: "repeat", Type: "integer", Default: float64(1), HasDefault: true},
			},
			ReturnType: "string",
		},
		&schema.ActionSchema{
			Name: "whoami",
			Entity: &schema.EntityDefinition{
				PrimaryKey: "name",
				Fields: []schema.FieldDefinition{
					{Name: "name", Type: "string"},
					{Name: "version", Type: "string"},
				},
			},
		},
	)
}

func registerHandlers(d *dispatch.Dispatcher, svc *schema.ServiceSchema) error {
	err := d.RegisterHandler(svc.Name, svc.Version, "echo", func(_ context.Context, a *dispatch.Action) error {
		msg := a.Param("message")
		if !msg.Exists() {
			a.Error("message parameter is required", 400)
			return nil
		}

		out := ""
		for i := int64(0); i < a.Param("repeat").Int(); i++ {
			out += msg.String()
		}
		a.SetReturn(out)
		return nil
	})
	if err != nil {
		return err
	}

	return d.RegisterHandler(svc.Name, svc.Version, "whoami", func(_ context.Context, a *dispatch.Action) error {
		a.SetEntity(map[string]any{
			"name":    a.ServiceName(),
			"version": a.ServiceVersion(),
		})
		return nil
	})
}
