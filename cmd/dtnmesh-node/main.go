package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/cla/udp"
	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/service"
	"github.com/yndnr/dtnmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/dtnmesh-go/internal/infra/confloader"
	"github.com/yndnr/dtnmesh-go/internal/infra/shutdown"
	"github.com/yndnr/dtnmesh-go/internal/infra/tlsroots"
	"github.com/yndnr/dtnmesh-go/internal/server/config"
	"github.com/yndnr/dtnmesh-go/internal/server/discovery"
	"github.com/yndnr/dtnmesh-go/internal/server/ductserver"
	"github.com/yndnr/dtnmesh-go/internal/server/httpserver"
	"github.com/yndnr/dtnmesh-go/internal/server/localserver"
	"github.com/yndnr/dtnmesh-go/internal/storage"
	"github.com/yndnr/dtnmesh-go/internal/telemetry/logger"
	"github.com/yndnr/dtnmesh-go/internal/telemetry/metric"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		overrides   []confloader.Option
	)
	flag.Func("set", "Override a config key, as key=value (repeatable)", func(arg string) error {
		key, value, err := confloader.ParseOverride(arg)
		if err != nil {
			return err
		}
		overrides = append(overrides, confloader.WithOverride(key, value))
		return nil
	})
	flag.Parse()

	if *showVersion {
		fmt.Println("dtnmesh-node " + buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile, overrides...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(config.ToLoggerConfig(cfg, os.Stdout))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	slogger := log.Slog()

	info := buildinfo.Get()
	log.Info("starting dtnmesh-node",
		"version", info.Version,
		"commit", info.Commit,
		"config", *configFile)
	if keys, err := configLoader(*configFile, overrides).Keys(); err == nil {
		log.Debug("configuration sources", "keys", keys)
	}
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	store, err := storage.Open(config.ToStorageConfig(cfg), log.Component("store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	engineCfg, err := config.ToEngineConfig(cfg)
	if err != nil {
		store.Close()
		return err
	}
	registry := metric.Global()
	engine, err := service.NewEngine(store, engineCfg,
		service.WithLogger(slogger),
		service.WithMetrics(registry))
	if err != nil {
		store.Close()
		return fmt.Errorf("init engine: %w", err)
	}
	store.RegisterMetrics(registry.Registerer())
	registry.Registerer().MustRegister(metric.NewCollector(engine.Snapshot))

	sh := shutdown.NewHandler(30 * time.Second)
	ctx := sh.Context()

	// Hooks run in reverse order of registration.
	sh.OnShutdown(func(context.Context) error {
		log.Info("closing bundle store")
		return store.Close()
	})

	if err := installRoutes(ctx, engine, cfg); err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	sh.OnShutdown(func(context.Context) error {
		log.Info("stopping engine")
		return engine.Stop()
	})

	if *configFile != "" {
		stop, err := watchLogLevel(*configFile, overrides, log)
		if err != nil {
			return err
		}
		sh.OnShutdown(func(context.Context) error { return stop() })
	}

	if cfg.ContactPlanFile != "" {
		stop, err := watchContactPlan(ctx, engine, cfg.ContactPlanFile, log.Component("contactplan"))
		if err != nil {
			return err
		}
		sh.OnShutdown(func(context.Context) error { return stop() })
	}

	if cfg.Server.Duct.Enabled {
		ds, err := startDuctServer(engine, cfg.Server.Duct.Path, slogger, sh.Trigger)
		if err != nil {
			return err
		}
		sh.OnShutdown(func(ctx context.Context) error {
			log.Info("shutting down duct server")
			return ds.Shutdown(ctx)
		})
	}

	var udpAddr string
	if cfg.CLA.UDP.Enabled {
		conn, err := net.ListenPacket("udp", cfg.CLA.UDP.Listen)
		if err != nil {
			return fmt.Errorf("listen udp %s: %w", cfg.CLA.UDP.Listen, err)
		}
		d := udp.NewDaemon(cfg.Node.Number, conn, engine.Ducts, engine.Plans, udp.WithLogger(slogger))
		d.Start()
		udpAddr = d.Addr().String()
		sh.OnShutdown(func(context.Context) error {
			log.Info("stopping udp convergence layer")
			return d.Stop()
		})
	}

	if cfg.Discovery.Enabled {
		disc, err := startDiscovery(engine, cfg, udpAddr, slogger)
		if err != nil {
			return err
		}
		sh.OnShutdown(func(context.Context) error {
			log.Info("leaving gossip")
			return errors.Join(disc.Leave(), disc.Shutdown())
		})
	}

	if cfg.Server.Admin.Enabled {
		ls, err := startAdminSocket(engine, cfg.Server.Admin.Path, slogger, sh.Trigger)
		if err != nil {
			return err
		}
		sh.OnShutdown(func(ctx context.Context) error {
			log.Info("closing admin socket")
			return ls.Shutdown(ctx)
		})
	}

	httpServer, err := startHTTP(engine, cfg.Server.HTTP, slogger, sh.Trigger)
	if err != nil {
		return err
	}
	sh.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return httpServer.Shutdown(ctx)
	})

	log.Info("node started, press Ctrl+C to stop")
	if err := sh.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("node stopped gracefully")
	return nil
}

// loadConfig loads configuration from file, environment and -set
// overrides.
func loadConfig(configFile string, overrides ...confloader.Option) (*config.NodeConfig, error) {
	cfg := config.Default()
	if err := configLoader(configFile, overrides).Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// installRoutes adds the configured ducts, plans and kin. Entries already
// in the store from a previous run are updated in place.
func installRoutes(ctx context.Context, e *service.Engine, cfg *config.NodeConfig) error {
	ducts, plans := config.StaticRoutes(cfg)
	for i := range ducts {
		err := e.Plans.AddDuct(ctx, &ducts[i])
		if err != nil && !errors.Is(err, domain.ErrDuctExists) {
			return fmt.Errorf("add duct %s: %w", ducts[i].Name, err)
		}
	}
	for i := range plans {
		err := e.Plans.AddPlan(ctx, &plans[i])
		if errors.Is(err, domain.ErrPlanExists) {
			err = e.Plans.UpdatePlan(ctx, &plans[i])
		}
		if err != nil {
			return fmt.Errorf("add plan for node %d: %w", plans[i].Node, err)
		}
	}
	for _, node := range cfg.Kin {
		if err := e.Multicast.AddKin(ctx, node); err != nil {
			return fmt.Errorf("add kin %d: %w", node, err)
		}
	}
	return nil
}

func configLoader(configFile string, overrides []confloader.Option) *confloader.Loader {
	opts := append([]confloader.Option(nil), overrides...)
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	return confloader.NewLoader(opts...)
}

// watchLogLevel follows log.level in the node config file. Other settings
// need a restart.
func watchLogLevel(path string, overrides []confloader.Option, log logger.Logger) (func() error, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log.Component("config")))
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return nil, fmt.Errorf("watch config: %w", err)
	}
	w.OnChange(func(string) {
		cfg, err := loadConfig(path, overrides...)
		if err != nil {
			log.Warn("config reload ignored", "path", path, "error", err)
			return
		}
		if cfg.Log.Level == "" || cfg.Log.Level == log.Level() {
			return
		}
		if err := log.SetLevel(cfg.Log.Level); err != nil {
			log.Warn("log level unchanged", "error", err)
			return
		}
		log.Info("log level changed", "level", log.Level())
	})
	w.StartAsync()
	return w.Stop, nil
}

// watchContactPlan applies the contact plan file now and again whenever
// it changes.
func watchContactPlan(ctx context.Context, e *service.Engine, path string, log *slog.Logger) (func() error, error) {
	apply := func() error {
		f, err := config.LoadContactPlan(path)
		if err != nil {
			return err
		}
		res, err := config.ApplyContactPlan(ctx, e.ContactPlan, f, time.Now())
		if err != nil {
			return err
		}
		log.Info("contact plan applied",
			"path", path,
			"contacts", res.Contacts,
			"ranges", res.Ranges,
			"skipped", res.Skipped)
		return nil
	}
	if err := apply(); err != nil {
		return nil, err
	}

	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, fmt.Errorf("watch contact plan: %w", err)
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return nil, fmt.Errorf("watch contact plan: %w", err)
	}
	w.OnChange(func(string) {
		if err := apply(); err != nil {
			log.Error("contact plan reload failed", "path", path, "error", err)
		}
	})
	w.StartAsync()
	return w.Stop, nil
}

// The start functions below run their server in a goroutine and call fail
// if it stops with an error, which shuts the node down.

func startDuctServer(e *service.Engine, path string, log *slog.Logger, fail func()) (*ductserver.Server, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("duct socket dir: %w", err)
	}
	ds := ductserver.New(path, e.Ducts, ductserver.WithLogger(log))
	go func() {
		if err := ds.ListenAndServe(); err != nil {
			log.Error("duct server error", "error", err)
			fail()
		}
	}()
	return ds, nil
}

func startDiscovery(e *service.Engine, cfg *config.NodeConfig, udpAddr string, log *slog.Logger) (*discovery.Discovery, error) {
	key, err := config.GossipKey(cfg.Discovery.SecretKey)
	if err != nil {
		return nil, err
	}
	var opts []discovery.Option
	if cfg.Discovery.Kin {
		opts = append(opts, discovery.WithKin(e.Multicast))
	}
	disc, err := discovery.New(discovery.Config{
		Node:      cfg.Node.Number,
		BindAddr:  cfg.Discovery.BindAddr,
		BindPort:  cfg.Discovery.BindPort,
		UDPAddr:   udpAddr,
		Rate:      cfg.CLA.UDP.Rate,
		Seeds:     cfg.Discovery.Seeds,
		SecretKey: key,
		Logger:    log,
	}, e.Plans, opts...)
	if err != nil {
		return nil, fmt.Errorf("start discovery: %w", err)
	}
	return disc, nil
}

func startHTTP(e *service.Engine, hc config.HTTPConfig, log *slog.Logger, fail func()) (*httpserver.Server, error) {
	rcfg := httpserver.DefaultRouterConfig()
	rcfg.Engine = e
	rcfg.Logger = log
	rcfg.AdminToken = hc.AdminToken
	rcfg.AllowList = hc.AllowList
	rcfg.RateLimit = hc.RateLimit
	if hc.RateBurst > 0 {
		rcfg.RateBurst = hc.RateBurst
	}
	opts := []httpserver.Option{httpserver.WithLogger(log)}
	if hc.ClientCAFile != "" {
		pool, err := tlsroots.Load(false, hc.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("load client CAs: %w", err)
		}
		opts = append(opts, httpserver.WithClientCAs(pool))
	}
	srv := httpserver.New(hc.Addr, httpserver.NewRouter(rcfg), opts...)

	go func() {
		log.Info("HTTP server listening", "addr", hc.Addr, "tls", hc.TLSCertFile != "", "client_certs", hc.ClientCAFile != "")
		var err error
		if hc.TLSCertFile != "" && hc.TLSKeyFile != "" {
			err = srv.ListenAndServeTLS(hc.TLSCertFile, hc.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
			fail()
		}
	}()
	return srv, nil
}

// startAdminSocket serves the admin API on a Unix socket without the
// token, rate limit and allowlist of the TCP listener.
func startAdminSocket(e *service.Engine, path string, log *slog.Logger, fail func()) (*localserver.Server, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("admin socket dir: %w", err)
	}
	rcfg := httpserver.DefaultRouterConfig()
	rcfg.Engine = e
	rcfg.Logger = log
	rcfg.RateLimit = 0
	ls := localserver.New(path, httpserver.NewRouter(rcfg), localserver.WithLogger(log))
	go func() {
		if err := ls.ListenAndServe(); err != nil {
			log.Error("admin socket error", "error", err)
			fail()
		}
	}()
	return ls, nil
}
