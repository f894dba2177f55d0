package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/glennswest/sdnctl/pkg/arpserver"
	"github.com/glennswest/sdnctl/pkg/config"
	"github.com/glennswest/sdnctl/pkg/discovery"
	"github.com/glennswest/sdnctl/pkg/loadbalancer"
	"github.com/glennswest/sdnctl/pkg/metrics"
	"github.com/glennswest/sdnctl/pkg/network"
	"github.com/glennswest/sdnctl/pkg/network/driver"
	"github.com/glennswest/sdnctl/pkg/network/hosts"
	"github.com/glennswest/sdnctl/pkg/network/l3routing"
	"github.com/glennswest/sdnctl/pkg/network/topology"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfigFlag(cmd.Flags())
		if err != nil {
			return err
		}
		level, _ := cfg.Level()
		log, err := newLogger(level)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return run(ctx, cfg, log)
	},
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	log.Infow("starting sdnctl", "version", version, "driver", cfg.Driver)

	bus := network.NewBus()
	defer bus.Close()

	reg, err := hosts.New()
	if err != nil {
		return err
	}
	topo := topology.New()

	g, ctx := errgroup.WithContext(ctx)

	// ── Rule gateway ──
	var (
		gw network.RuleGateway
		of *driver.OpenFlow
	)
	switch cfg.Driver {
	case config.DriverOpenFlow:
		of = driver.NewOpenFlow(driver.OpenFlowOptions{
			ListenAddr: cfg.OpenFlow.ListenAddr,
			MissTables: []uint8{cfg.L3Routing.Table},
		}, bus, log)
		gw = of
	case config.DriverOVS:
		bridges, err := cfg.OVSBridges()
		if err != nil {
			return err
		}
		gw = driver.NewOVS(bridges, cfg.OVS.Sudo, log)
	case config.DriverMemory:
		gw = driver.NewMemory(log)
	default:
		return fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	gw = network.Serialized(metrics.Instrument(gw))

	// ── Host routing ──
	mgr := l3routing.NewManager(l3routing.Options{
		Table:      cfg.L3Routing.Table,
		SinglePass: cfg.L3Routing.SinglePass,
	}, topo, reg, gw, log)
	if err := bus.Subscribe(mgr.Sink(ctx)); err != nil {
		return err
	}

	// ── Load balancer ──
	instances, errs := loadbalancer.ParseInstances(cfg.LoadBalancer.Instances)
	for _, err := range errs {
		log.Warnw("skipping load balancer instance", "error", err)
	}
	lbReg, err := loadbalancer.NewRegistry(instances)
	if err != nil {
		return err
	}
	lb := loadbalancer.NewEngine(loadbalancer.Options{
		Table:          cfg.LoadBalancer.Table,
		L3Table:        cfg.L3Routing.Table,
		IdleTimeout:    cfg.LoadBalancer.IdleTimeout,
		MaxConnections: cfg.LoadBalancer.MaxConnections,
	}, lbReg, reg, gw, log)
	if err := bus.Subscribe(lb.Sink(ctx)); err != nil {
		return err
	}
	log.Infow("load balancer configured", "instances", lbReg.Len())

	// ── Packet-in ──
	pipeline := network.NewPacketPipeline(log, lb, arpserver.New(reg, gw, log))
	if of != nil {
		of.SetFrameHandler(pipeline)
		g.Go(func() error { return of.Run(ctx) })
	} else if lbReg.Len() > 0 {
		log.Warnw("driver delivers no packet-in, virtual IPs will not be served", "driver", cfg.Driver)
	}

	// ── Discovery ──
	if cfg.Inventory != "" {
		static := discovery.NewStatic(cfg.Inventory, bus, cfg.ReconcileInterval, log)
		g.Go(func() error { return static.Run(ctx) })
	}

	g.Go(func() error {
		mgr.RunReconciler(ctx, l3routing.ReconcilerOpts{Interval: cfg.ReconcileInterval})
		return nil
	})

	// ── HTTP API ──
	if cfg.APIAddr != "" {
		router := mux.NewRouter()
		mgr.RegisterRoutes(router)
		lb.RegisterRoutes(router)
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
		router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		}).Methods(http.MethodGet)

		srv := &http.Server{Addr: cfg.APIAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Infow("API listening", "addr", cfg.APIAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Infow("sdnctl stopped", "error", err)
	return err
}
