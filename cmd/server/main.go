package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thereceipt/print-station/internal/api"
	"github.com/thereceipt/print-station/internal/config"
	"github.com/thereceipt/print-station/internal/history"
	"github.com/thereceipt/print-station/internal/notify"
	"github.com/thereceipt/print-station/internal/printer"
	"github.com/thereceipt/print-station/internal/queue"
	"github.com/thereceipt/print-station/internal/registry"
	"github.com/thereceipt/print-station/internal/settings"
	"github.com/thereceipt/print-station/internal/station"
)

// Version is set during build via ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("PRINTSTATION_CONFIG"), "Path to a YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides server.addr)")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log.Printf("🖨️  Print station %s starting...", Version)

	reg, err := loadRegistry(cfg.Profiles.Path)
	if err != nil {
		return err
	}
	log.Printf("✅ Loaded %d printer profile(s), default %s", reg.Len(), reg.Default().ID)

	store, err := settings.Open(cfg.Settings.Path)
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}

	queueOpts := []queue.Option{
		queue.WithLeaseTTL(cfg.Queue.LeaseTTL),
		queue.WithSweepInterval(cfg.Queue.SweepInterval),
		queue.WithHistoryLimit(cfg.Queue.HistoryLimit),
	}
	apiOpts := []api.Option{
		api.WithDialTimeout(cfg.Proxy.DialTimeout),
		api.WithProxyPolicy(printer.ProxyPolicy{
			Ports: cfg.Proxy.AllowedPorts,
			Hosts: cfg.Proxy.AllowedHosts,
		}),
	}

	if cfg.History.DBPath != "" {
		hist, err := history.Open(cfg.History.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer hist.Close()
		queueOpts = append(queueOpts, queue.WithRecorder(hist))
		apiOpts = append(apiOpts, api.WithHistory(hist))
		log.Printf("📚 Recording print history to %s", cfg.History.DBPath)
	}

	q := queue.New(queueOpts...)
	defer q.Close()
	go q.Run(ctx)

	if cfg.MQTT.Broker != "" {
		client, err := notify.Connect(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			log.Printf("Warning: MQTT disabled: %v", err)
		} else {
			defer client.Disconnect(250)
			bridge := notify.NewBridge(client, cfg.MQTT.TopicPrefix)
			go bridge.Run(ctx, q)
		}
	}

	pool := printer.NewPool()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.DisconnectAll(shutdownCtx)
	}()
	apiOpts = append(apiOpts, api.WithPool(pool))

	if cfg.Station.Enabled() {
		st, err := newStation(cfg.Station, cfg.Proxy, reg, store, q)
		if err != nil {
			return fmt.Errorf("failed to set up station %s: %w", cfg.Station.Name, err)
		}
		pool.Add(st.Name(), st.Adapter())
		go printer.NewMonitor(pool, 2*time.Second, nil).Run(ctx)
		go func() {
			if err := st.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Station %s stopped: %v", st.Name(), err)
			}
		}()
	}

	server := api.NewServer(q, reg, store, apiOpts...)
	log.Printf("🚀 Starting API server on %s", cfg.Server.Addr)
	if err := server.Run(ctx, cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.Printf("🛑 Shutting down...")
	return nil
}

func loadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.Builtin(), nil
	}
	reg, err := registry.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load printer profiles: %w", err)
	}
	return reg, nil
}

// newStation builds the embedded station's adapter from config. Network
// printers are written from this process unless a proxy URL is configured.
func newStation(cfg config.StationConfig, proxyCfg config.ProxyConfig, reg *registry.Registry, store *settings.Store, q *queue.Service) (*station.Station, error) {
	profile := reg.Default()
	if cfg.ProfileID != "" {
		p, err := reg.ByID(cfg.ProfileID)
		if err != nil {
			return nil, err
		}
		profile = p
	}

	opts := []printer.Option{
		printer.WithHostStore(store),
	}
	if cfg.ProxyURL != "" {
		opts = append(opts, printer.WithProxy(printer.NewHTTPProxy(cfg.ProxyURL)))
	} else {
		opts = append(opts, printer.WithProxy(printer.DirectProxy{DialTimeout: proxyCfg.DialTimeout}))
	}

	picker := &printer.GousbPicker{Choose: printer.FirstDevice}
	adapter, err := printer.NewAdapter(printer.TransportKind(cfg.Transport), reg, profile, picker, opts...)
	if err != nil {
		return nil, err
	}

	target := printer.Target{
		ProfileID: profile.ID,
		Host:      cfg.Host,
		Port:      cfg.Port,
		Device:    cfg.Device,
		Baud:      cfg.Baud,
	}
	return station.New(cfg.Name, q, adapter, profile, target,
		station.WithOpenDrawer(cfg.OpenDrawer),
		station.WithRenewInterval(cfg.RenewInterval),
	), nil
}
