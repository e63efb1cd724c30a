// Command pcf-relay drives relay actuators on PCF8574 I2C expanders with
// time-proportioned power control, and exposes them over HTTP and MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/pcf-relay/internal/actuator"
	"github.com/sweeney/pcf-relay/internal/bus"
	"github.com/sweeney/pcf-relay/internal/config"
	"github.com/sweeney/pcf-relay/internal/expander"
	"github.com/sweeney/pcf-relay/internal/gpio"
	"github.com/sweeney/pcf-relay/internal/logic"
	"github.com/sweeney/pcf-relay/internal/mqtt"
	"github.com/sweeney/pcf-relay/internal/status"
	"github.com/sweeney/pcf-relay/internal/web"
)

// overrides holds command-line values that replace config entries.
// Empty means "keep"; "off" disables the listener or the broker.
type overrides struct {
	httpAddr  string
	broker    string
	stateFile string
}

func main() {
	configPath := flag.String("config", "", "Config file (default "+config.DefaultPath+" if present)")
	httpAddr := flag.String("http", "", `HTTP listen address, overrides http.addr ("off" disables)`)
	broker := flag.String("broker", "", `MQTT broker URL, overrides mqtt.broker ("off" disables)`)
	stateFile := flag.String("state-file", "", "Register state file, overrides state_file")
	debug := flag.Bool("debug", false, "Development logging at debug level")
	printConfig := flag.Bool("print-config", false, "Print the resolved config as YAML and exit")
	printState := flag.Bool("print-state", false, "Print the persisted register state and exit")

	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := loadConfig(resolveConfigPath(*configPath), overrides{
		httpAddr:  *httpAddr,
		broker:    *broker,
		stateFile: *stateFile,
	})
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	switch {
	case *printConfig:
		out, err := cfg.Dump()
		if err != nil {
			logger.Fatal("dump config", zap.Error(err))
		}
		os.Stdout.Write(out)
		return
	case *printState:
		if err := writeState(os.Stdout, expander.NewFilePersister(cfg.StateFile)); err != nil {
			logger.Fatal("read state", zap.Error(err))
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// resolveConfigPath falls back to the default path only when it exists, so
// the daemon runs on defaults alone.
func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if _, err := os.Stat(config.DefaultPath); err == nil {
		return config.DefaultPath
	}
	return ""
}

func loadConfig(path string, o overrides) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, o overrides) {
	switch o.httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = o.httpAddr
	}
	switch o.broker {
	case "":
	case "off":
		cfg.MQTT.Broker = ""
	default:
		cfg.MQTT.Broker = o.broker
	}
	if o.stateFile != "" {
		cfg.StateFile = o.stateFile
	}
}

// writeState prints the persisted registers, one chip per line.
func writeState(w io.Writer, p expander.Persister) error {
	regs, err := p.Load()
	if err != nil {
		return err
	}
	store := expander.NewStore(expander.NewMemoryPersister(regs), zap.NewNop())
	store.Load()
	addrs := store.Addresses()
	if len(addrs) == 0 {
		fmt.Fprintln(w, "no persisted state")
		return nil
	}
	for _, addr := range addrs {
		v, _ := store.CurrentValue(addr)
		fmt.Fprintf(w, "%s: 0x%02x (%08b)\n", bus.FormatAddress(addr), v, v)
	}
	return nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	acfgs, err := cfg.ActuatorConfigs()
	if err != nil {
		return err
	}
	if len(acfgs) == 0 {
		logger.Warn("no actuators configured")
	}

	w, err := bus.NewRealWriter(cfg.Bus.Name)
	if err != nil {
		return fmt.Errorf("init bus: %w", err)
	}
	defer w.Close()

	driver := expander.New(w, expander.NewFilePersister(cfg.StateFile), logger)
	driver.Load()

	events := make(chan logic.Event, 64)
	notify := func(e logic.Event) {
		select {
		case events <- e:
		default:
			logger.Warn("event queue full, dropped", zap.String("actuator", e.Actuator), zap.String("event", string(e.Type)))
		}
	}

	set, err := actuator.NewSet(acfgs, driver, logger.Named("actuator"),
		actuator.WithIdlePoll(cfg.IdlePoll),
		actuator.WithNotifier(notify))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failed, err := set.Start(ctx)
	if err != nil {
		return fmt.Errorf("start actuators: %w", err)
	}

	var line gpio.Line = gpio.NopLine{}
	if cfg.EnableLine.Enabled() {
		rl, err := gpio.NewRealLine(cfg.EnableLine.Chip, cfg.EnableLine.Line, cfg.EnableLine.ActiveLow)
		if err != nil {
			set.Stop()
			set.DisengageAll()
			return fmt.Errorf("init enable line: %w", err)
		}
		line = rl
	}
	supply := newSupply(line, driver, logger.Named("supply"))
	if failed == 0 {
		supply.enable()
	} else {
		logger.Warn("relay supply held off until the bus recovers", zap.Int("failed_writes", failed))
	}

	var publisher interface {
		mqtt.Publisher
		mqtt.ConnectionStatus
	} = discardPublisher{}
	if cfg.MQTT.Broker != "" {
		publisher = mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			OnCommand: func(name string, cmd mqtt.Command) {
				applyCommand(set, name, cmd, logger)
			},
		}, logger.Named("mqtt"))
	}

	tracker := status.NewTracker(time.Now(), uuid.NewString(), status.Config{
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		IdlePollMs:  cfg.IdlePoll.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		HTTPAddr:    cfg.HTTP.Addr,
		StateFile:   cfg.StateFile,
		Bus:         cfg.Bus.Name,
		EnableLine:  cfg.EnableLine.Line,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	refreshTracker(tracker, set, driver, publisher)

	snap := tracker.Snapshot()
	if err := publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}); err != nil {
		logger.Warn("publish startup event failed", zap.Error(err))
	}

	var (
		hub *web.Hub
		srv *web.Server
	)
	if cfg.HTTP.Addr != "" {
		hub = web.NewHub(logger.Named("ws"))
		go hub.Run(ctx)

		srv = web.New(cfg.HTTP.Addr, web.Deps{
			Tracker:   tracker,
			Actuators: set,
			Registers: driver.Store(),
			Hub:       hub,
		}, logger.Named("http"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
	}

	logger.Info("started",
		zap.Int("actuators", len(acfgs)),
		zap.String("state_file", cfg.StateFile),
		zap.String("broker", cfg.MQTT.Broker),
		zap.Duration("heartbeat", cfg.MQTT.Heartbeat))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loop{
		set:        set,
		driver:     driverView{driver},
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		hub:        hub,
		supply:     supply,
		stopInputs: func() { stopInputs(srv, publisher, logger) },
		heartbeat:  cfg.MQTT.Heartbeat,
		now:        time.Now,
		logger:     logger,
	}, ticker.C, sigCh, events)
}

// stopInputs waits for in-flight HTTP requests and disconnects MQTT, so no
// command reaches the actuators while they are being switched off.
func stopInputs(srv *web.Server, publisher mqtt.Publisher, logger *zap.Logger) {
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
	}
	if err := publisher.Close(); err != nil {
		logger.Warn("mqtt close", zap.Error(err))
	}
}

// applyCommand executes one remote command. {"state":"ON"} without a power
// engages at full power.
func applyCommand(set *actuator.Set, name string, cmd mqtt.Command, logger *zap.Logger) {
	ctrl, err := set.Get(name)
	if err != nil {
		logger.Warn("command for unknown actuator", zap.String("actuator", name))
		return
	}

	switch {
	case cmd.State != nil && *cmd.State == logic.StateOn:
		power := logic.FullPower
		if cmd.Power != nil {
			power = *cmd.Power
		}
		err = ctrl.Engage(power)
	case cmd.State != nil:
		err = ctrl.Disengage()
	case cmd.Power != nil:
		ctrl.SetPower(*cmd.Power)
	}
	if err != nil {
		logger.Warn("command write failed", zap.String("actuator", name), zap.Error(err))
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// discardPublisher stands in when MQTT is disabled.
type discardPublisher struct{}

func (discardPublisher) Publish(logic.Event) error            { return nil }
func (discardPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (discardPublisher) Close() error                         { return nil }
func (discardPublisher) IsConnected() bool                    { return false }
