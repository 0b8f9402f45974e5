// ufvbridge exposes UniFi Video cameras and their motion state to a
// smart-home platform.
//
// Cameras are discovered from every configured NVR at startup and
// registered as accessories; motion-enabled cameras also get a motion
// sensor backed by a per-NVR recording cache. Configuration is loaded
// from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	ufvbridge serve              Run the bridge
//	ufvbridge discover           List cameras on every configured NVR
//	ufvbridge version            Print version and build information
//	ufvbridge -o json discover   Output the camera list as JSON
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/nugget/ufvbridge/internal/accessory"
	"github.com/nugget/ufvbridge/internal/api"
	"github.com/nugget/ufvbridge/internal/bridge"
	"github.com/nugget/ufvbridge/internal/buildinfo"
	"github.com/nugget/ufvbridge/internal/config"
	"github.com/nugget/ufvbridge/internal/connwatch"
	"github.com/nugget/ufvbridge/internal/discovery"
	"github.com/nugget/ufvbridge/internal/motion"
	"github.com/nugget/ufvbridge/internal/mqtt"
	"github.com/nugget/ufvbridge/internal/ufv"
)

// shutdownTimeout bounds the MQTT offline message and the status
// server drain.
const shutdownTimeout = 5 * time.Second

// main builds the OS-level environment and hands off to [run] so the
// whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Logs go to stdout; the caller prints
// the returned error to stderr. Arguments are parsed by hand so run can
// be called concurrently from tests without flag package globals.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				return fmt.Errorf("unexpected argument: %s", args[i])
			}
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "discover":
		return runDiscover(ctx, stdout, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "ufvbridge - UniFi Video camera and motion bridge")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: ufvbridge [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Run the bridge")
	fmt.Fprintln(w, "  discover     List cameras on every configured NVR")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/ufvbridge/config.yaml, /etc/ufvbridge/config.yaml")
	return nil
}

// registry is the accessory platform the bridge publishes to.
type registry interface {
	accessory.Registry
	accessory.Inventory
}

// runServe is the primary operating mode. It discovers cameras on
// every NVR, registers them with the accessory platform, keeps motion
// state flowing until a shutdown signal arrives and then stops the
// caches, the MQTT connection and the status server in that order.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting ufvbridge", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Validate already rejected a bad level, so the error is ignored.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = newLogger(stdout, level, cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"nvrs", len(cfg.NVRs),
		"mqtt", cfg.MQTT.Configured(),
		"port", cfg.Listen.Port,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	connMgr := connwatch.NewManager(logger)
	defer connMgr.Stop()

	caches := motion.NewRegistry(logger)
	defer caches.StopAll()

	// --- Accessory registry ---
	var reg registry
	var mqttPub *mqtt.Publisher
	var logReg *accessory.LogRegistry
	mqttDone := make(chan struct{})
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		mqttPub = mqtt.New(cfg.MQTT, instanceID, logger)
		reg = mqttPub

		go func() {
			defer close(mqttDone)
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()

		connMgr.Watch(ctx, connwatch.WatcherConfig{
			Name:    "mqtt",
			Kind:    connwatch.KindMQTT,
			Probe:   mqttPub.AwaitConnection,
			Backoff: connwatch.DefaultBackoffConfig(),
			Logger:  logger,
		})

		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"instance_id", instanceID,
		)
	} else {
		close(mqttDone)
		logReg = accessory.NewLogRegistry(logger)
		logReg.Start(ctx)
		reg = logReg
		logger.Info("mqtt publishing disabled (not configured), logging accessory state only")
	}

	// --- Discovery and motion ---
	b := bridge.New(bridge.Config{
		NVRs:     cfg.NVRs,
		Caches:   caches,
		Registry: reg,
		Logger:   logger,
	})
	b.Watch(ctx, connMgr)

	results := b.Setup(ctx)
	var cameras, sensors int
	for _, r := range results {
		cameras += r.Cameras
		sensors += r.MotionSensors
	}
	logger.Info("bridge ready", "nvrs", len(results), "cameras", cameras, "motion_sensors", sensors)

	// --- Status server ---
	var server *api.Server
	serverErr := make(chan error, 1)
	if cfg.Listen.Port != 0 {
		server = api.NewServer(cfg.Listen.Address, cfg.Listen.Port, api.Deps{
			Health:    connMgr,
			Caches:    caches,
			Inventory: reg,
		}, logger)
		go func() {
			serverErr <- server.Start(ctx)
		}()
	} else {
		logger.Info("status server disabled (listen.port is 0)")
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			cancel()
			return fmt.Errorf("status server failed: %w", err)
		}
		<-ctx.Done()
		logger.Info("shutdown signal received")
	}

	caches.StopAll()
	if logReg != nil {
		logReg.Wait()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if mqttPub != nil {
		if err := mqttPub.Stop(shutdownCtx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}
	}
	<-mqttDone

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown failed", "error", err)
		}
	}

	logger.Info("ufvbridge stopped")
	return nil
}

// nvrCameras is one NVR's entry in the discover output.
type nvrCameras struct {
	NVR     string                       `json:"nvr"`
	Error   string                       `json:"error,omitempty"`
	Cameras []discovery.CameraDescriptor `json:"cameras"`
	Motion  map[string]bool              `json:"motion_enabled"`
}

// runDiscover queries every configured NVR once and prints the cameras
// that would be registered. Stream URLs are printed with the API key
// masked.
func runDiscover(ctx context.Context, stdout io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	// Logs stay off stdout so JSON output remains parseable.
	logger := newLogger(io.Discard, level, cfg.LogFormat)

	out := make([]nvrCameras, 0, len(cfg.NVRs))
	for _, nc := range cfg.NVRs {
		entry := nvrCameras{
			NVR:     nc.Label(),
			Cameras: []discovery.CameraDescriptor{},
			Motion:  map[string]bool{},
		}

		discCtx, cancel := context.WithTimeout(ctx, bridge.DiscoveryTimeout)
		client := ufv.NewClient(nc, logger)
		found, err := discovery.NewResolver(nc, client, logger).Discover(discCtx)
		cancel()
		if err != nil {
			entry.Error = err.Error()
		}
		for _, r := range found {
			entry.Cameras = append(entry.Cameras, r.Camera.Redacted())
			entry.Motion[r.Camera.ID] = r.Motion.Enabled
		}
		out = append(out, entry)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, entry := range out {
		if entry.Error != "" {
			fmt.Fprintf(stdout, "%s: error: %s\n", entry.NVR, entry.Error)
			continue
		}
		fmt.Fprintf(stdout, "%s: %d camera(s)\n", entry.NVR, len(entry.Cameras))
		for _, cam := range entry.Cameras {
			state := "off"
			if entry.Motion[cam.ID] {
				state = "on"
			}
			fmt.Fprintf(stdout, "  %-20s %-10s motion:%-3s %dx%d@%d %s\n",
				cam.Name, cam.Model, state, cam.MaxWidth, cam.MaxHeight, cam.MaxFPS, cam.StreamSource)
		}
	}
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level. Format must be "text" or "json"; anything else means text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. Returns
// the parsed config and the path that was loaded.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
