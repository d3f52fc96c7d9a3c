package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/fieldwire/modgate/internal/api"
	"github.com/fieldwire/modgate/internal/api/middleware"
	"github.com/fieldwire/modgate/internal/config"
	"github.com/fieldwire/modgate/internal/gateway"
	"github.com/fieldwire/modgate/internal/health"
	"github.com/fieldwire/modgate/internal/historian"
	"github.com/fieldwire/modgate/internal/logger"
	"github.com/fieldwire/modgate/internal/model"
	"github.com/fieldwire/modgate/internal/perfmon"
	"github.com/fieldwire/modgate/internal/sink"
	"github.com/fieldwire/modgate/internal/storage"
	"github.com/fieldwire/modgate/internal/transport"
	"github.com/fieldwire/modgate/internal/websocket"
	"github.com/fieldwire/modgate/internal/worker"
)

var Version = "0.1.0"

func main() {
	fmt.Printf("modgate v%s — Modbus TCP/RTU polling gateway\n", Version)

	configPath := os.Getenv("MODGATE_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logDir := ""
	if cfg.Logger.File != "" {
		logDir = cfg.Logger.File
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		LogDir:     logDir,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
	}); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()
	zapLogger := logger.Get()

	core := gateway.New(zapLogger)
	defer core.Close()

	monitor := perfmon.New()
	core.SetPerformanceSink(monitor.Observe)

	masterKey := os.Getenv("MODGATE_MASTER_KEY")
	snapshotStore, err := storage.NewSnapshotStore(cfg.Storage.SqlitePath, masterKey)
	if err != nil {
		zapLogger.Fatal("open snapshot store", zap.Error(err))
	}
	defer snapshotStore.Close()

	// Mirror the secrets carried in config at rest, encrypted, so an
	// operator inspecting the sqlite file directly never sees them in
	// the clear.
	for key, value := range map[string]string{
		"jwt_secret":   cfg.Auth.JWTSecret,
		"influx_token": cfg.Storage.InfluxToken,
	} {
		if value == "" {
			continue
		}
		if err := snapshotStore.SaveSecret(key, value); err != nil {
			zapLogger.Warn("persist secret", zap.String("key", key), zap.Error(err))
		}
	}

	var mirror *storage.ValueMirror
	if cfg.Storage.RedisAddr != "" {
		mirror, err = storage.NewValueMirror(storage.RedisMirrorConfig{Addr: cfg.Storage.RedisAddr})
		if err != nil {
			zapLogger.Warn("redis mirror unavailable, continuing without it", zap.Error(err))
		} else {
			defer mirror.Close()
		}
	}

	var influxSink *historian.InfluxSink
	if cfg.Storage.InfluxURL != "" {
		influxSink, err = historian.NewInfluxSink(historian.InfluxConfig{
			URL:    cfg.Storage.InfluxURL,
			Token:  cfg.Storage.InfluxToken,
			Bucket: cfg.Storage.InfluxBucket,
		}, zapLogger)
		if err != nil {
			zapLogger.Warn("influxdb historian unavailable, continuing without it", zap.Error(err))
		} else {
			defer influxSink.Close()
		}
	}

	var mqttSink *sink.MQTTRepublisher
	if cfg.Storage.MQTTBroker != "" {
		mqttSink, err = sink.NewMQTTRepublisher(sink.MQTTConfig{Broker: cfg.Storage.MQTTBroker}, zapLogger)
		if err != nil {
			zapLogger.Warn("mqtt republish unavailable, continuing without it", zap.Error(err))
		} else {
			defer mqttSink.Close()
		}
	}

	archiveStop := make(chan struct{})
	defer close(archiveStop)
	if cfg.Storage.S3Bucket != "" {
		archiver, err := sink.NewS3Archiver(sink.S3ArchiveConfig{Bucket: cfg.Storage.S3Bucket}, zapLogger)
		if err != nil {
			zapLogger.Warn("s3 snapshot archival unavailable, continuing without it", zap.Error(err))
		} else {
			go archiver.RunPeriodic(cfg.Storage.SqlitePath, 1*time.Hour, archiveStop)
		}
	}

	core.SetUpdateSink(func(deviceID string, vars []model.Variable) {
		for _, v := range vars {
			if err := snapshotStore.SaveValue(deviceID, v.TagID, v.Value); err != nil {
				zapLogger.Warn("save value snapshot", zap.String("device", deviceID), zap.Error(err))
			}
			if mirror != nil {
				_ = mirror.SetValue(context.Background(), deviceID, v.TagID, v.Value)
			}
		}
		if influxSink != nil {
			influxSink.Observe(deviceID, vars)
		}
		if mqttSink != nil {
			mqttSink.Observe(deviceID, vars)
		}
	})

	wsHub := websocket.NewHub()
	go wsHub.Run()

	core.SetStatusSink(func(deviceID string, online bool) {
		wsHub.BroadcastDeviceStatus(deviceID, online)
	})

	templates := make(map[string]*config.TemplateConfig)
	for _, dc := range cfg.Devices {
		tpl, err := config.LoadTemplate(dc.Template)
		if err != nil {
			zapLogger.Fatal("load device template", zap.String("device", dc.Name), zap.Error(err))
		}
		templates[dc.Name] = tpl

		pollGroups, err := tpl.PollGroups()
		if err != nil {
			zapLogger.Fatal("build poll groups", zap.String("device", dc.Name), zap.Error(err))
		}
		actions, err := tpl.Actions()
		if err != nil {
			zapLogger.Fatal("build actions", zap.String("device", dc.Name), zap.Error(err))
		}

		mode, connKey, dialer, err := connectionFor(dc)
		if err != nil {
			zapLogger.Fatal("build device connection", zap.String("device", dc.Name), zap.Error(err))
		}

		spec := worker.DeviceSpec{
			DeviceID:      dc.Name,
			UnitID:        dc.Channel.UnitID,
			ConnectionKey: connKey,
			PollGroups:    pollGroups,
			Actions:       actions,
		}
		if err := core.AddDevice(worker.ModbusFactory, mode, spec, dialer); err != nil {
			zapLogger.Fatal("add device", zap.String("device", dc.Name), zap.Error(err))
		}
		if err := snapshotStore.UpsertDevice(dc.Name, string(worker.ModbusFactory), false); err != nil {
			zapLogger.Warn("persist device record", zap.String("device", dc.Name), zap.Error(err))
		}
	}

	hc := health.NewHealthChecker()
	hc.RegisterCheck("device_online", health.DeviceOnlineHealthCheck(core), 15*time.Second)
	hc.StartPeriodicChecks(context.Background())

	app := fiber.New(fiber.Config{AppName: "modgate v" + Version})
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(perfmon.FiberMiddleware(monitor))

	facade := api.NewApp(core, templates, wsHub, monitor, hc, cfg, zapLogger)
	facade.AuthEnabled = cfg.Auth.Enabled
	facade.JWTConfig = middleware.JWTConfig{SecretKey: cfg.Auth.JWTSecret}
	facade.Register(app)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	zapLogger.Info("modgate listening", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		zapLogger.Fatal("server stopped", zap.Error(err))
	}
}

// connectionFor derives a worker client mode, transport-pool key, and
// dialer from a device's transport config.
func connectionFor(dc config.DeviceConfig) (worker.ClientMode, string, transport.Dialer, error) {
	t := dc.Channel.Transport
	switch t.Type {
	case config.TransportTCP:
		return worker.ClientModeTCP, transport.TCPKey(t.Host, t.Port), transport.DialTCP(t.Host, t.Port), nil
	case config.TransportUnix:
		return worker.ClientModeTCP, transport.UnixKey(t.Path), transport.DialUnix(t.Path), nil
	case config.TransportRTU:
		parity, err := parseParity(t.Parity)
		if err != nil {
			return 0, "", nil, err
		}
		stopBits, err := parseStopBits(t.StopBits)
		if err != nil {
			return 0, "", nil, err
		}
		dialer := transport.DialRTU(transport.SerialConfig{
			DevicePath: t.Device,
			BaudRate:   t.BaudRate,
			DataBits:   t.DataBits,
			Parity:     parity,
			StopBits:   stopBits,
		})
		return worker.ClientModeRTU, transport.RTUKey(t.Device), dialer, nil
	default:
		return 0, "", nil, fmt.Errorf("unknown transport type %q", t.Type)
	}
}

func parseParity(p string) (serial.Parity, error) {
	switch p {
	case "", "N", "none":
		return serial.NoParity, nil
	case "E", "even":
		return serial.EvenParity, nil
	case "O", "odd":
		return serial.OddParity, nil
	default:
		return 0, fmt.Errorf("unknown parity %q", p)
	}
}

func parseStopBits(n int) (serial.StopBits, error) {
	switch n {
	case 0, 1:
		return serial.OneStopBit, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return 0, fmt.Errorf("unknown stop bits %d", n)
	}
}
