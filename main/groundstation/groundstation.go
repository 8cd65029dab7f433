package main

import (
	"context"
	"github.com/jd3nn1s/groundstation"
	"github.com/jd3nn1s/groundstation/config"
	"github.com/jd3nn1s/groundstation/forwarder"
	"github.com/jd3nn1s/groundstation/logsink"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

var configPath = flag.String("config", "groundstation.toml", "configuration file")
var testMode = flag.Bool("testmode", false, "generate test data")
var autoLog = flag.Bool("log", false, "start logging as soon as the flight controller is connected")
var printTelemetry = flag.Bool("print-telemetry", false, "print telemetry to stdout")

func main() {
	log.SetLevel(log.InfoLevel)
	flag.Parse()

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil || flag.CommandLine.Changed("config") {
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatal("unable to load configuration: ", err)
		}
	}
	if err := cfg.Validate(*testMode); err != nil {
		log.Fatal(err)
	}
	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := groundstation.NewHub()
	defer hub.Close()

	closers, err := subscribe(hub, cfg)
	for _, c := range closers {
		defer c.Close()
	}
	if err != nil {
		log.Fatal("unable to start subscriber: ", err)
	}

	station := groundstation.NewStation(groundstation.StationConfig{
		Engine: groundstation.EngineConfig{
			Capacity:       cfg.Battery.CapacityMAh,
			LowCellVoltage: cfg.Battery.LowCellVoltage,
		},
		Recorder: logsink.New(backend(cfg.Logging), cfg.Logging.QueueSize),
		AutoLog:  cfg.Logging.Autostart || *autoLog,
	}, hub)

	if *testMode {
		err = station.Run(ctx, groundstation.NewSimulator(groundstation.SimulatorConfig{}))
	} else {
		link := groundstation.NewLink(groundstation.LinkConfig{
			Port:        cfg.Serial.Port,
			BaudRate:    cfg.Serial.Baud,
			ReadTimeout: cfg.Serial.ReadTimeout.Duration,
		}, station)
		err = groundstation.Retry(ctx, link, cfg.Reconnect.Attempts, cfg.Reconnect.Delay.Duration)
	}
	_ = station.Disconnect()

	log.WithFields(station.Stats().Fields()).Info("ground station stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func backend(cfg config.Logging) logsink.Backend {
	if strings.ToLower(cfg.Backend) == config.BackendSQLite {
		return logsink.NewSQLiteBackend(cfg.Dir)
	}
	return logsink.NewCSVBackend(cfg.Dir)
}

// subscribe attaches the configured live subscribers. The returned closers
// release them on exit, also when an error is returned.
func subscribe(hub *groundstation.Hub, cfg config.Config) ([]io.Closer, error) {
	var closers []io.Closer
	buffer := cfg.Subscribers.Buffer

	if *printTelemetry || cfg.Printer.Enable {
		hub.Subscribe(forwarder.NewPrinter(os.Stdout), buffer)
	}
	if cfg.UDP.Enable {
		udp, err := forwarder.NewUDPForwarder(forwarder.UDPConfig{
			Server: cfg.UDP.Server,
			Port:   cfg.UDP.Port,
		})
		if err != nil {
			return closers, err
		}
		closers = append(closers, udp)
		hub.Subscribe(udp, buffer)
	}
	if cfg.MQTT.Enable {
		mq := forwarder.NewMQTTForwarder(forwarder.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.Topic,
			QoS:         byte(cfg.MQTT.QoS),
		})
		closers = append(closers, mq)
		if err := mq.Connect(); err != nil {
			return closers, err
		}
		hub.Subscribe(mq, buffer)
	}
	return closers, nil
}
