package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"io"
	"os"
	"strings"
	"time"
)

const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
)

var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration read from a string such as "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "bad duration %q", text)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	LogLevel    string      `toml:"log_level"`
	Serial      Serial      `toml:"serial"`
	Reconnect   Reconnect   `toml:"reconnect"`
	Battery     Battery     `toml:"battery"`
	Logging     Logging     `toml:"logging"`
	Subscribers Subscribers `toml:"subscribers"`
	UDP         UDP         `toml:"udp"`
	MQTT        MQTT        `toml:"mqtt"`
	Printer     Printer     `toml:"printer"`
}

type Serial struct {
	Port        string   `toml:"port"`
	Baud        int      `toml:"baud"`
	ReadTimeout Duration `toml:"read_timeout"`
}

type Reconnect struct {
	Attempts int      `toml:"attempts"`
	Delay    Duration `toml:"delay"`
}

type Battery struct {
	CapacityMAh    float64 `toml:"capacity_mah"`
	LowCellVoltage float64 `toml:"low_cell_voltage"`
}

type Logging struct {
	Backend   string `toml:"backend"`
	Dir       string `toml:"dir"`
	QueueSize int    `toml:"queue_size"`
	Autostart bool   `toml:"autostart"`
}

type Subscribers struct {
	Buffer int `toml:"buffer"`
}

type UDP struct {
	Enable bool   `toml:"enable"`
	Server string `toml:"server"`
	Port   int    `toml:"port"`
}

type MQTT struct {
	Enable   bool   `toml:"enable"`
	Broker   string `toml:"broker"`
	ClientID string `toml:"client_id"`
	Topic    string `toml:"topic"`
	QoS      int    `toml:"qos"`
}

type Printer struct {
	Enable bool `toml:"enable"`
}

// Default returns the configuration used for every value a file leaves out.
func Default() Config {
	return Config{
		LogLevel: "info",
		Serial: Serial{
			Baud:        115200,
			ReadTimeout: Duration{500 * time.Millisecond},
		},
		Reconnect: Reconnect{
			Attempts: 5,
			Delay:    Duration{2 * time.Second},
		},
		Battery: Battery{
			CapacityMAh:    5000,
			LowCellVoltage: 3.6,
		},
		Logging: Logging{
			Backend:   BackendCSV,
			Dir:       "Sensor Log",
			QueueSize: 256,
		},
		Subscribers: Subscribers{Buffer: 32},
		UDP: UDP{
			Server: "127.0.0.1",
			Port:   14550,
		},
		MQTT: MQTT{
			Broker:   "tcp://127.0.0.1:1883",
			ClientID: "groundstation",
			Topic:    "groundstation/telemetry",
		},
	}
}

func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "unable to open config file")
	}
	defer f.Close()
	return LoadReader(f)
}

func LoadReader(r io.Reader) (Config, error) {
	cfg := Default()
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return Config{}, errors.Wrap(err, "unable to decode config")
	}
	for _, key := range md.Undecoded() {
		log.WithField("key", key.String()).Warn("unknown config key")
	}
	return cfg, nil
}

// Validate checks the configuration. The serial port is only required when
// the flight controller is not simulated.
func (c Config) Validate(simulated bool) error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(ErrInvalid, "log_level: %v", err)
	}
	if !simulated && c.Serial.Port == "" {
		return errors.Wrap(ErrInvalid, "serial.port is required")
	}
	if c.Serial.Baud <= 0 {
		return errors.Wrapf(ErrInvalid, "serial.baud %d", c.Serial.Baud)
	}
	if c.Battery.CapacityMAh <= 0 {
		return errors.Wrapf(ErrInvalid, "battery.capacity_mah %v", c.Battery.CapacityMAh)
	}
	switch strings.ToLower(c.Logging.Backend) {
	case BackendCSV, BackendSQLite:
	default:
		return errors.Wrapf(ErrInvalid, "logging.backend %q", c.Logging.Backend)
	}
	if c.Logging.Dir == "" {
		return errors.Wrap(ErrInvalid, "logging.dir is required")
	}
	if c.UDP.Enable && (c.UDP.Server == "" || c.UDP.Port <= 0) {
		return errors.Wrap(ErrInvalid, "udp requires server and port")
	}
	if c.MQTT.Enable && c.MQTT.Broker == "" {
		return errors.Wrap(ErrInvalid, "mqtt requires broker")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return errors.Wrapf(ErrInvalid, "mqtt.qos %d", c.MQTT.QoS)
	}
	return nil
}
