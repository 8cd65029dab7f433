package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jd3nn1s/groundstation"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"sync/atomic"
	"time"
)

const (
	DefaultTopicPrefix = "groundstation"

	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

var (
	ErrMQTTNotConnected = errors.New("mqtt not connected")
	ErrMQTTTimeout      = errors.New("mqtt timeout")
)

var newClient = mqtt.NewClient

type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// MQTTForwarder publishes every record as JSON to <prefix>/<kind> and session
// state changes to <prefix>/state.
type MQTTForwarder struct {
	Config    MQTTConfig
	client    mqtt.Client
	connected atomic.Bool
}

func NewMQTTForwarder(config MQTTConfig) *MQTTForwarder {
	if config.TopicPrefix == "" {
		config.TopicPrefix = DefaultTopicPrefix
	}
	return &MQTTForwarder{Config: config}
}

func (m *MQTTForwarder) Name() string {
	return "mqtt " + m.Config.Broker
}

// Connect starts the client. An unreachable broker is not an error: the
// client retries in the background and updates are rejected until it is
// connected.
func (m *MQTTForwarder) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.Config.Broker)
	opts.SetClientID(m.Config.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		m.connected.Store(true)
		log.WithField("broker", m.Config.Broker).Info("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.connected.Store(false)
		log.WithError(err).WithField("broker", m.Config.Broker).Warn("mqtt connection lost")
	}

	m.client = newClient(opts)
	log.WithField("broker", m.Config.Broker).Info("connecting to mqtt broker")
	token := m.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// the client keeps retrying; OnConnect enables delivery
		log.WithField("broker", m.Config.Broker).Warn("mqtt broker not reachable yet, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, "mqtt connection failed")
	}
	m.connected.Store(true)
	return nil
}

func (m *MQTTForwarder) Topic(u groundstation.Update) string {
	if u.IsState() {
		return m.Config.TopicPrefix + "/state"
	}
	return fmt.Sprintf("%s/%s", m.Config.TopicPrefix, u.Record.Kind())
}

func (m *MQTTForwarder) Deliver(ctx context.Context, u groundstation.Update) error {
	if m.client == nil || !m.connected.Load() {
		return ErrMQTTNotConnected
	}

	var payload []byte
	var err error
	if u.IsState() {
		payload, err = json.Marshal(map[string]string{"state": u.State.String()})
	} else {
		payload, err = json.Marshal(u.Record)
	}
	if err != nil {
		return errors.Wrap(err, "unable to marshal payload")
	}

	topic := m.Topic(u)
	token := m.client.Publish(topic, m.Config.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Wrapf(ErrMQTTTimeout, "publish %s", topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish %s", topic)
	}
	return nil
}

func (m *MQTTForwarder) Close() error {
	if m.client != nil {
		// also stops a connect retry still in progress
		m.client.Disconnect(250)
		log.Info("mqtt disconnected")
	}
	m.connected.Store(false)
	return nil
}
