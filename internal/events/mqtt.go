package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mattjoyce/relwiz/internal/log"
)

// MQTTConfig configures the optional event mirror.
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
}

// MQTTMirror republishes events to <prefix>/releases/<id>/<type> at QoS 1.
type MQTTMirror struct {
	client paho.Client
	prefix string
	logger *slog.Logger
}

var ErrMQTTConnectTimeout = errors.New("mqtt connect timeout")

func NewMQTTMirror(cfg MQTTConfig) *MQTTMirror {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "relwiz"
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return newMQTTMirror(paho.NewClient(opts), cfg.TopicPrefix)
}

func newMQTTMirror(client paho.Client, prefix string) *MQTTMirror {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "relwiz"
	}
	return &MQTTMirror{client: client, prefix: prefix, logger: log.WithComponent("mqtt")}
}

// Connect waits up to 10s for the broker.
func (m *MQTTMirror) Connect() error {
	token := m.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return ErrMQTTConnectTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (m *MQTTMirror) Disconnect() {
	m.client.Disconnect(1000)
}

// Topic returns the mirror topic for e.
func (m *MQTTMirror) Topic(e Event) string {
	return fmt.Sprintf("%s/releases/%s/%s", m.prefix, e.ReleaseID, e.Type)
}

// Mirror publishes without waiting for the broker acknowledgement.
func (m *MQTTMirror) Mirror(e Event) {
	if !m.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		m.logger.Warn("mqtt mirror marshal failed", "error", err, "seq", e.Seq)
		return
	}
	m.client.Publish(m.Topic(e), 1, false, payload)
}
