package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"face-attendance/config"
	"face-attendance/internal/events"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// publishTimeout bounds how long one publish waits for the broker.
const publishTimeout = 5 * time.Second

// Client veröffentlicht Pipeline-Ereignisse an einen MQTT-Broker
type Client struct {
	config config.MQTTConfig
	client mqtt.Client
}

// NewClient erstellt einen neuen MQTT-Client
func NewClient(cfg config.MQTTConfig) *Client {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "face-attendance"
	}
	return &Client{config: cfg}
}

// Start startet den MQTT-Client und verbindet ihn mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()

	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	// Optionale Authentifizierung
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Infof("Connected to MQTT broker at %s", brokerURL)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Errorf("MQTT connection lost: %v", err)
	})

	// Automatische Wiederverbindung
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT client connected successfully")
	return nil
}

// Stop beendet den MQTT-Client
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		c.client.Disconnect(250)
		log.Info("MQTT client disconnected")
	}
}

// IsConnected prüft, ob der Client verbunden ist
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Topic maps an event type to its topic, e.g. "attendance.recorded" to "<prefix>/attendance/recorded".
func (c *Client) Topic(t events.Type) string {
	return strings.TrimSuffix(c.config.TopicPrefix, "/") + "/" + strings.ReplaceAll(string(t), ".", "/")
}

// Publish implements events.Sink. The event is sent asynchronously; failures are only logged.
func (c *Client) Publish(ev events.Event) {
	if !c.IsConnected() {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("Failed to marshal %s for MQTT: %v", ev.Type, err)
		return
	}
	topic := c.Topic(ev.Type)
	go func() {
		if err := c.PublishMessage(topic, payload, false); err != nil {
			log.WithError(err).Warn("MQTT publish failed")
		}
	}()
}

// PublishMessage veröffentlicht eine Nachricht an ein MQTT-Topic
func (c *Client) PublishMessage(topic string, payload []byte, retain bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	token := c.client.Publish(topic, 1, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout publishing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}
