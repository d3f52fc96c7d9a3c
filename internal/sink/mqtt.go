// Package sink holds external republish/archival destinations the
// gateway can fan its updates and snapshots out to: an MQTT republish
// of every sample, and a periodic S3 archival of the durable sqlite
// snapshot.
package sink

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/fieldwire/modgate/internal/model"
)

// MQTTConfig holds the republish sink's broker and topic settings.
type MQTTConfig struct {
	Broker string
	ClientID string
	Username string
	Password string
	TopicPrefix string // samples publish to <prefix>/<device_id>/<tag_id>
	QoS byte
	Retain bool
}

// mqttSample is the JSON body published for one updated tag.
type mqttSample struct {
	DeviceID string `json:"device_id"`
	TagID string `json:"tag_id"`
	Value interface{} `json:"value"`
	Timestamp int64 `json:"timestamp"`
}

// MQTTRepublisher fans every gateway update out as MQTT messages, one
// per (device_id, tag_id), retained when cfg.Retain is set.
type MQTTRepublisher struct {
	client mqtt.Client
	cfg MQTTConfig
	logger *zap.Logger
}

// NewMQTTRepublisher connects to the broker and returns a ready
// republisher.
func NewMQTTRepublisher(cfg MQTTConfig, logger *zap.Logger) (*MQTTRepublisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("modgate_%d", time.Now().Unix())
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "modgate/values"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if token.Error() != nil {
		return nil, fmt.Errorf("sink: connect to mqtt broker: %w", token.Error())
	}

	return &MQTTRepublisher{client: client, cfg: cfg, logger: logger}, nil
}

// Observe implements the gateway.Core update-sink signature.
func (r *MQTTRepublisher) Observe(deviceID string, vars []model.Variable) {
	now := time.Now().Unix()
	for _, v := range vars {
		topic := fmt.Sprintf("%s/%s/%s", r.cfg.TopicPrefix, deviceID, v.TagID)
		payload, err := json.Marshal(mqttSample{
			DeviceID: deviceID,
			TagID: v.TagID,
			Value: v.Value.Any(),
			Timestamp: now,
		})
		if err != nil {
			continue
		}
		token := r.client.Publish(topic, r.cfg.QoS, r.cfg.Retain, payload)
		token.Wait()
		if token.Error() != nil {
			r.logger.Warn("sink: mqtt publish failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
}

// Close disconnects from the broker.
func (r *MQTTRepublisher) Close() {
	r.client.Disconnect(250)
}
