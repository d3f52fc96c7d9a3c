// Package historian writes every polled sample to a time-series
// database so values outlive the in-memory map and the sqlite
// last-known snapshot.
package historian

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/fieldwire/modgate/internal/model"
)

// InfluxConfig holds the connection settings for the InfluxDB sink.
type InfluxConfig struct {
	URL string
	Token string
	Org string
	Bucket string
	Measurement string
}

// InfluxSink appends one point per (device, tag) sample it observes,
// tagged by device_id and tag_id and carrying a single "value" field.
type InfluxSink struct {
	client influxdb2.Client
	writeAPI api.WriteAPIBlocking
	measurement string
	logger *zap.Logger
}

// NewInfluxSink dials InfluxDB and verifies connectivity with a health
// check before returning.
func NewInfluxSink(cfg InfluxConfig, logger *zap.Logger) (*InfluxSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("historian: connect to influxdb: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("historian: influxdb health check failed: %s", health.Status)
	}

	measurement := cfg.Measurement
	if measurement == "" {
		measurement = "modgate_samples"
	}

	return &InfluxSink{
		client: client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
		logger: logger,
	}, nil
}

// Observe implements the gateway.Core update-sink signature: one point
// per variable in the batch, all stamped with the same timestamp.
func (s *InfluxSink) Observe(deviceID string, vars []model.Variable) {
	now := time.Now()
	for _, v := range vars {
		if v.Value.IsNull() {
			continue
		}
		tags := map[string]string{
			"device_id": deviceID,
			"tag_id": v.TagID,
		}
		fields := map[string]interface{}{"value": v.Value.Any()}
		point := write.NewPoint(s.measurement, tags, fields, now)
		if err := s.writeAPI.WritePoint(context.Background(), point); err != nil {
			s.logger.Warn("historian: write point failed", zap.String("device", deviceID), zap.String("tag", v.TagID), zap.Error(err))
		}
	}
}

// Close releases the underlying InfluxDB client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
