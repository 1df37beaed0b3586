package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/edgeflow/kilnd/internal/kiln/eventbus"
)

// InfluxConfig configures the optional InfluxDB mirror, grounded on the
// teacher's InfluxDBNode (pkg/nodes/database/influxdb.go).
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// InfluxSink writes every bus event as a single point, tagged by event
// kind, with the event's payload fields flattened into the point's field
// set. Unlike InfluxDBNode's generic multi-operation Execute, this sink
// only ever writes: there is no query/delete path in the control loop.
type InfluxSink struct {
	cfg      InfluxConfig
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxSink creates and connects an InfluxSink. The caller should call
// Close when the sink is no longer needed.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		cfg:      cfg,
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

func (s *InfluxSink) Name() string { return "influxdb" }

// Dispatch flattens ev.Payload's fields via a JSON round-trip (the payload
// structs are simple flat value types) and writes one point per event.
func (s *InfluxSink) Dispatch(ctx context.Context, ev eventbus.Event) error {
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("flatten event payload: %w", err)
	}
	if len(fields) == 0 {
		return nil
	}

	tags := map[string]string{"kind": string(ev.Kind)}
	point := write.NewPoint(s.cfg.Measurement, tags, fields, time.Now())

	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write point: %w", err)
	}
	return nil
}

// Close releases the underlying InfluxDB client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
