package modbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestNewHealthReporter_DefaultInterval(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "modbus-01"})
	if h.interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", h.interval, defaultHealthInterval)
	}
}

func TestHealthReporter_DetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		summary    *CoverSummary
		wantStatus HealthStatus
		wantReason string
	}{
		{"mqtt down", false, &CoverSummary{Total: 1, Acquired: 1, Available: 1}, HealthDegraded, "MQTT disconnected"},
		{"all ready", true, &CoverSummary{Total: 2, Acquired: 2, Available: 2}, HealthHealthy, ""},
		{"no cover source", true, nil, HealthHealthy, ""},
		{"hub pending", true, &CoverSummary{Total: 3, Acquired: 1, Available: 1}, HealthDegraded, "2 of 3 covers waiting for hub"},
		{"cover unavailable", true, &CoverSummary{Total: 2, Acquired: 2, Available: 1}, HealthDegraded, "1 of 2 covers unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewMockMQTTClient()
			client.SetConnected(tt.connected)

			cfg := HealthReporterConfig{BridgeID: "modbus-01", Publisher: client}
			if tt.summary != nil {
				s := *tt.summary
				cfg.Covers = func() CoverSummary { return s }
			}
			h := NewHealthReporter(cfg)

			status, reason := h.determineStatus()
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("determineStatus() = %s %q, want %s %q", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_PublishNow(t *testing.T) {
	client := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "modbus-01",
		Version:   "1.2.3",
		Publisher: client,
		Covers:    func() CoverSummary { return CoverSummary{Total: 2, Acquired: 2, Available: 2} },
		Hubs: func() []HubStatus {
			return []HubStatus{{Name: "aac20", Address: "10.0.0.5:502", Connected: true, Reads: 12}}
		},
	})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	var msg HealthMessage
	pub := decodeLast(t, client, HealthTopic(), &msg)
	if !pub.Retained || pub.QoS != 1 {
		t.Errorf("health retained=%v qos=%d, want retained qos 1", pub.Retained, pub.QoS)
	}
	if msg.Status != HealthHealthy || msg.Version != "1.2.3" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.DevicesManaged != 2 || msg.Covers == nil || msg.Covers.Available != 2 {
		t.Errorf("covers = %+v, managed = %d", msg.Covers, msg.DevicesManaged)
	}
	if len(msg.Hubs) != 1 || msg.Hubs[0].Name != "aac20" || msg.Hubs[0].Reads != 12 {
		t.Errorf("hubs = %+v", msg.Hubs)
	}
}

func TestHealthReporter_StartingAndStopping(t *testing.T) {
	client := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "modbus-01",
		Interval:  time.Hour,
		Publisher: client,
	})

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	var msg HealthMessage
	decodeLast(t, client, HealthTopic(), &msg)
	if msg.Status != HealthStarting {
		t.Errorf("status = %s, want starting", msg.Status)
	}

	h.Start(context.Background())
	h.Stop()
	h.Stop() // idempotent

	decodeLast(t, client, HealthTopic(), &msg)
	if msg.Status != HealthStopping {
		t.Errorf("status = %s, want stopping", msg.Status)
	}
	if n := len(client.PublishedTo(HealthTopic())); n != 2 {
		t.Errorf("health messages = %d, want 2", n)
	}
}

func TestHealthReporter_Ticks(t *testing.T) {
	client := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "modbus-01",
		Interval:  10 * time.Millisecond,
		Publisher: client,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)
	defer h.Stop()

	waitFor(t, "periodic health", func() bool {
		return len(client.PublishedTo(HealthTopic())) >= 2
	})
}

func TestHealthReporter_NilPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "modbus-01"})
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() with nil publisher error = %v", err)
	}
}

func TestHealthReporter_LWT(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "modbus-01"})

	if h.GetLWTTopic() != "graylogic/health/modbus" {
		t.Errorf("GetLWTTopic() = %q", h.GetLWTTopic())
	}
	payload, err := h.GetLWTPayload()
	if err != nil {
		t.Fatalf("GetLWTPayload() error = %v", err)
	}
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != HealthOffline {
		t.Errorf("LWT status = %s, want offline", msg.Status)
	}
}
