package gateway

import (
	"testing"
	"time"
)

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{channelStates: map[string]channelState{"wecom": {Running: true}}}
	if svc.isReady() {
		t.Fatal("expected not ready without provider health")
	}

	svc.providerLastOKAt = time.Now().UTC()
	if !svc.isReady() {
		t.Fatal("expected ready with running channel and healthy provider")
	}

	svc.providerLastErr = "boom"
	if svc.isReady() {
		t.Fatal("expected not ready when provider has error")
	}

	svc.providerLastErr = ""
	svc.channelStates["wecom"] = channelState{Running: false, Error: "exited"}
	if svc.isReady() {
		t.Fatal("expected not ready with no running channel")
	}
}

func TestCurrentStatus(t *testing.T) {
	t.Parallel()

	svc := &Service{channelStates: map[string]channelState{"wecom": {Running: true}}}
	svc.startedAt = time.Now().UTC().Add(-90 * time.Second)
	svc.providerLastOKAt = time.Now().UTC()

	status := svc.currentStatus("ok")
	if status.Status != "ok" {
		t.Fatalf("status = %q", status.Status)
	}
	if status.UptimeSeconds < 89 {
		t.Fatalf("uptime = %d, want at least 89", status.UptimeSeconds)
	}
	if !status.Channels["wecom"].Running {
		t.Fatal("wecom channel should report running")
	}
	if status.ProviderLastOKAt == "" {
		t.Fatal("provider last ok timestamp missing")
	}
}
