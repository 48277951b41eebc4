package health

import (
	"testing"
	"time"

	"otp-gateway/internal/telemetry"
)

func defaultThresholds() Thresholds {
	return Thresholds{
		BatteryLow:       20,
		SignalLow:        -90,
		HeartbeatTimeout: time.Minute,
	}
}

func TestEvaluateNoNodesIsUnknown(t *testing.T) {
	reg := telemetry.New(nil)
	e := New(reg, defaultThresholds(), func() QueueStats { return QueueStats{} }, nil, nil)

	report := e.Evaluate()
	if report.Status != StatusUnknown {
		t.Fatalf("Status = %q, want unknown", report.Status)
	}
}

func TestEvaluateHealthyNode(t *testing.T) {
	reg := telemetry.New(nil)
	reg.Update(telemetry.Update{NodeID: "n1", BatteryMV: 4000, WifiRSSI: -50})
	e := New(reg, defaultThresholds(), func() QueueStats { return QueueStats{Depth: 1, MaxSize: 100} }, nil, nil)

	report := e.Evaluate()
	if report.Status != StatusHealthy {
		t.Fatalf("Status = %q, want healthy; issues=%v", report.Status, report.Issues)
	}
}

func TestEvaluateLowBatteryDegrades(t *testing.T) {
	reg := telemetry.New(nil)
	reg.Update(telemetry.Update{NodeID: "n1", BatteryMV: 3050, WifiRSSI: -50})
	e := New(reg, defaultThresholds(), func() QueueStats { return QueueStats{Depth: 1, MaxSize: 100} }, nil, nil)

	report := e.Evaluate()
	if report.Status != StatusDegraded {
		t.Fatalf("Status = %q, want degraded; issues=%v", report.Status, report.Issues)
	}
}

func TestEvaluateHeartbeatTimeoutIsCritical(t *testing.T) {
	reg := telemetry.New(nil)
	reg.Update(telemetry.Update{NodeID: "n1", BatteryMV: 4000, WifiRSSI: -50})

	th := defaultThresholds()
	th.HeartbeatTimeout = -time.Second // any sample is already "stale"
	e := New(reg, th, func() QueueStats { return QueueStats{Depth: 1, MaxSize: 100} }, nil, nil)

	report := e.Evaluate()
	if report.Status != StatusCritical {
		t.Fatalf("Status = %q, want critical", report.Status)
	}
}

func TestEvaluateQueueNearCapacityIsCritical(t *testing.T) {
	reg := telemetry.New(nil)
	reg.Update(telemetry.Update{NodeID: "n1", BatteryMV: 4000, WifiRSSI: -50})
	e := New(reg, defaultThresholds(), func() QueueStats { return QueueStats{Depth: 95, MaxSize: 100} }, nil, nil)

	report := e.Evaluate()
	if report.Status != StatusCritical {
		t.Fatalf("Status = %q, want critical; issues=%v", report.Status, report.Issues)
	}
}

func TestEvaluateQueueElevatedDegrades(t *testing.T) {
	reg := telemetry.New(nil)
	reg.Update(telemetry.Update{NodeID: "n1", BatteryMV: 4000, WifiRSSI: -50})
	e := New(reg, defaultThresholds(), func() QueueStats { return QueueStats{Depth: 75, MaxSize: 100} }, nil, nil)

	report := e.Evaluate()
	if report.Status != StatusDegraded {
		t.Fatalf("Status = %q, want degraded; issues=%v", report.Status, report.Issues)
	}
}

func TestEvaluateCriticalNeverDowngradedByLaterDegraded(t *testing.T) {
	reg := telemetry.New(nil)
	reg.Update(telemetry.Update{NodeID: "n1", BatteryMV: 3050, WifiRSSI: -50})
	th := defaultThresholds()
	th.HeartbeatTimeout = -time.Second
	e := New(reg, th, func() QueueStats { return QueueStats{Depth: 75, MaxSize: 100} }, nil, nil)

	report := e.Evaluate()
	if report.Status != StatusCritical {
		t.Fatalf("Status = %q, want critical (must not be downgraded)", report.Status)
	}
}

func TestEvaluateSentinelRSSIIgnored(t *testing.T) {
	reg := telemetry.New(nil)
	reg.Update(telemetry.Update{NodeID: "n1", BatteryMV: 4000, WifiRSSI: -127})
	e := New(reg, defaultThresholds(), func() QueueStats { return QueueStats{Depth: 1, MaxSize: 100} }, nil, nil)

	report := e.Evaluate()
	if report.Status != StatusHealthy {
		t.Fatalf("Status = %q, want healthy (sentinel -127 rssi must not trigger signal-weak)", report.Status)
	}
}
