// Package health implements the health evaluation state machine (C8):
// periodic evaluation of edge-node telemetry and queue utilization
// against configured thresholds, producing a Report and dispatching
// alerts when the gateway enters a degraded or critical state. Ported
// from the original gateway's HealthMonitor.evaluate/_check_loop.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-gateway/internal/telemetry"
)

// Status is the closed set of overall health states.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// severityRank orders statuses so evaluation can only escalate, never
// downgrade, within a single pass — mirrors the original's
// max(status, candidate, key=index) pattern, restricted to the three
// escalatable states; Unknown is assigned directly, never escalated
// into.
var severityRank = map[Status]int{
	StatusHealthy:  0,
	StatusDegraded: 1,
	StatusCritical: 2,
}

func escalate(current, candidate Status) Status {
	if severityRank[candidate] > severityRank[current] {
		return candidate
	}
	return current
}

// Thresholds configures evaluation.
type Thresholds struct {
	BatteryLow       int
	SignalLow        int
	HeartbeatTimeout time.Duration
	CheckInterval    time.Duration
}

// QueueStats is the subset of queue state the evaluator needs; supplied
// by a small closure rather than importing the queue package directly,
// keeping health decoupled from pipeline internals.
type QueueStats struct {
	Depth   int
	MaxSize int
}

// NodeReport is one node's contribution to a Report.
type NodeReport struct {
	BatteryPercent int     `json:"battery_percent"`
	BatteryMV      int     `json:"battery_mv"`
	WifiRSSI       int     `json:"wifi_rssi"`
	UptimeSec      int     `json:"uptime_sec"`
	WDTResets      int     `json:"wdt_resets"`
	LastSeen       float64 `json:"last_seen"`
	LastSeenAgoSec int     `json:"last_seen_ago_sec"`
	HeapFree       int     `json:"heap_free"`
}

// QueueReport is the queue section of a Report.
type QueueReport struct {
	Depth              int     `json:"depth"`
	MaxSize            int     `json:"max_size"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// Report is the structured health snapshot produced by Evaluate.
type Report struct {
	Status    Status                `json:"status"`
	Timestamp float64               `json:"timestamp"`
	Issues    []string              `json:"issues"`
	Nodes     map[string]NodeReport `json:"nodes"`
	Queue     QueueReport           `json:"queue"`
}

// AlertFunc is notified whenever evaluation produces a Degraded or
// Critical report.
type AlertFunc func(status Status, issues []string, report Report)

// Evaluator periodically scores gateway health.
type Evaluator struct {
	registry   *telemetry.Registry
	thresholds Thresholds
	queueFn    func() QueueStats
	logger     *zap.Logger
	onAlert    AlertFunc
}

// New builds an Evaluator. queueFn is polled at evaluation time for
// current queue depth/capacity.
func New(registry *telemetry.Registry, thresholds Thresholds, queueFn func() QueueStats, logger *zap.Logger, onAlert AlertFunc) *Evaluator {
	if thresholds.CheckInterval <= 0 {
		thresholds.CheckInterval = 30 * time.Second
	}
	return &Evaluator{registry: registry, thresholds: thresholds, queueFn: queueFn, logger: logger, onAlert: onAlert}
}

// Evaluate scores the current gateway state and returns a Report.
// Evaluation order within a node is: heartbeat timeout (direct
// Critical, no escalation check), then battery/signal/watchdog
// (escalate to Degraded). Queue utilization follows, then the
// no-nodes-registered override — all exactly as in the original.
func (e *Evaluator) Evaluate() Report {
	now := time.Now()
	status := StatusHealthy
	var issues []string

	nodes := e.registry.Snapshot()
	nodeReports := make(map[string]NodeReport, len(nodes))

	for nodeID, sample := range nodes {
		agoSec := int(now.Sub(sample.LastSeen).Seconds())

		if now.Sub(sample.LastSeen) > e.thresholds.HeartbeatTimeout {
			issues = append(issues, fmt.Sprintf("Node %s: heartbeat timeout (%ds ago)", nodeID, agoSec))
			status = StatusCritical
		} else if sample.BatteryPercent() < e.thresholds.BatteryLow {
			issues = append(issues, fmt.Sprintf("Node %s: battery low (%d%%)", nodeID, sample.BatteryPercent()))
			status = escalate(status, StatusDegraded)
		}

		if sample.WifiRSSI < e.thresholds.SignalLow && sample.WifiRSSI > -127 {
			issues = append(issues, fmt.Sprintf("Node %s: signal weak (%d dBm)", nodeID, sample.WifiRSSI))
			status = escalate(status, StatusDegraded)
		}

		if sample.WDTResets > 5 {
			issues = append(issues, fmt.Sprintf("Node %s: excessive watchdog resets (%d)", nodeID, sample.WDTResets))
			status = escalate(status, StatusDegraded)
		}

		nodeReports[nodeID] = NodeReport{
			BatteryPercent: sample.BatteryPercent(),
			BatteryMV:      sample.BatteryMV,
			WifiRSSI:       sample.WifiRSSI,
			UptimeSec:      sample.UptimeSec,
			WDTResets:      sample.WDTResets,
			LastSeen:       float64(sample.LastSeen.Unix()),
			LastSeenAgoSec: agoSec,
			HeapFree:       sample.HeapFree,
		}
	}

	queue := e.queueFn()
	utilizationPct := 0.0
	if queue.MaxSize > 0 {
		utilization := float64(queue.Depth) / float64(queue.MaxSize)
		utilizationPct = round1(utilization * 100)
		switch {
		case utilization > 0.9:
			issues = append(issues, fmt.Sprintf("Queue near capacity (%d/%d)", queue.Depth, queue.MaxSize))
			status = StatusCritical
		case utilization > 0.7:
			issues = append(issues, fmt.Sprintf("Queue elevated (%d/%d)", queue.Depth, queue.MaxSize))
			status = escalate(status, StatusDegraded)
		}
	}

	if len(nodes) == 0 {
		status = StatusUnknown
		issues = append(issues, "No edge nodes registered")
	}

	return Report{
		Status:    status,
		Timestamp: float64(now.Unix()),
		Issues:    issues,
		Nodes:     nodeReports,
		Queue: QueueReport{
			Depth:              queue.Depth,
			MaxSize:            queue.MaxSize,
			UtilizationPercent: utilizationPct,
		},
	}
}

// Run evaluates on Thresholds.CheckInterval until ctx is cancelled,
// dispatching alerts for any Degraded/Critical report.
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(e.thresholds.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := e.Evaluate()
			if (report.Status == StatusDegraded || report.Status == StatusCritical) && e.onAlert != nil {
				e.onAlert(report.Status, report.Issues, report)
			}
			if e.logger != nil {
				e.logger.Info("health evaluation", zap.String("status", string(report.Status)), zap.Int("issue_count", len(report.Issues)))
			}
		}
	}
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}
