// Package telemetry implements the node telemetry registry (C7): a
// per-node latest-sample store fed by the HTTP telemetry ingress
// handler and consumed by the health evaluator. Ported from the
// original gateway's NodeTelemetry/update_telemetry pairing in
// health_monitor.py.
package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sample is one node's latest telemetry reading.
type Sample struct {
	NodeID       string
	BatteryMV    int
	WifiRSSI     int
	WifiState    int
	Reconnects   int
	WDTResets    int
	StoredSMSIDs int
	UptimeSec    int
	HeapFree     int
	LastSeen     time.Time
}

// BatteryPercent estimates charge from voltage: 3.0V=0%, 4.2V=100%,
// linear in between, carried from the original's battery_percent
// property.
func (s Sample) BatteryPercent() int {
	if s.BatteryMV <= 3000 {
		return 0
	}
	if s.BatteryMV >= 4200 {
		return 100
	}
	return (s.BatteryMV - 3000) / 12
}

// Update is one full telemetry reading ingested from a node.
// Registry.Update replaces every field of the stored sample, so callers
// pass the full reading each time rather than a diff.
type Update struct {
	NodeID       string
	BatteryMV    int
	WifiRSSI     int
	WifiState    int
	Reconnects   int
	WDTResets    int
	StoredSMSIDs int
	UptimeSec    int
	HeapFree     int
}

// Registry tracks the latest telemetry sample per node.
type Registry struct {
	mu     sync.RWMutex
	nodes  map[string]Sample
	logger *zap.Logger
}

// New builds an empty Registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{nodes: make(map[string]Sample), logger: logger}
}

// Update records a fresh telemetry reading for u.NodeID, registering
// the node if this is its first sample.
func (r *Registry) Update(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, known := r.nodes[u.NodeID]
	if !known && r.logger != nil {
		r.logger.Info("telemetry: new node registered", zap.String("node_id", u.NodeID))
	}

	r.nodes[u.NodeID] = Sample{
		NodeID:       u.NodeID,
		BatteryMV:    u.BatteryMV,
		WifiRSSI:     u.WifiRSSI,
		WifiState:    u.WifiState,
		Reconnects:   u.Reconnects,
		WDTResets:    u.WDTResets,
		StoredSMSIDs: u.StoredSMSIDs,
		UptimeSec:    u.UptimeSec,
		HeapFree:     u.HeapFree,
		LastSeen:     time.Now(),
	}
}

// Snapshot returns a copy of every node's latest sample.
func (r *Registry) Snapshot() map[string]Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Sample, len(r.nodes))
	for id, s := range r.nodes {
		out[id] = s
	}
	return out
}

// NodeCount reports how many distinct nodes have reported telemetry.
func (r *Registry) NodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
