package router

import "sort"

// StatusSnapshot is the orchestrator state reported to the host layer.
type StatusSnapshot struct {
    Running         bool            `json:"running" yaml:"running"`
    ConnectionState string          `json:"connection_state" yaml:"connection_state"`
    BoundPort       int             `json:"bound_port" yaml:"bound_port"`
    QueueSize       int             `json:"queue_size" yaml:"queue_size"`
    MaxQueueSize    int             `json:"max_queue_size" yaml:"max_queue_size"`
    WorkerThreads   int             `json:"worker_threads" yaml:"worker_threads"`
    RoutingStrategy string          `json:"routing_strategy" yaml:"routing_strategy"`
    DebugMode       bool            `json:"debug_mode" yaml:"debug_mode"`
    AutoReconnect   bool            `json:"auto_reconnect" yaml:"auto_reconnect"`
    Processed       uint64          `json:"processed" yaml:"processed"`
    DispatchErrors  uint64          `json:"dispatch_errors" yaml:"dispatch_errors"`
    Rejected        uint64          `json:"rejected" yaml:"rejected"`
    Evicted         uint64          `json:"evicted" yaml:"evicted"`
    Services        map[string]bool `json:"services" yaml:"services"`
}

// Pairs flattens the snapshot to k1, v1, k2, v2, ... with services last in
// name order as "service.<name>".
func (s StatusSnapshot) Pairs() []any {
    out := []any{
        "running", s.Running,
        "connection_state", s.ConnectionState,
        "bound_port", s.BoundPort,
        "queue_size", s.QueueSize,
        "max_queue_size", s.MaxQueueSize,
        "worker_threads", s.WorkerThreads,
        "routing_strategy", s.RoutingStrategy,
        "debug_mode", s.DebugMode,
        "auto_reconnect", s.AutoReconnect,
        "processed", s.Processed,
        "dispatch_errors", s.DispatchErrors,
        "rejected", s.Rejected,
    }
    names := make([]string, 0, len(s.Services))
    for n := range s.Services { names = append(names, n) }
    sort.Strings(names)
    for _, n := range names { out = append(out, "service."+n, s.Services[n]) }
    return out
}
