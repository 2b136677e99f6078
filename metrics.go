package clist

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricClistAddCount            = []string{"clist", "add", "count"}
	MetricClistViolationCount      = []string{"clist", "add", "violation", "count"}
	MetricClistLookupMissCount     = []string{"clist", "lookup", "miss", "count"}
	MetricClistForgetCount         = []string{"clist", "forget", "count"}
	MetricClistRelationships       = []string{"clist", "relationships"}
	MetricCommsPeersEstablished    = []string{"comms", "peers", "established"}
	MetricCommsInboundErrorCount   = []string{"comms", "inbound", "error", "count"}
	MetricCommsPeerAbortCount      = []string{"comms", "peer", "abort", "count"}
	MetricCommsJobQueueFullCount   = []string{"comms", "job", "queue", "full", "count"}
	MetricCommsOutboundErrorCount  = []string{"comms", "outbound", "error", "count"}
	MetricCommsMembershipLeftCount = []string{"comms", "membership", "left", "count"}
)

type TelemetryLabel string

var (
	LabelError     TelemetryLabel = "error"
	LabelPeerName  TelemetryLabel = "peer_name"
	LabelKernel    TelemetryLabel = "kernel_slot"
	LabelWire      TelemetryLabel = "wire_slot"
	LabelDirection TelemetryLabel = "direction"
	LabelRemoved   TelemetryLabel = "removed"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}

// withLabels returns the static labels followed by extra.
func withLabels(static []metrics.Label, extra ...metrics.Label) []metrics.Label {
	labels := make([]metrics.Label, 0, len(static)+len(extra))
	labels = append(labels, static...)
	return append(labels, extra...)
}
