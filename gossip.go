package clist

import (
	"log/slog"

	leg_metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/memberlist"
	"github.com/raskyld/clist/pkg/slot"
)

// gossip turns memberlist events into facts for the comms loop.
// Joining the cluster says nothing about our connection with the node,
// but a node leaving it will never use its references again.
type gossip struct {
	c      *Comms
	logger *slog.Logger
}

var _ memberlist.EventDelegate = (*gossip)(nil)

// Membership returns the delegate to install in a `memberlist.Config`.
func (c *Comms) Membership() memberlist.EventDelegate {
	return &gossip{c: c, logger: c.logger}
}

func withLogNode(logger *slog.Logger, node *memberlist.Node) *slog.Logger {
	return logger.With(
		LabelPeerName.L(node.Name),
		slog.String("peer_addr", node.Address()),
	)
}

func (g *gossip) NotifyJoin(node *memberlist.Node) {
	withLogNode(g.logger, node).Info("peer joined cluster")
}

func (g *gossip) NotifyLeave(node *memberlist.Node) {
	logger := withLogNode(g.logger, node)
	peer := slot.PeerName(node.Name)
	if err := slot.ValidatePeerName(peer); err != nil {
		logger.Warn("peer left cluster with an invalid name", LabelError.L(err))
		return
	}

	// memberlist holds its node lock while notifying us.
	g.c.post(func() {
		removed := g.c.peerDown(peer)
		g.c.msink.IncrCounterWithLabels(MetricCommsMembershipLeftCount, 1.0, g.c.cfg.metricLabels)
		logger.Info("peer left cluster", LabelRemoved.L(removed))
	})
}

func (g *gossip) NotifyUpdate(node *memberlist.Node) {
	withLogNode(g.logger, node).Info("peer updated")
}

// MemberlistConfig returns a LAN memberlist configuration advertising
// name and reporting membership changes to c.
func MemberlistConfig(c *Comms, name slot.PeerName, labels []metrics.Label) (*memberlist.Config, error) {
	if err := slot.ValidatePeerName(name); err != nil {
		return nil, err
	}

	mlCfg := memberlist.DefaultLANConfig()
	mlCfg.Name = string(name)
	mlCfg.Events = c.Membership()
	mlCfg.Logger = slog.NewLogLogger(c.logger.Handler(), slog.LevelDebug)

	// memberlist still speaks the armon flavour of go-metrics.
	mlCfg.MetricLabels = make([]leg_metrics.Label, len(labels))
	for i, label := range labels {
		mlCfg.MetricLabels[i] = leg_metrics.Label{
			Name:  label.Name,
			Value: label.Value,
		}
	}
	return mlCfg, nil
}
