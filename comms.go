package clist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/clist/pkg/slot"
	"github.com/raskyld/clist/pkg/wire"
)

// MaxReasonBytes bounds the reason sent to a peer we abort.
const MaxReasonBytes = 255

// Comms owns a [CList] and the set of established peers, and serialises
// every operation on them through a single goroutine: each job runs to
// completion before the next one starts.
type Comms struct {
	cfg    config
	logger *slog.Logger
	msink  metrics.MetricSink

	// Only touched from the loop goroutine.
	cl    *CList
	peers map[slot.PeerName]Conn

	jobs chan func()

	lk         sync.Mutex
	shutdown   bool
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

func NewComms(opts ...Option) (*Comms, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	c := &Comms{
		cfg:        cfg,
		logger:     cfg.logger(),
		msink:      cfg.sink(),
		cl:         newCList(&cfg),
		peers:      make(map[slot.PeerName]Conn),
		jobs:       make(chan func(), cfg.queueDepth),
		shutdownCh: make(chan struct{}),
	}

	c.wg.Add(1)
	go c.run()
	return c, nil
}

func (c *Comms) run() {
	defer c.wg.Done()
	for {
		select {
		case job := <-c.jobs:
			job()
		case <-c.shutdownCh:
			return
		}
	}
}

// Shutdown stops the loop. Jobs still queued are dropped and their
// callers get [ErrCommsClosed].
func (c *Comms) Shutdown() error {
	c.lk.Lock()
	if c.shutdown {
		c.lk.Unlock()
		return nil
	}
	c.shutdown = true
	close(c.shutdownCh)
	c.lk.Unlock()

	c.wg.Wait()
	c.logger.Info(
		"comms shut down",
		"peers", len(c.peers),
		"relationships", c.cl.Len(),
	)
	return nil
}

type jobResult[T any] struct {
	val T
	err error
}

// submit runs fn on the loop and waits for its result. Once picked up,
// a job always runs to completion, even if ctx is done meanwhile.
func submit[T any](ctx context.Context, c *Comms, fn func() (T, error)) (T, error) {
	var zero T
	done := make(chan jobResult[T], 1)
	job := func() {
		val, err := fn()
		done <- jobResult[T]{val: val, err: err}
	}

	select {
	case c.jobs <- job:
	default:
		c.msink.IncrCounterWithLabels(MetricCommsJobQueueFullCount, 1.0, c.cfg.metricLabels)
		select {
		case c.jobs <- job:
		case <-c.shutdownCh:
			return zero, ErrCommsClosed
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.shutdownCh:
		select {
		case res := <-done:
			return res.val, res.err
		default:
			return zero, ErrCommsClosed
		}
	}
}

// post queues fn without waiting for it to run and never blocks. When
// the queue is full, fn is handed over from another goroutine as soon as
// the loop makes room. fn is dropped only if comms shuts down first.
func (c *Comms) post(fn func()) {
	select {
	case c.jobs <- fn:
		return
	case <-c.shutdownCh:
		return
	default:
	}

	c.msink.IncrCounterWithLabels(MetricCommsJobQueueFullCount, 1.0, c.cfg.metricLabels)
	go func() {
		select {
		case c.jobs <- fn:
		case <-c.shutdownCh:
		}
	}()
}

func (c *Comms) insistEstablished(peer slot.PeerName) error {
	if _, up := c.peers[peer]; !up {
		return fmt.Errorf("%w: %s", ErrPeerNotEstablished, peer)
	}
	return nil
}

// abort closes the connection of a misbehaving peer and forgets it.
func (c *Comms) abort(peer slot.PeerName, cause error) {
	conn, up := c.peers[peer]
	delete(c.peers, peer)
	removed := c.cl.ForgetPeer(peer)

	reason := cause.Error()
	if len(reason) > MaxReasonBytes {
		reason = reason[:MaxReasonBytes]
	}

	c.logger.Warn(
		"aborting peer",
		LabelPeerName.L(peer),
		LabelRemoved.L(removed),
		LabelError.L(cause),
	)
	c.msink.IncrCounterWithLabels(
		MetricCommsPeerAbortCount, 1.0,
		withLabels(c.cfg.metricLabels, LabelPeerName.M(string(peer))),
	)
	c.msink.SetGaugeWithLabels(MetricCommsPeersEstablished, float32(len(c.peers)), c.cfg.metricLabels)

	if up {
		if err := QErrProtocolViolation.Close(conn, reason); err != nil {
			c.logger.Error("failed to close peer connection", LabelPeerName.L(peer), LabelError.L(err))
		}
	}
}

// PeerUp records that a connection with peer is established. A second
// call replaces the connection of a peer which reconnected.
func (c *Comms) PeerUp(ctx context.Context, peer slot.PeerName, conn Conn) error {
	if err := slot.ValidatePeerName(peer); err != nil {
		return err
	}
	if conn == nil {
		return fmt.Errorf("%w: nil connection for %s", ErrInvalidCfg, peer)
	}

	_, err := submit(ctx, c, func() (struct{}, error) {
		if _, up := c.peers[peer]; up {
			c.logger.Warn("peer reconnected, replacing its connection", LabelPeerName.L(peer))
		} else {
			c.logger.Info("peer established", LabelPeerName.L(peer))
		}
		c.peers[peer] = conn
		c.msink.SetGaugeWithLabels(MetricCommsPeersEstablished, float32(len(c.peers)), c.cfg.metricLabels)
		return struct{}{}, nil
	})
	return err
}

// PeerDown records that peer is gone and forgets every relationship
// with it. It returns how many relationships were dropped.
func (c *Comms) PeerDown(ctx context.Context, peer slot.PeerName) (int, error) {
	return submit(ctx, c, func() (int, error) {
		return c.peerDown(peer), nil
	})
}

func (c *Comms) peerDown(peer slot.PeerName) int {
	if _, up := c.peers[peer]; up {
		delete(c.peers, peer)
		c.logger.Info("peer down", LabelPeerName.L(peer))
		c.msink.SetGaugeWithLabels(MetricCommsPeersEstablished, float32(len(c.peers)), c.cfg.metricLabels)
	}
	return c.cl.ForgetPeer(peer)
}

// Introduce registers a new relationship with an established peer. A
// conflicting introduction aborts the peer: see [CList.Add].
func (c *Comms) Introduce(ctx context.Context, peer slot.PeerName, k slot.KernelSlot, inbound, outbound slot.WireSlot) error {
	_, err := submit(ctx, c, func() (struct{}, error) {
		if err := c.insistEstablished(peer); err != nil {
			return struct{}{}, err
		}
		err := c.cl.Add(peer, k, inbound, outbound)
		if errors.Is(err, ErrProtocolViolation) {
			c.abort(peer, err)
		}
		return struct{}{}, err
	})
	return err
}

// Inbound decodes a frame received from peer and translates it to the
// kernel namespace. A malformed frame aborts the peer. Unresolved slots
// are returned as an [*UnresolvedSlotError] and leave the peer alone.
func (c *Comms) Inbound(ctx context.Context, peer slot.PeerName, frame []byte) (KernelMessage, error) {
	return submit(ctx, c, func() (KernelMessage, error) {
		if err := c.insistEstablished(peer); err != nil {
			return KernelMessage{}, err
		}

		if len(frame) > c.cfg.maxFrameSize {
			err := fmt.Errorf("%w: %w: %d bytes", ErrProtocolViolation, wire.ErrFrameTooLarge, len(frame))
			c.abort(peer, err)
			return KernelMessage{}, err
		}

		msg, err := wire.Unmarshal(frame)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrProtocolViolation, err)
			c.abort(peer, err)
			return KernelMessage{}, err
		}

		kmsg, err := c.cl.TranslateInbound(peer, msg)
		if err != nil {
			c.msink.IncrCounterWithLabels(
				MetricCommsInboundErrorCount, 1.0,
				withLabels(c.cfg.metricLabels, LabelPeerName.M(string(peer))),
			)
			return KernelMessage{}, err
		}
		return kmsg, nil
	})
}

// ReadInbound reads one frame from a stream of peer, a
// `quic.ReceiveStream` typically, and hands it to [Comms.Inbound].
func (c *Comms) ReadInbound(ctx context.Context, peer slot.PeerName, r io.Reader) (KernelMessage, error) {
	frame, err := wire.ReadFrame(r, c.cfg.maxFrameSize)
	if errors.Is(err, wire.ErrFrameTooLarge) || errors.Is(err, wire.ErrMalformedFrame) {
		err = fmt.Errorf("%w: %w", ErrProtocolViolation, err)
		_, abortErr := submit(ctx, c, func() (struct{}, error) {
			c.abort(peer, err)
			return struct{}{}, nil
		})
		return KernelMessage{}, errors.Join(err, abortErr)
	}
	if err != nil {
		return KernelMessage{}, err
	}
	return c.Inbound(ctx, peer, frame)
}

// Outbound translates a kernel message for peer and encodes it.
func (c *Comms) Outbound(ctx context.Context, peer slot.PeerName, kmsg KernelMessage) ([]byte, error) {
	return submit(ctx, c, func() ([]byte, error) {
		if err := c.insistEstablished(peer); err != nil {
			return nil, err
		}
		msg, err := c.cl.TranslateOutbound(peer, kmsg)
		if err != nil {
			c.msink.IncrCounterWithLabels(
				MetricCommsOutboundErrorCount, 1.0,
				withLabels(c.cfg.metricLabels, LabelPeerName.M(string(peer))),
			)
			return nil, err
		}
		return wire.Marshal(msg), nil
	})
}

// WriteOutbound is [Comms.Outbound] followed by writing the frame on w,
// a `quic.SendStream` typically.
func (c *Comms) WriteOutbound(ctx context.Context, peer slot.PeerName, w io.Writer, kmsg KernelMessage) error {
	frame, err := c.Outbound(ctx, peer, kmsg)
	if err != nil {
		return err
	}
	return wire.WriteFrame(w, frame)
}

// Broadcast lists every peer knowing k with the wire slot to use, so a
// resolution or a collection notice can reach all of them.
func (c *Comms) Broadcast(ctx context.Context, k slot.KernelSlot) ([]PeerSlot, error) {
	return submit(ctx, c, func() ([]PeerSlot, error) {
		return c.cl.MapKernelSlotToOutgoingWireMessageList(k), nil
	})
}

// Collect is the kernel telling us k was collected, for peers or, when
// none is given, for everyone.
func (c *Comms) Collect(ctx context.Context, k slot.KernelSlot, peers ...slot.PeerName) (int, error) {
	return submit(ctx, c, func() (int, error) {
		return c.cl.Forget(k, peers...), nil
	})
}

// Dump snapshots the underlying CList, for debugging.
func (c *Comms) Dump(ctx context.Context) (State, error) {
	return submit(ctx, c, func() (State, error) {
		return c.cl.Dump(), nil
	})
}
