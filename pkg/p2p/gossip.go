package p2p

import (
	"context"
	"fmt"
	"strings"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/duelengine/pkg/app/core/match"
	"github.com/uhyunpark/duelengine/pkg/app/duel"
)

const outboxSize = 64

// TopicFor names the gossip topic of a match
func TopicFor(matchID string) string { return "duel/" + matchID + "/roi" }

// OpponentSink receives the opponent's live ROI. duel.Engine satisfies it.
type OpponentSink interface {
	SetOpponentROI(matchID string, roi float64) bool
}

type Config struct {
	ListenAddr string
	Bootstrap  []string
	SelfID     string
	Sink       OpponentSink
	Logger     *zap.SugaredLogger
}

// Gossip publishes the local participant's ROI on a per-match gossipsub topic and
// feeds the opponent's ROI back into the engine. It observes the engine: Observe
// only queues, a single worker joins topics and publishes.
type Gossip struct {
	h    host.Host
	ps   *pubsub.PubSub
	log  *zap.SugaredLogger
	self string
	sink OpponentSink

	outbox chan ROIWire

	mu      sync.Mutex
	current *matchTopic
	lastSeq map[string]uint64 // participant -> highest seq applied for the current match

	// last published values, owned by Observe's caller
	lastROI   float64
	lastFinal bool
	lastMatch string
}

type matchTopic struct {
	matchID string
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	cancel  context.CancelFunc
}

func NewGossip(ctx context.Context, cfg Config) (*Gossip, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	g := &Gossip{
		h:       h,
		ps:      ps,
		log:     logger,
		self:    cfg.SelfID,
		sink:    cfg.Sink,
		outbox:  make(chan ROIWire, outboxSize),
		lastSeq: make(map[string]uint64),
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	go g.publishLoop(ctx)

	logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (g *Gossip) Host() host.Host { return g.h }

// Addrs returns dialable multiaddrs including the peer id
func (g *Gossip) Addrs() []string {
	out := make([]string, 0, len(g.h.Addrs()))
	for _, a := range g.h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, g.h.ID()))
	}
	return out
}

// Join subscribes to matchID's topic ahead of the first publish
func (g *Gossip) Join(ctx context.Context, matchID string) error {
	_, err := g.topicFor(ctx, matchID)
	return err
}

// Observe queues the local ROI whenever it changes, and once more when the match ends
func (g *Gossip) Observe(snap duel.Snapshot, _ []duel.Event) {
	if snap.MatchID == "" || snap.Practice {
		return
	}
	final := snap.Phase == match.PhaseEnded
	roi := snap.ROI.Value()
	if snap.MatchID == g.lastMatch && roi == g.lastROI && final == g.lastFinal {
		return
	}
	g.lastMatch, g.lastROI, g.lastFinal = snap.MatchID, roi, final

	msg := ROIWire{MatchID: snap.MatchID, Participant: g.self, ROI: roi, Final: final, Seq: snap.Seq}
	select {
	case g.outbox <- msg:
	default:
		g.log.Warnw("roi_gossip_dropped", "match_id", snap.MatchID, "seq", snap.Seq)
	}
}

func (g *Gossip) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-g.outbox:
			if err := g.publish(ctx, msg); err != nil {
				g.log.Warnw("roi_publish_failed", "match_id", msg.MatchID, "err", err)
			}
		}
	}
}

func (g *Gossip) publish(ctx context.Context, msg ROIWire) error {
	t, err := g.topicFor(ctx, msg.MatchID)
	if err != nil {
		return err
	}
	data, err := gobEncode(msg)
	if err != nil {
		return err
	}
	return t.topic.Publish(ctx, data)
}

// topicFor returns the current match topic, leaving the previous match's topic first
func (g *Gossip) topicFor(ctx context.Context, matchID string) (*matchTopic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current != nil && g.current.matchID == matchID {
		return g.current, nil
	}
	if prev := g.current; prev != nil {
		prev.cancel()
		prev.sub.Cancel()
		if err := prev.topic.Close(); err != nil {
			g.log.Warnw("roi_topic_close_failed", "match_id", prev.matchID, "err", err)
		}
		g.current = nil
	}

	topic, err := g.ps.Join(TopicFor(matchID))
	if err != nil {
		return nil, err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	mt := &matchTopic{matchID: matchID, topic: topic, sub: sub, cancel: cancel}
	g.current = mt
	g.lastSeq = make(map[string]uint64)

	go g.receiveLoop(subCtx, mt)
	g.log.Infow("roi_topic_joined", "match_id", matchID, "topic", TopicFor(matchID))
	return mt, nil
}

func (g *Gossip) receiveLoop(ctx context.Context, mt *matchTopic) {
	for {
		msg, err := mt.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == g.h.ID() {
			continue
		}
		g.handle(mt.matchID, msg.Data)
	}
}

// handle applies an opponent message. It reports whether the engine accepted it.
func (g *Gossip) handle(matchID string, data []byte) bool {
	var w ROIWire
	if err := gobDecode(data, &w); err != nil {
		g.log.Warnw("roi_gossip_invalid", "match_id", matchID, "err", err)
		return false
	}
	if w.MatchID != matchID || w.Participant == "" || strings.EqualFold(w.Participant, g.self) {
		return false
	}

	g.mu.Lock()
	key := strings.ToLower(w.Participant)
	if last, seen := g.lastSeq[key]; seen && w.Seq <= last {
		g.mu.Unlock()
		return false
	}
	g.lastSeq[key] = w.Seq
	g.mu.Unlock()

	if g.sink == nil {
		return false
	}
	return g.sink.SetOpponentROI(w.MatchID, w.ROI)
}

func (g *Gossip) Close() error {
	g.mu.Lock()
	if mt := g.current; mt != nil {
		mt.cancel()
		mt.sub.Cancel()
		mt.topic.Close()
		g.current = nil
	}
	g.mu.Unlock()
	return g.h.Close()
}

var _ duel.Observer = (*Gossip)(nil)
