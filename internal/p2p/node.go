// Package p2p implements the libp2p event bus. Committed ledger events are
// gossiped to peers; announcements from peers feed a local tree mirror.
package p2p

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/rs/zerolog"

	"github.com/shadowvault/core/internal/ledger"
)

// Topic names
const (
	EventTopic  = "shadowvault/events/1"
	MDNSService = "shadowvault-local"
)

// MessageHandler handles a decoded message from a peer
type MessageHandler func(ctx context.Context, from peer.ID, msg *Message) error

// Config holds P2P node configuration
type Config struct {
	ListenAddrs    []string       `json:"listen_addrs"`
	BootstrapPeers []string       `json:"bootstrap_peers"`
	PrivateKey     crypto.PrivKey `json:"-"`
	MaxPeers       int            `json:"max_peers"`
	EnableMDNS     bool           `json:"enable_mdns"`
	NetworkID      uint32         `json:"network_id"`

	// StatusInterval is how often the local status is announced
	StatusInterval time.Duration `json:"status_interval"`
}

// DefaultConfig returns default P2P configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddrs:    []string{"/ip4/0.0.0.0/tcp/9400"},
		MaxPeers:       50,
		EnableMDNS:     true,
		NetworkID:      1,
		StatusInterval: 30 * time.Second,
	}
}

// PeerInfo holds information about a connected peer
type PeerInfo struct {
	ID          peer.ID
	Addr        string
	ConnectedAt time.Time
	LastSeen    time.Time
}

// Node is a member of the event bus
type Node struct {
	mu sync.RWMutex

	host   host.Host
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	mdns   mdns.Service

	handler   MessageHandler
	statusFn  func() *StatusMessage
	networkID uint32
	interval  time.Duration

	peers    map[peer.ID]*PeerInfo
	maxPeers int

	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a node and joins the event topic
func NewNode(ctx context.Context, cfg *Config, log zerolog.Logger) (*Node, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	nodeCtx, cancel := context.WithCancel(ctx)

	privKey := cfg.PrivateKey
	if privKey == nil {
		var err error
		privKey, _, err = crypto.GenerateKeyPairWithReader(crypto.Ed25519, -1, rand.Reader)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(nodeCtx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	interval := cfg.StatusInterval
	if interval <= 0 {
		interval = DefaultConfig().StatusInterval
	}

	node := &Node{
		host:      h,
		pubsub:    ps,
		networkID: cfg.NetworkID,
		interval:  interval,
		peers:     make(map[peer.ID]*PeerInfo),
		maxPeers:  cfg.MaxPeers,
		log:       log.With().Str("module", "p2p").Str("peer", h.ID().String()).Logger(),
		ctx:       nodeCtx,
		cancel:    cancel,
	}

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF:    node.onPeerConnected,
		DisconnectedF: node.onPeerDisconnected,
	})

	if node.topic, err = ps.Join(EventTopic); err != nil {
		node.Close()
		return nil, fmt.Errorf("failed to join %s: %w", EventTopic, err)
	}
	if node.sub, err = node.topic.Subscribe(); err != nil {
		node.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", EventTopic, err)
	}

	for _, addr := range cfg.BootstrapPeers {
		if err := node.connectToPeer(addr); err != nil {
			node.log.Warn().Err(err).Str("addr", addr).Msg("Bootstrap peer unreachable")
		}
	}

	if cfg.EnableMDNS {
		node.mdns = mdns.NewMdnsService(h, MDNSService, &mdnsNotifee{node: node})
		if err := node.mdns.Start(); err != nil {
			node.log.Warn().Err(err).Msg("mDNS setup failed")
			node.mdns = nil
		}
	}

	return node, nil
}

// SetHandler sets the handler for inbound messages
func (n *Node) SetHandler(handler MessageHandler) {
	n.mu.Lock()
	n.handler = handler
	n.mu.Unlock()
}

// SetStatusSource sets the function producing periodic status announcements
func (n *Node) SetStatusSource(fn func() *StatusMessage) {
	n.mu.Lock()
	n.statusFn = fn
	n.mu.Unlock()
}

// Start begins processing messages
func (n *Node) Start() {
	n.wg.Add(2)
	go n.processMessages()
	go n.maintainPeers()
}

func (n *Node) processMessages() {
	defer n.wg.Done()

	for {
		raw, err := n.sub.Next(n.ctx)
		if err != nil {
			if n.ctx.Err() != nil {
				return
			}
			continue
		}
		if raw.ReceivedFrom == n.host.ID() {
			continue
		}

		n.mu.Lock()
		if p, ok := n.peers[raw.ReceivedFrom]; ok {
			p.LastSeen = time.Now()
		}
		handler := n.handler
		n.mu.Unlock()

		if handler == nil {
			continue
		}

		r := bytes.NewReader(raw.Data)
		for r.Len() > 0 {
			var msg Message
			if err := msg.Decode(r); err != nil {
				n.log.Debug().Err(err).Str("from", raw.ReceivedFrom.String()).Msg("Dropping malformed frame")
				break
			}
			if err := handler(n.ctx, raw.ReceivedFrom, &msg); err != nil {
				n.log.Warn().Err(err).Uint8("type", msg.Type).Msg("Message handler error")
			}
		}
	}
}

func (n *Node) maintainPeers() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.announceStatus()
			n.pruneStale()
		}
	}
}

func (n *Node) announceStatus() {
	n.mu.RLock()
	fn := n.statusFn
	n.mu.RUnlock()
	if fn == nil {
		return
	}

	status := fn()
	status.NetworkID = n.networkID
	if err := n.Publish(n.ctx, &Message{Type: MsgTypeStatus, Payload: EncodeStatus(status)}); err != nil {
		n.log.Debug().Err(err).Msg("Status announcement failed")
	}
}

func (n *Node) pruneStale() {
	n.mu.Lock()
	defer n.mu.Unlock()

	staleThreshold := time.Now().Add(-10 * n.interval)
	for id, p := range n.peers {
		if p.LastSeen.Before(staleThreshold) {
			n.host.Network().ClosePeer(id)
			delete(n.peers, id)
		}
	}
}

// Publish frames and gossips messages in one pubsub payload
func (n *Node) Publish(ctx context.Context, msgs ...*Message) error {
	var buf bytes.Buffer
	for _, m := range msgs {
		if err := m.Encode(&buf); err != nil {
			return err
		}
	}
	if buf.Len() == 0 {
		return nil
	}
	return n.topic.Publish(ctx, buf.Bytes())
}

// HandleEvent gossips a committed ledger event
func (n *Node) HandleEvent(ctx context.Context, ev *ledger.Event) {
	msgs := EventMessages(ev)
	if len(msgs) == 0 {
		return
	}
	if err := n.Publish(ctx, msgs...); err != nil {
		n.log.Warn().Err(err).Stringer("event", ev.Kind).Msg("Event broadcast failed")
	}
}

func (n *Node) connectToPeer(addr string) error {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
	defer cancel()

	if err := n.host.Connect(ctx, *info); err != nil {
		return err
	}
	n.addPeer(info.ID, addr)
	return nil
}

func (n *Node) addPeer(id peer.ID, addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.peers[id]; ok {
		return
	}
	if n.maxPeers > 0 && len(n.peers) >= n.maxPeers {
		go n.host.Network().ClosePeer(id)
		return
	}
	now := time.Now()
	n.peers[id] = &PeerInfo{ID: id, Addr: addr, ConnectedAt: now, LastSeen: now}
}

func (n *Node) onPeerConnected(_ network.Network, conn network.Conn) {
	n.addPeer(conn.RemotePeer(), conn.RemoteMultiaddr().String())
}

func (n *Node) onPeerDisconnected(_ network.Network, conn network.Conn) {
	n.mu.Lock()
	delete(n.peers, conn.RemotePeer())
	n.mu.Unlock()
}

type mdnsNotifee struct {
	node *Node
}

func (m *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == m.node.host.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(m.node.ctx, 5*time.Second)
	defer cancel()
	if err := m.node.host.Connect(ctx, pi); err != nil {
		m.node.log.Debug().Err(err).Str("peer", pi.ID.String()).Msg("mDNS peer connect failed")
	}
}

// ID returns the node's peer ID
func (n *Node) ID() peer.ID {
	return n.host.ID()
}

// Addrs returns the node's listen addresses with the peer id appended
func (n *Node) Addrs() []string {
	addrs := n.host.Addrs()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String() + "/p2p/" + n.host.ID().String()
	}
	return out
}

// PeerCount returns the number of connected peers
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// Peers returns information about connected peers
func (n *Node) Peers() []*PeerInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()

	peers := make([]*PeerInfo, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	return peers
}

// Close shuts down the node
func (n *Node) Close() error {
	n.cancel()

	if n.sub != nil {
		n.sub.Cancel()
	}
	if n.mdns != nil {
		n.mdns.Close()
	}
	if n.topic != nil {
		n.topic.Close()
	}
	err := n.host.Close()
	n.wg.Wait()
	return err
}
