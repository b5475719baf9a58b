// Package peerset maintains a node's view of the peers it can fetch
// from. It runs a background gossip loop over package network's
// transport (hello/roster exchange) and hands distributed.Node a
// read-only snapshot of known peers and their advertised rawrepo remote
// URLs; the actual history transfer happens over git, not this gossip
// channel.
package peerset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/tolelom/repochain/network"
)

// Peer is one known remote node.
type Peer struct {
	ID        string `json:"id"`
	RemoteURL string `json:"remote_url"`
}

// RemoteName derives the deterministic git remote name a peer is
// registered under in rawrepo: "peer-" followed by the first 12 hex
// characters of SHA-256(peer ID). Hashing keeps remote names
// filesystem/ref-name safe regardless of what characters a peer ID
// contains.
func RemoteName(peerID string) string {
	sum := sha256.Sum256([]byte(peerID))
	return "peer-" + hex.EncodeToString(sum[:])[:12]
}

// helloPayload is what a node sends on connect and replies with.
type helloPayload struct {
	NodeID    string `json:"node_id"`
	RemoteURL string `json:"remote_url"`
	Peers     []Peer `json:"peers"`
}

// Set is the background-maintained set of known peers.
type Set struct {
	selfID    string
	selfURL   string
	node      *network.Node
	gossipPer time.Duration

	mu    sync.RWMutex
	peers map[string]Peer
}

// New creates a Set that gossips over node, advertising selfURL as this
// node's own fetchable remote.
func New(selfID, selfURL string, node *network.Node) *Set {
	s := &Set{
		selfID:    selfID,
		selfURL:   selfURL,
		node:      node,
		gossipPer: 30 * time.Second,
		peers:     make(map[string]Peer),
	}
	node.Handle(network.MsgHello, s.handleHello)
	node.Handle(network.MsgRoster, s.handleRoster)
	return s
}

// Update seeds the set with statically configured peers (e.g. a node's
// seed-peer list from config), dialing each one.
func (s *Set) Update(seeds []Peer) {
	for _, p := range seeds {
		s.mu.Lock()
		s.peers[p.ID] = p
		s.mu.Unlock()
		if err := s.node.AddPeer(p.ID, p.RemoteURL, s.hello()); err != nil {
			log.Printf("[peerset] dial seed %s: %v", p.ID, err)
		}
	}
}

func (s *Set) hello() helloPayload {
	return helloPayload{NodeID: s.selfID, RemoteURL: s.selfURL, Peers: s.Snapshot()}
}

// Snapshot returns a point-in-time copy of every known peer, sorted by
// nothing in particular — callers that need determinism should sort.
func (s *Set) Snapshot() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// Run periodically re-gossips this node's roster to every connected peer
// until ctx is canceled.
func (s *Set) Run(ctx context.Context) {
	ticker := time.NewTicker(s.gossipPer)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcastRoster()
		}
	}
}

func (s *Set) broadcastRoster() {
	data, err := json.Marshal(s.hello())
	if err != nil {
		log.Printf("[peerset] marshal roster: %v", err)
		return
	}
	s.node.Broadcast(network.Message{Type: network.MsgRoster, Payload: data})
}

func (s *Set) merge(peers []Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range peers {
		if p.ID == s.selfID {
			continue
		}
		s.peers[p.ID] = p
	}
}

func (s *Set) handleHello(peer *network.Peer, msg network.Message) {
	var hp helloPayload
	if err := json.Unmarshal(msg.Payload, &hp); err != nil {
		log.Printf("[peerset] unmarshal hello: %v", err)
		return
	}
	s.merge(append(hp.Peers, Peer{ID: hp.NodeID, RemoteURL: hp.RemoteURL}))
	reply, err := json.Marshal(s.hello())
	if err != nil {
		return
	}
	if err := peer.Send(network.Message{Type: network.MsgRoster, Payload: reply}); err != nil {
		log.Printf("[peerset] reply to hello: %v", err)
	}
}

func (s *Set) handleRoster(_ *network.Peer, msg network.Message) {
	var hp helloPayload
	if err := json.Unmarshal(msg.Payload, &hp); err != nil {
		log.Printf("[peerset] unmarshal roster: %v", err)
		return
	}
	s.merge(append(hp.Peers, Peer{ID: hp.NodeID, RemoteURL: hp.RemoteURL}))
}
