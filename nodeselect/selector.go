// Package nodeselect implements leader-aware server selection for
// client request routing.
//
// A Selector yields an ordered sequence of candidate servers per
// selection pass, parameterized by a Strategy. A Manager owns the
// authoritative (leader, servers) pair and pushes it to every child
// selector when the cluster view changes.
package nodeselect

import (
	"sync"

	"github.com/gyuho/raftd/pkg/types"
	"github.com/gyuho/raftd/pkg/xlog"
)

var logger = xlog.NewLogger("nodeselect", xlog.INFO)

// Strategy picks which servers a selector yields, and in what order.
type Strategy uint8

const (
	// StrategyLeader yields the current leader only; the pass is
	// empty when no leader is known.
	StrategyLeader Strategy = iota

	// StrategyFollowers yields the non-leader servers.
	StrategyFollowers

	// StrategyAny yields the leader first, then the followers.
	StrategyAny

	// StrategyAnyWithFallback behaves like StrategyAny, and on
	// exhaustion restarts the iteration once.
	StrategyAnyWithFallback
)

func (s Strategy) String() string {
	switch s {
	case StrategyLeader:
		return "LEADER"
	case StrategyFollowers:
		return "FOLLOWERS"
	case StrategyAny:
		return "ANY"
	case StrategyAnyWithFallback:
		return "ANY_WITH_FALLBACK"
	default:
		panic("unknown Strategy")
	}
}

// order materializes one selection pass for the strategy.
func (s Strategy) order(leader types.ID, servers []types.ID) []types.ID {
	followers := make([]types.ID, 0, len(servers))
	for _, id := range servers {
		if id != leader {
			followers = append(followers, id)
		}
	}

	switch s {
	case StrategyLeader:
		if leader == types.NoNodeID {
			return nil
		}
		return []types.ID{leader}

	case StrategyFollowers:
		return followers

	case StrategyAny, StrategyAnyWithFallback:
		if leader == types.NoNodeID {
			return followers
		}
		return append([]types.ID{leader}, followers...)

	default:
		panic("unknown Strategy")
	}
}

// Selector iterates candidate servers for one client connection.
// A selector is safe for use by one goroutine at a time; the manager
// may reset it concurrently from another.
type Selector struct {
	mu sync.Mutex

	strategy Strategy
	manager  *Manager

	leader  types.ID
	servers []types.ID

	// pass is the materialized order of the current selection pass.
	pass []types.ID
	next int

	// fellBack is set once StrategyAnyWithFallback has restarted the
	// pass; a second exhaustion ends the iteration.
	fellBack bool
}

// Next returns the next candidate server of the current pass.
func (s *Selector) Next() (types.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.pass) {
		if s.strategy != StrategyAnyWithFallback || s.fellBack || len(s.pass) == 0 {
			return types.NoNodeID, false
		}
		s.fellBack = true
		s.next = 0
	}

	id := s.pass[s.next]
	s.next++
	return id, true
}

// Leader returns the selector's view of the current leader.
func (s *Selector) Leader() types.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leader
}

// Servers returns the selector's view of the server list.
func (s *Selector) Servers() []types.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ID(nil), s.servers...)
}

// Reset restarts the selection pass over the current view.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(s.leader, s.servers)
}

// ResetWith installs a new cluster view and restarts the pass.
func (s *Selector) ResetWith(leader types.ID, servers []types.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(leader, servers)
}

func (s *Selector) reset(leader types.ID, servers []types.ID) {
	s.leader = leader
	s.servers = append([]types.ID(nil), servers...)
	s.pass = s.strategy.order(leader, s.servers)
	s.next = 0
	s.fellBack = false
}

// Close removes the selector from its manager.
func (s *Selector) Close() {
	if s.manager != nil {
		s.manager.remove(s)
	}
}
