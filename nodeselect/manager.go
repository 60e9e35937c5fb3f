package nodeselect

import (
	"sync"
	"sync/atomic"

	"github.com/gyuho/raftd/pkg/types"
)

// view is an immutable (leader, servers) snapshot.
type view struct {
	leader  types.ID
	servers []types.ID
}

// Manager owns the authoritative cluster view and the set of child
// selectors. The child set is copy-on-write: iteration reads an
// immutable snapshot, so ResetAll never observes a partial update and
// never blocks a concurrent CreateSelector or Close.
type Manager struct {
	view atomic.Pointer[view]

	// wmu serializes child-set mutations; readers load the snapshot
	// without locking.
	wmu       sync.Mutex
	selectors atomic.Pointer[[]*Selector]
}

// NewManager returns a manager with an empty cluster view.
func NewManager() *Manager {
	m := &Manager{}
	m.view.Store(&view{})
	m.selectors.Store(&[]*Selector{})
	return m
}

// Leader returns the authoritative current leader.
func (m *Manager) Leader() types.ID { return m.view.Load().leader }

// Servers returns the authoritative server list.
func (m *Manager) Servers() []types.ID {
	return append([]types.ID(nil), m.view.Load().servers...)
}

// CreateSelector returns a new child selector primed with the current
// view.
func (m *Manager) CreateSelector(strategy Strategy) *Selector {
	s := &Selector{strategy: strategy, manager: m}
	v := m.view.Load()
	s.reset(v.leader, v.servers)

	m.wmu.Lock()
	old := *m.selectors.Load()
	next := make([]*Selector, len(old), len(old)+1)
	copy(next, old)
	next = append(next, s)
	m.selectors.Store(&next)
	m.wmu.Unlock()
	return s
}

// ResetAll restarts every child selector over the current view. Used
// when a send observes a stale routing hint.
func (m *Manager) ResetAll() {
	for _, s := range *m.selectors.Load() {
		s.Reset()
	}
}

// ResetAllWith installs a new authoritative view and pushes it to
// every child selector.
func (m *Manager) ResetAllWith(leader types.ID, servers []types.ID) {
	v := &view{leader: leader, servers: append([]types.ID(nil), servers...)}
	m.view.Store(v)
	logger.Debugf("cluster view: leader=%s servers=%v", leader, servers)

	for _, s := range *m.selectors.Load() {
		s.ResetWith(v.leader, v.servers)
	}
}

func (m *Manager) remove(s *Selector) {
	m.wmu.Lock()
	defer m.wmu.Unlock()

	old := *m.selectors.Load()
	next := make([]*Selector, 0, len(old))
	for _, child := range old {
		if child != s {
			next = append(next, child)
		}
	}
	m.selectors.Store(&next)
}
