package raft

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gyuho/raftd/nodeselect"
	"github.com/gyuho/raftd/pkg/types"
	"github.com/gyuho/raftd/raftlog"
	"github.com/gyuho/raftd/raftpb"
	"github.com/gyuho/raftd/raftsnap"
)

// recordingMachine records applied ops.
type recordingMachine struct {
	mu      sync.Mutex
	applied []uint64
}

func (m *recordingMachine) Apply(index uint64, op []byte) ([]byte, error) {
	m.mu.Lock()
	m.applied = append(m.applied, index)
	m.mu.Unlock()
	return op, nil
}

func (m *recordingMachine) Query(op []byte) ([]byte, error) {
	return append([]byte("read:"), op...), nil
}

// fakeProtocol answers outbound requests with canned functions; nil
// functions report an unreachable peer.
type fakeProtocol struct {
	mu sync.Mutex

	appendFn  func(to types.ID, req *raftpb.AppendRequest) (*raftpb.AppendResponse, error)
	installFn func(to types.ID, req *raftpb.InstallRequest) (*raftpb.InstallResponse, error)
	voteFn    func(to types.ID, req *raftpb.VoteRequest) (*raftpb.VoteResponse, error)
	queryFn   func(to types.ID, req *raftpb.QueryRequest) (*raftpb.QueryResponse, error)
	commandFn func(to types.ID, req *raftpb.CommandRequest) (*raftpb.CommandResponse, error)
}

func (p *fakeProtocol) Append(_ context.Context, to types.ID, req *raftpb.AppendRequest) (*raftpb.AppendResponse, error) {
	p.mu.Lock()
	fn := p.appendFn
	p.mu.Unlock()
	if fn == nil {
		return nil, context.DeadlineExceeded
	}
	return fn(to, req)
}

func (p *fakeProtocol) Install(_ context.Context, to types.ID, req *raftpb.InstallRequest) (*raftpb.InstallResponse, error) {
	p.mu.Lock()
	fn := p.installFn
	p.mu.Unlock()
	if fn == nil {
		return nil, context.DeadlineExceeded
	}
	return fn(to, req)
}

func (p *fakeProtocol) Vote(_ context.Context, to types.ID, req *raftpb.VoteRequest) (*raftpb.VoteResponse, error) {
	p.mu.Lock()
	fn := p.voteFn
	p.mu.Unlock()
	if fn == nil {
		return nil, context.DeadlineExceeded
	}
	return fn(to, req)
}

func (p *fakeProtocol) Query(_ context.Context, to types.ID, req *raftpb.QueryRequest) (*raftpb.QueryResponse, error) {
	p.mu.Lock()
	fn := p.queryFn
	p.mu.Unlock()
	if fn == nil {
		return nil, context.DeadlineExceeded
	}
	return fn(to, req)
}

func (p *fakeProtocol) Command(_ context.Context, to types.ID, req *raftpb.CommandRequest) (*raftpb.CommandResponse, error) {
	p.mu.Lock()
	fn := p.commandFn
	p.mu.Unlock()
	if fn == nil {
		return nil, context.DeadlineExceeded
	}
	return fn(to, req)
}

type testServer struct {
	*ServerContext
	sm       *recordingMachine
	protocol *fakeProtocol
}

// newTestServer starts a server with a huge tick interval so tests
// drive ticks explicitly.
func newTestServer(t *testing.T, role RoleType, members ...types.ID) *testServer {
	t.Helper()
	if len(members) == 0 {
		members = []types.ID{1}
	}

	dir := t.TempDir()
	l, err := raftlog.Open(dir+"/log", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	snaps, err := raftsnap.NewStore(dir + "/snap")
	if err != nil {
		t.Fatal(err)
	}
	stable, err := NewStableStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	sm := &recordingMachine{}
	protocol := &fakeProtocol{}

	c, err := NewServerContext(Config{
		ID:           members[0],
		Members:      members,
		InitialRole:  role,
		TickInterval: time.Hour,
		Log:          l,
		Snapshots:    snaps,
		StateMachine: sm,
		Stable:       stable,
		Protocol:     protocol,
		Selectors:    nodeselect.NewManager(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err = c.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Stop)

	return &testServer{ServerContext: c, sm: sm, protocol: protocol}
}

// onLoop runs fn on the server loop and waits for it.
func (s *testServer) onLoop(t *testing.T, fn func()) {
	t.Helper()
	donec := make(chan struct{})
	if err := s.post(func() { fn(); close(donec) }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-donec:
	case <-time.After(5 * time.Second):
		t.Fatal("server loop stalled")
	}
}

// seedLog appends n noop entries at the given term directly.
func (s *testServer) seedLog(t *testing.T, n int, term uint64) {
	t.Helper()
	s.onLoop(t, func() {
		for i := 0; i < n; i++ {
			if _, err := s.logWriter.Append(raftpb.Entry{Term: term, Type: raftpb.ENTRY_TYPE_NOOP}); err != nil {
				t.Error(err)
				return
			}
		}
	})
}

// commitAndApply marks entries committed and applies them.
func (s *testServer) commitAndApply(t *testing.T, idx uint64) {
	t.Helper()
	s.onLoop(t, func() {
		s.setCommitIndex(idx)
		s.executor.ApplyAll(s.commitIndex)
	})
}

func (s *testServer) setTerm(t *testing.T, term uint64) {
	t.Helper()
	s.onLoop(t, func() {
		s.term = term
		s.mustPersistHardState()
	})
}

func (s *testServer) ticks(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		s.onLoop(t, func() { s.role.tick() })
	}
}
