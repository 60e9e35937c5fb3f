// Package raft implements the replication core of a Raft server: the
// role state machine over reserve, passive, follower, candidate, and
// leader, the append and snapshot-install handlers, query routing at
// configured consistency, and the deterministic apply pipeline.
//
// All role handlers run on one designated goroutine, the server loop.
// External entry points post closures to the loop and wait on reply
// channels; checkThread asserts the single-thread contract at every
// handler entry. The only lock below the loop is the log writer lock.
package raft

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/gyuho/raftd/nodeselect"
	"github.com/gyuho/raftd/pkg/types"
	"github.com/gyuho/raftd/raftlog"
	"github.com/gyuho/raftd/raftpb"
	"github.com/gyuho/raftd/raftsnap"
	"github.com/gyuho/raftd/rsm"
)

var ErrStopped = errors.New("raft: server stopped")

const (
	// DefaultElectionTicks is the default number of ticks without
	// leader contact before a follower campaigns.
	DefaultElectionTicks = 10

	// DefaultHeartbeatTicks is the default number of ticks between
	// leader heartbeats.
	DefaultHeartbeatTicks = 1

	// DefaultTickInterval is the default wall-clock length of one tick.
	DefaultTickInterval = 100 * time.Millisecond

	// forwardTimeout bounds one forwarded request when the caller
	// supplies no deadline.
	forwardTimeout = 5 * time.Second
)

// Config configures a ServerContext.
type Config struct {
	ID      types.ID
	Members []types.ID

	// InitialRole is the role the server opens in, RolePassive or
	// RoleFollower.
	InitialRole RoleType

	ElectionTicks  int
	HeartbeatTicks int
	TickInterval   time.Duration

	Log          *raftlog.Log
	Snapshots    *raftsnap.Store
	StateMachine rsm.StateMachine
	Stable       *StableStore
	Protocol     Protocol

	// Selectors routes forwarded client requests; the context keeps
	// it current as the leader changes.
	Selectors *nodeselect.Manager
}

// ServerContext is the process-wide replicated state and the owner of
// the server loop.
type ServerContext struct {
	id      types.ID
	members []types.ID

	term     uint64
	votedFor types.ID
	leader   types.ID

	commitIndex uint64

	role serverRole

	logWriter *raftlog.Writer
	logReader *raftlog.Reader
	snapshots *raftsnap.Store
	executor  *rsm.Executor
	stable    *StableStore
	protocol  Protocol
	selectors *nodeselect.Manager

	electionTicks      int
	heartbeatTicks     int
	tickInterval       time.Duration
	randomizedElection int
	rand               *rand.Rand

	// inLoop is true while the server loop is executing a posted
	// closure; checkThread asserts it.
	inLoop bool

	msgc  chan func()
	stopc chan struct{}
	donec chan struct{}
}

// NewServerContext creates a server context, restoring the persisted
// HardState. Start must be called before any request is served.
func NewServerContext(cfg Config) (*ServerContext, error) {
	if cfg.ElectionTicks == 0 {
		cfg.ElectionTicks = DefaultElectionTicks
	}
	if cfg.HeartbeatTicks == 0 {
		cfg.HeartbeatTicks = DefaultHeartbeatTicks
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Selectors == nil {
		cfg.Selectors = nodeselect.NewManager()
	}

	hs, err := cfg.Stable.Load()
	if err != nil {
		return nil, err
	}

	c := &ServerContext{
		id:      cfg.ID,
		members: append([]types.ID(nil), cfg.Members...),

		term:     hs.Term,
		votedFor: hs.VotedFor,

		logWriter: cfg.Log.Writer(),
		logReader: cfg.Log.Reader(),
		snapshots: cfg.Snapshots,
		stable:    cfg.Stable,
		protocol:  cfg.Protocol,
		selectors: cfg.Selectors,

		electionTicks:  cfg.ElectionTicks,
		heartbeatTicks: cfg.HeartbeatTicks,
		tickInterval:   cfg.TickInterval,
		rand:           rand.New(rand.NewSource(int64(cfg.ID) + time.Now().UnixNano())),

		msgc:  make(chan func(), 1024),
		stopc: make(chan struct{}),
		donec: make(chan struct{}),
	}
	c.executor = rsm.NewExecutor(cfg.StateMachine, cfg.Log.Reader())
	c.selectors.ResetAllWith(types.NoNodeID, c.members)

	switch cfg.InitialRole {
	case RolePassive:
		c.role = newPassiveRole(c)
	case RoleFollower, RoleReserve, RoleCandidate, RoleLeader:
		// voting members always start as followers
		c.role = newFollowerRole(c)
	}
	return c, nil
}

// Start runs the server loop and opens the initial role.
func (c *ServerContext) Start() error {
	errc := make(chan error, 1)
	go c.run(errc)
	return <-errc
}

// Stop closes the current role and terminates the server loop.
func (c *ServerContext) Stop() {
	close(c.stopc)
	<-c.donec
}

func (c *ServerContext) run(errc chan<- error) {
	defer close(c.donec)

	c.inLoop = true
	err := c.role.open()
	c.inLoop = false
	errc <- err
	if err != nil {
		return
	}

	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-c.msgc:
			c.inLoop = true
			fn()
			c.inLoop = false

		case <-ticker.C:
			c.inLoop = true
			c.role.tick()
			c.inLoop = false

		case <-c.stopc:
			c.inLoop = true
			if err := c.role.close(); err != nil {
				logger.Errorf("%s: failed to close role %s (%v)", c.id, c.role.typ(), err)
			}
			c.inLoop = false
			return
		}
	}
}

// post enqueues fn for the server loop.
func (c *ServerContext) post(fn func()) error {
	select {
	case c.msgc <- fn:
		return nil
	case <-c.stopc:
		return ErrStopped
	}
}

// checkThread panics unless the caller is on the server loop. Every
// role handler asserts this on entry.
func (c *ServerContext) checkThread() {
	if !c.inLoop {
		logger.Panicf("%s: role handler invoked off the server loop", c.id)
	}
}

// ID returns the server's own id.
func (c *ServerContext) ID() types.ID { return c.id }

// Leader returns the leader observed this term.
func (c *ServerContext) Leader() types.ID {
	var leader types.ID
	c.read(func() { leader = c.leader })
	return leader
}

// Term returns the current term.
func (c *ServerContext) Term() uint64 {
	var term uint64
	c.read(func() { term = c.term })
	return term
}

// CommitIndex returns the commit index.
func (c *ServerContext) CommitIndex() uint64 {
	var idx uint64
	c.read(func() { idx = c.commitIndex })
	return idx
}

// Role returns the current role type.
func (c *ServerContext) Role() RoleType {
	tp := RoleReserve
	c.read(func() { tp = c.role.typ() })
	return tp
}

// read runs fn on the server loop and waits, so external observers
// see loop-consistent state.
func (c *ServerContext) read(fn func()) {
	donec := make(chan struct{})
	if err := c.post(func() { fn(); close(donec) }); err != nil {
		return
	}
	select {
	case <-donec:
	case <-c.donec:
	}
}

// setCommitIndex advances the commit index; it never regresses.
func (c *ServerContext) setCommitIndex(idx uint64) {
	if idx > c.commitIndex {
		c.commitIndex = idx
	}
}

// mustPersistHardState saves (term, votedFor) before the server
// responds; a metadata write failure is fatal.
func (c *ServerContext) mustPersistHardState() {
	if err := c.stable.Save(HardState{Term: c.term, VotedFor: c.votedFor}); err != nil {
		logger.Panicf("%s: failed to persist hard state (%v)", c.id, err)
	}
}

// setLeader records the leader observed this term and refreshes the
// selector manager's routing view.
func (c *ServerContext) setLeader(leader types.ID) {
	if c.leader == leader {
		return
	}
	c.leader = leader
	c.selectors.ResetAllWith(leader, c.members)
	if leader != types.NoNodeID {
		logger.Infof("%s: leader is %s at term %d", c.id, leader, c.term)
	}
}

// transitionTo closes the current role and opens the new one.
func (c *ServerContext) transitionTo(tp RoleType) {
	c.checkThread()
	if c.role != nil && c.role.typ() == tp {
		return
	}

	if c.role != nil {
		if err := c.role.close(); err != nil {
			logger.Errorf("%s: failed to close role %s (%v)", c.id, c.role.typ(), err)
		}
	}

	switch tp {
	case RoleReserve:
		c.role = newReserveRole(c)
	case RolePassive:
		c.role = newPassiveRole(c)
	case RoleFollower:
		c.role = newFollowerRole(c)
	case RoleCandidate:
		c.role = newCandidateRole(c)
	case RoleLeader:
		c.role = newLeaderRole(c)
	}
	logger.Infof("%s: became %s at term %d", c.id, tp, c.term)

	if err := c.role.open(); err != nil {
		logger.Errorf("%s: failed to open role %s (%v); falling to %s", c.id, tp, err, RoleReserve)
		c.escalate(err)
	}
}

// escalate is the storage-fault path: the role is no longer safe to
// serve, so the server falls to the quiescent reserve role and
// surfaces the fault to the operator.
func (c *ServerContext) escalate(err error) {
	logger.Errorf("%s: storage fault (%v)", c.id, err)
	if c.role.typ() != RoleReserve {
		c.transitionTo(RoleReserve)
	}
}

// Append is the transport entry point for AppendRequests.
func (c *ServerContext) Append(req *raftpb.AppendRequest) (*raftpb.AppendResponse, error) {
	respc := make(chan *raftpb.AppendResponse, 1)
	if err := c.post(func() { respc <- c.role.handleAppend(req) }); err != nil {
		return nil, err
	}
	select {
	case resp := <-respc:
		return resp, nil
	case <-c.donec:
		return nil, ErrStopped
	}
}

// Install is the transport entry point for InstallRequests.
func (c *ServerContext) Install(req *raftpb.InstallRequest) (*raftpb.InstallResponse, error) {
	respc := make(chan *raftpb.InstallResponse, 1)
	if err := c.post(func() { respc <- c.role.handleInstall(req) }); err != nil {
		return nil, err
	}
	select {
	case resp := <-respc:
		return resp, nil
	case <-c.donec:
		return nil, ErrStopped
	}
}

// Vote is the transport entry point for VoteRequests.
func (c *ServerContext) Vote(req *raftpb.VoteRequest) (*raftpb.VoteResponse, error) {
	respc := make(chan *raftpb.VoteResponse, 1)
	if err := c.post(func() { respc <- c.role.handleVote(req) }); err != nil {
		return nil, err
	}
	select {
	case resp := <-respc:
		return resp, nil
	case <-c.donec:
		return nil, ErrStopped
	}
}

// Query is the transport entry point for QueryRequests. The caller's
// context bounds forwarding to the leader.
func (c *ServerContext) Query(ctx context.Context, req *raftpb.QueryRequest) (*raftpb.QueryResponse, error) {
	respc := make(chan *raftpb.QueryResponse, 1)
	if err := c.post(func() { c.role.handleQuery(req, func(resp *raftpb.QueryResponse) { respc <- resp }) }); err != nil {
		return nil, err
	}
	select {
	case resp := <-respc:
		return resp, nil
	case <-ctx.Done():
		return &raftpb.QueryResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_NO_LEADER}, nil
	case <-c.donec:
		return nil, ErrStopped
	}
}

// RegisterSession opens a new client session; the response Index is
// the session id. Only the leader can register sessions.
func (c *ServerContext) RegisterSession(ctx context.Context) (*raftpb.CommandResponse, error) {
	respc := make(chan *raftpb.CommandResponse, 1)
	err := c.post(func() {
		leader, ok := c.role.(*leaderRole)
		if !ok {
			respc <- &raftpb.CommandResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_NO_LEADER}
			return
		}
		leader.registerSession(func(resp *raftpb.CommandResponse) { respc <- resp })
	})
	if err != nil {
		return nil, err
	}
	select {
	case resp := <-respc:
		return resp, nil
	case <-ctx.Done():
		return &raftpb.CommandResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_NO_LEADER}, nil
	case <-c.donec:
		return nil, ErrStopped
	}
}

// Command is the transport entry point for CommandRequests.
func (c *ServerContext) Command(ctx context.Context, req *raftpb.CommandRequest) (*raftpb.CommandResponse, error) {
	respc := make(chan *raftpb.CommandResponse, 1)
	if err := c.post(func() { c.role.handleCommand(req, func(resp *raftpb.CommandResponse) { respc <- resp }) }); err != nil {
		return nil, err
	}
	select {
	case resp := <-respc:
		return resp, nil
	case <-ctx.Done():
		return &raftpb.CommandResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_COMMAND_FAILURE}, nil
	case <-c.donec:
		return nil, ErrStopped
	}
}
