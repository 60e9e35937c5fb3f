package raft

import (
	"github.com/gyuho/raftd/raftpb"
)

// RoleType is the server's role in the cluster.
type RoleType uint8

const (
	// RoleReserve is the quiescent baseline; it observes terms but
	// rejects nearly all traffic. It is also the safe role the server
	// falls to after a storage fault.
	RoleReserve RoleType = iota

	// RolePassive accepts committed entries and snapshots but does
	// not vote.
	RolePassive

	// RoleFollower replicates the leader's log and votes.
	RoleFollower

	// RoleCandidate is campaigning for leadership.
	RoleCandidate

	// RoleLeader replicates to followers and serves writes.
	RoleLeader
)

func (r RoleType) String() string {
	switch r {
	case RoleReserve:
		return "RESERVE"
	case RolePassive:
		return "PASSIVE"
	case RoleFollower:
		return "FOLLOWER"
	case RoleCandidate:
		return "CANDIDATE"
	case RoleLeader:
		return "LEADER"
	default:
		panic("unknown RoleType")
	}
}

// serverRole is the per-role request handler set. All methods run on
// the server loop; query and command handlers complete asynchronously
// through their callback, which may be invoked from another goroutine.
type serverRole interface {
	typ() RoleType

	open() error
	close() error

	handleAppend(req *raftpb.AppendRequest) *raftpb.AppendResponse
	handleInstall(req *raftpb.InstallRequest) *raftpb.InstallResponse
	handleVote(req *raftpb.VoteRequest) *raftpb.VoteResponse
	handleQuery(req *raftpb.QueryRequest, done func(*raftpb.QueryResponse))
	handleCommand(req *raftpb.CommandRequest, done func(*raftpb.CommandResponse))

	// tick advances the role's logical clock by one server tick.
	tick()
}
