package raft

import (
	"context"
	"time"

	"github.com/gyuho/raftd/nodeselect"
	"github.com/gyuho/raftd/pkg/types"
	"github.com/gyuho/raftd/raftpb"
)

// updateTermAndLeader observes (term, leader) from an incoming
// message. A strictly greater term advances the current term, clears
// the vote, and steps the server down to follower when it holds a
// voting role. Returns true if the term advanced.
func updateTermAndLeader(c *ServerContext, term uint64, leader types.ID) bool {
	if term > c.term {
		c.term = term
		c.votedFor = types.NoNodeID
		c.mustPersistHardState()
		c.setLeader(leader)

		switch c.role.typ() {
		case RoleCandidate, RoleLeader:
			c.transitionTo(RoleFollower)
		}
		return true
	}

	if term == c.term && leader != types.NoNodeID {
		c.setLeader(leader)
	}
	return false
}

// lastEntryIndexOf returns the index the append request covers: the
// last entry's index, or the previous index when it carries none.
func lastEntryIndexOf(req *raftpb.AppendRequest) uint64 {
	if len(req.Entries) == 0 {
		return req.LogIndex
	}
	return req.Entries[len(req.Entries)-1].Index
}

// rejectAppend replies false with the server's last log index, the
// leader's decrement hint.
func rejectAppend(c *ServerContext) *raftpb.AppendResponse {
	return &raftpb.AppendResponse{
		Status:    raftpb.RESPONSE_STATUS_OK,
		Term:      c.term,
		Succeeded: false,
		LogIndex:  c.logWriter.LastIndex(),
	}
}

// acceptAppend replies true with the last index the request covered.
func acceptAppend(c *ServerContext, lastEntryIndex uint64) *raftpb.AppendResponse {
	return &raftpb.AppendResponse{
		Status:    raftpb.RESPONSE_STATUS_OK,
		Term:      c.term,
		Succeeded: true,
		LogIndex:  lastEntryIndex,
	}
}

// writeEntries writes request entries through the log writer under
// the writer lock. An entry already present with the same term is
// left alone; a conflicting term overwrites and truncates the tail.
// With committedOnly, entries beyond limit are not written; passive
// servers materialize only committed data.
func writeEntries(c *ServerContext, entries []raftpb.Entry, committedOnly bool, limit uint64) error {
	if len(entries) == 0 {
		return nil
	}

	c.logWriter.Lock()
	defer c.logWriter.Unlock()

	for i := range entries {
		ent := entries[i]
		if committedOnly && ent.Index > limit {
			break
		}

		existing, ok := c.logReader.Get(ent.Index)
		if ok && existing.Term == ent.Term {
			continue
		}
		if _, err := c.logWriter.Append(ent); err != nil {
			return err
		}
		logger.Debugf("%s: appended %s", c.id, ent)
	}
	return nil
}

// forwardQuery relays the query to the current leader through a
// leader selector and completes done with the relayed response, or
// NO_LEADER when none is known or reachable.
func forwardQuery(c *ServerContext, req *raftpb.QueryRequest, done func(*raftpb.QueryResponse)) {
	sel := c.selectors.CreateSelector(nodeselect.StrategyLeader)
	to, ok := sel.Next()
	sel.Close()
	if !ok {
		done(&raftpb.QueryResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_NO_LEADER})
		return
	}

	logger.Debugf("%s: forwarding %s to %s", c.id, req, to)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		defer cancel()

		resp, err := c.protocol.Query(ctx, to, req)
		if err != nil {
			resp = &raftpb.QueryResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_NO_LEADER}
		}
		done(resp)
	}()
}

// forwardCommand relays the command to the current leader.
func forwardCommand(c *ServerContext, req *raftpb.CommandRequest, done func(*raftpb.CommandResponse)) {
	sel := c.selectors.CreateSelector(nodeselect.StrategyLeader)
	to, ok := sel.Next()
	sel.Close()
	if !ok {
		done(&raftpb.CommandResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_NO_LEADER})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		defer cancel()

		resp, err := c.protocol.Command(ctx, to, req)
		if err != nil {
			resp = &raftpb.CommandResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_NO_LEADER}
		}
		done(resp)
	}()
}

// nowUnixMilli is the wall clock stamped into query entries; the
// state machine treats it as a read-only parameter.
func nowUnixMilli() uint64 {
	return uint64(time.Now().UnixMilli())
}
