package raft

import (
	"github.com/gyuho/raftd/pkg/types"
	"github.com/gyuho/raftd/raftpb"
)

// followerRole replicates the leader's log, grants votes, and
// campaigns when the leader goes quiet.
type followerRole struct {
	*passiveRole

	electionElapsed int
}

func newFollowerRole(c *ServerContext) *followerRole {
	return &followerRole{passiveRole: newPassiveRole(c)}
}

func (r *followerRole) typ() RoleType { return RoleFollower }

// open arms the election timer. Unlike passive, a follower keeps its
// uncommitted tail; the append consistency check reconciles it.
func (r *followerRole) open() error {
	c := r.c
	c.checkThread()
	r.resetElectionTimer()
	return nil
}

func (r *followerRole) resetElectionTimer() {
	c := r.c
	r.electionElapsed = 0
	c.randomizedElection = c.electionTicks + c.rand.Intn(c.electionTicks)
}

// tick counts toward the election timeout; a full timeout without
// leader contact starts a campaign.
func (r *followerRole) tick() {
	c := r.c
	r.electionElapsed++
	if r.electionElapsed >= c.randomizedElection {
		logger.Infof("%s: election timeout at term %d", c.id, c.term)
		c.transitionTo(RoleCandidate)
	}
}

func (r *followerRole) handleAppend(req *raftpb.AppendRequest) *raftpb.AppendResponse {
	c := r.c
	c.checkThread()
	updateTermAndLeader(c, req.Term, req.Leader)

	if req.Term < c.term {
		logger.Debugf("%s: rejected %s: request term below current term %d", c.id, req, c.term)
		return rejectAppend(c)
	}

	r.resetElectionTimer()

	// consistency check against the entry preceding the request
	if req.LogIndex != 0 {
		lastIndex := c.logWriter.LastIndex()
		if req.LogIndex > lastIndex {
			logger.Debugf("%s: rejected %s: previous index %d ahead of last index %d", c.id, req, req.LogIndex, lastIndex)
			return rejectAppend(c)
		}
		if prev, ok := c.logReader.Get(req.LogIndex); !ok || prev.Term != req.LogTerm {
			logger.Debugf("%s: rejected %s: previous term mismatch", c.id, req)
			return rejectAppend(c)
		}
	}

	// a voting member writes the whole request, uncommitted tail
	// included; conflicting entries truncate through the writer
	if err := writeEntries(c, req.Entries, false, 0); err != nil {
		c.escalate(err)
		return rejectAppend(c)
	}

	lastEntryIndex := lastEntryIndexOf(req)
	newCommit := min(req.CommitIndex, lastEntryIndex)
	c.setCommitIndex(newCommit)
	c.executor.ApplyAll(c.commitIndex)

	return acceptAppend(c, lastEntryIndex)
}

// handleVote grants at most one vote per term, and only to a
// candidate whose log is at least as up-to-date as this one.
func (r *followerRole) handleVote(req *raftpb.VoteRequest) *raftpb.VoteResponse {
	c := r.c
	c.checkThread()
	updateTermAndLeader(c, req.Term, types.NoNodeID)

	if req.Term < c.term {
		logger.Debugf("%s: rejected vote for %s: request term below current term %d", c.id, req.Candidate, c.term)
		return &raftpb.VoteResponse{Status: raftpb.RESPONSE_STATUS_OK, Term: c.term, Voted: false}
	}

	if c.votedFor != types.NoNodeID && c.votedFor != req.Candidate {
		logger.Debugf("%s: rejected vote for %s: already voted for %s in term %d", c.id, req.Candidate, c.votedFor, c.term)
		return &raftpb.VoteResponse{Status: raftpb.RESPONSE_STATUS_OK, Term: c.term, Voted: false}
	}

	if !r.candidateLogUpToDate(req) {
		logger.Debugf("%s: rejected vote for %s: candidate log not up-to-date", c.id, req.Candidate)
		return &raftpb.VoteResponse{Status: raftpb.RESPONSE_STATUS_OK, Term: c.term, Voted: false}
	}

	c.votedFor = req.Candidate
	c.mustPersistHardState()
	r.resetElectionTimer()
	logger.Infof("%s: voted for %s at term %d", c.id, req.Candidate, c.term)
	return &raftpb.VoteResponse{Status: raftpb.RESPONSE_STATUS_OK, Term: c.term, Voted: true}
}

func (r *followerRole) candidateLogUpToDate(req *raftpb.VoteRequest) bool {
	c := r.c
	lastIndex := c.logWriter.LastIndex()
	var lastTerm uint64
	if ent, ok := c.logReader.Get(lastIndex); ok {
		lastTerm = ent.Term
	}

	if req.LogTerm != lastTerm {
		return req.LogTerm > lastTerm
	}
	return req.LogIndex >= lastIndex
}
