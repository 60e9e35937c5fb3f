package raft

import (
	"context"

	"github.com/gyuho/raftd/pkg/types"
	"github.com/gyuho/raftd/raftpb"
)

// candidateRole campaigns for leadership: it increments the term,
// votes for itself, and solicits votes from the other members.
type candidateRole struct {
	*followerRole

	votes map[types.ID]bool
}

func newCandidateRole(c *ServerContext) *candidateRole {
	return &candidateRole{followerRole: newFollowerRole(c)}
}

func (r *candidateRole) typ() RoleType { return RoleCandidate }

func (r *candidateRole) open() error {
	r.c.checkThread()
	r.startElection()
	return nil
}

func (r *candidateRole) startElection() {
	c := r.c

	c.term++
	c.votedFor = c.id
	c.mustPersistHardState()
	c.setLeader(types.NoNodeID)
	r.resetElectionTimer()

	r.votes = map[types.ID]bool{c.id: true}
	logger.Infof("%s: campaigning at term %d", c.id, c.term)

	if r.countVotes() >= c.quorum() {
		c.transitionTo(RoleLeader)
		return
	}

	term := c.term
	lastIndex := c.logWriter.LastIndex()
	var lastTerm uint64
	if ent, ok := c.logReader.Get(lastIndex); ok {
		lastTerm = ent.Term
	}
	req := &raftpb.VoteRequest{Term: term, Candidate: c.id, LogIndex: lastIndex, LogTerm: lastTerm}

	for _, peer := range c.members {
		if peer == c.id {
			continue
		}
		go r.requestVote(peer, term, req)
	}
}

func (r *candidateRole) requestVote(peer types.ID, term uint64, req *raftpb.VoteRequest) {
	c := r.c

	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()

	resp, err := c.protocol.Vote(ctx, peer, req)
	if err != nil {
		logger.Debugf("%s: vote request to %s failed (%v)", c.id, peer, err)
		return
	}

	c.post(func() {
		// the election may be over, or a new one may have started
		if c.role != serverRole(r) || c.term != term {
			return
		}

		if resp.Term > c.term {
			updateTermAndLeader(c, resp.Term, types.NoNodeID)
			return
		}
		if !resp.Voted {
			return
		}

		r.votes[peer] = true
		if r.countVotes() >= c.quorum() {
			c.transitionTo(RoleLeader)
		}
	})
}

func (r *candidateRole) countVotes() int {
	n := 0
	for _, granted := range r.votes {
		if granted {
			n++
		}
	}
	return n
}

// tick restarts the election with a new term when this one times out.
func (r *candidateRole) tick() {
	r.electionElapsed++
	if r.electionElapsed >= r.c.randomizedElection {
		r.startElection()
	}
}

// handleAppend from a current-or-higher term means a leader exists;
// step down to follower first, then handle the request there.
func (r *candidateRole) handleAppend(req *raftpb.AppendRequest) *raftpb.AppendResponse {
	c := r.c
	c.checkThread()

	if req.Term >= c.term {
		if req.Term == c.term {
			// a leader won this term; fall back without a term bump
			c.setLeader(req.Leader)
			c.transitionTo(RoleFollower)
		} else {
			updateTermAndLeader(c, req.Term, req.Leader)
		}
		return c.role.handleAppend(req)
	}

	logger.Debugf("%s: rejected %s: request term below current term %d", c.id, req, c.term)
	return rejectAppend(c)
}

func (r *candidateRole) handleInstall(req *raftpb.InstallRequest) *raftpb.InstallResponse {
	c := r.c
	c.checkThread()

	if req.Term >= c.term {
		if req.Term == c.term {
			c.setLeader(req.Leader)
			c.transitionTo(RoleFollower)
		} else {
			updateTermAndLeader(c, req.Term, req.Leader)
		}
		return c.role.handleInstall(req)
	}

	return &raftpb.InstallResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_ILLEGAL_MEMBER_STATE}
}

// handleVote while campaigning: a higher term demotes to follower and
// is handled there; otherwise the vote went to this candidate itself.
func (r *candidateRole) handleVote(req *raftpb.VoteRequest) *raftpb.VoteResponse {
	c := r.c
	c.checkThread()

	if req.Term > c.term {
		updateTermAndLeader(c, req.Term, types.NoNodeID)
		return c.role.handleVote(req)
	}

	return &raftpb.VoteResponse{Status: raftpb.RESPONSE_STATUS_OK, Term: c.term, Voted: false}
}
