package raft

import (
	"github.com/gyuho/raftd/pkg/types"
	"github.com/gyuho/raftd/raftpb"
)

// reserveRole is the baseline role. It observes terms and leaders but
// serves no traffic; every other role builds on it.
type reserveRole struct {
	c *ServerContext
}

func newReserveRole(c *ServerContext) *reserveRole { return &reserveRole{c: c} }

func (r *reserveRole) typ() RoleType { return RoleReserve }

func (r *reserveRole) open() error  { return nil }
func (r *reserveRole) close() error { return nil }

func (r *reserveRole) tick() {}

// handleAppend still observes term and leader so the reserve server
// keeps a current routing view, but writes nothing.
func (r *reserveRole) handleAppend(req *raftpb.AppendRequest) *raftpb.AppendResponse {
	c := r.c
	c.checkThread()
	updateTermAndLeader(c, req.Term, req.Leader)

	return &raftpb.AppendResponse{
		Status:    raftpb.RESPONSE_STATUS_OK,
		Term:      c.term,
		Succeeded: false,
		LogIndex:  0,
	}
}

func (r *reserveRole) handleInstall(req *raftpb.InstallRequest) *raftpb.InstallResponse {
	c := r.c
	c.checkThread()
	updateTermAndLeader(c, req.Term, req.Leader)

	logger.Debugf("%s: rejected %s: reserve role", c.id, req)
	return &raftpb.InstallResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_ILLEGAL_MEMBER_STATE}
}

func (r *reserveRole) handleVote(req *raftpb.VoteRequest) *raftpb.VoteResponse {
	c := r.c
	c.checkThread()
	updateTermAndLeader(c, req.Term, types.NoNodeID)

	logger.Debugf("%s: rejected vote for %s: reserve role", c.id, req.Candidate)
	return &raftpb.VoteResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Term: c.term, Voted: false}
}

func (r *reserveRole) handleQuery(req *raftpb.QueryRequest, done func(*raftpb.QueryResponse)) {
	r.c.checkThread()
	done(&raftpb.QueryResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_ILLEGAL_MEMBER_STATE})
}

func (r *reserveRole) handleCommand(req *raftpb.CommandRequest, done func(*raftpb.CommandResponse)) {
	r.c.checkThread()
	done(&raftpb.CommandResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_ILLEGAL_MEMBER_STATE})
}
