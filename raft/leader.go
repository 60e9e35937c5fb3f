package raft

import (
	"context"
	"sort"

	"github.com/gyuho/raftd/pkg/types"
	"github.com/gyuho/raftd/raftpb"
	"github.com/gyuho/raftd/rsm"
)

// maxEntriesPerAppend caps one replication batch.
const maxEntriesPerAppend = 64

// leaderRole replicates the log to followers and serves writes. On
// open it appends a no-op entry in the new term; entries from prior
// terms commit only behind it.
type leaderRole struct {
	*followerRole

	progress map[types.ID]*Progress

	heartbeatElapsed int

	// confirms are linearizable reads waiting on a quorum round.
	confirms []*leadershipConfirm
}

type leadershipConfirm struct {
	acked map[types.ID]bool
	done  func(ok bool)
}

func newLeaderRole(c *ServerContext) *leaderRole {
	return &leaderRole{followerRole: newFollowerRole(c)}
}

func (r *leaderRole) typ() RoleType { return RoleLeader }

func (r *leaderRole) open() error {
	c := r.c
	c.checkThread()

	c.setLeader(c.id)

	lastIndex := c.logWriter.LastIndex()
	r.progress = make(map[types.ID]*Progress, len(c.members))
	for _, peer := range c.members {
		if peer == c.id {
			continue
		}
		r.progress[peer] = &Progress{NextIndex: lastIndex + 1}
	}

	// the no-op carries the new term; committing it commits every
	// earlier entry (Leader Completeness)
	c.logWriter.Lock()
	ent, err := c.logWriter.Append(raftpb.Entry{Term: c.term, Type: raftpb.ENTRY_TYPE_NOOP})
	c.logWriter.Unlock()
	if err != nil {
		return err
	}
	logger.Infof("%s: appended no-op %d at term %d", c.id, ent.Index, c.term)

	r.advanceCommit()
	r.broadcast()
	return nil
}

func (r *leaderRole) close() error {
	for _, confirm := range r.confirms {
		confirm.done(false)
	}
	r.confirms = nil
	return r.followerRole.close()
}

// tick replicates on the heartbeat interval.
func (r *leaderRole) tick() {
	r.heartbeatElapsed++
	if r.heartbeatElapsed >= r.c.heartbeatTicks {
		r.heartbeatElapsed = 0
		r.broadcast()
	}
}

func (r *leaderRole) broadcast() {
	for peer := range r.progress {
		r.replicateTo(peer)
	}
}

// replicateTo sends the follower everything from its next index, or
// an empty heartbeat when it is caught up.
func (r *leaderRole) replicateTo(peer types.ID) {
	c := r.c
	pr := r.progress[peer]

	prevIndex := pr.NextIndex - 1
	var prevTerm uint64
	if prevIndex > 0 {
		prev, ok := c.logReader.Get(prevIndex)
		if !ok {
			// compacted away; the snapshot path takes over
			logger.Warningf("%s: entry %d for %s not in log", c.id, prevIndex, peer)
			return
		}
		prevTerm = prev.Term
	}

	var entries []raftpb.Entry
	cur := c.logReader.Cursor(pr.NextIndex)
	for len(entries) < maxEntriesPerAppend {
		ent, ok := cur.Next()
		if !ok {
			break
		}
		entries = append(entries, ent)
	}

	req := &raftpb.AppendRequest{
		Term:        c.term,
		Leader:      c.id,
		LogIndex:    prevIndex,
		LogTerm:     prevTerm,
		Entries:     entries,
		CommitIndex: c.commitIndex,
	}
	term := c.term

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		defer cancel()

		resp, err := c.protocol.Append(ctx, peer, req)
		if err != nil {
			logger.Debugf("%s: append to %s failed (%v)", c.id, peer, err)
			return
		}
		c.post(func() { r.onAppendResponse(peer, term, req, resp) })
	}()
}

func (r *leaderRole) onAppendResponse(peer types.ID, term uint64, req *raftpb.AppendRequest, resp *raftpb.AppendResponse) {
	c := r.c
	if c.role != serverRole(r) || c.term != term {
		return
	}

	if resp.Term > c.term {
		updateTermAndLeader(c, resp.Term, types.NoNodeID)
		return
	}

	pr := r.progress[peer]
	if pr == nil {
		return
	}

	if resp.Succeeded {
		if resp.LogIndex > pr.MatchIndex {
			pr.MatchIndex = resp.LogIndex
		}
		pr.NextIndex = pr.MatchIndex + 1
		r.ackConfirms(peer)
		r.advanceCommit()
		return
	}

	// decrement and retry; the follower's last index is the hint
	next := pr.NextIndex - 1
	if resp.LogIndex+1 < next {
		next = resp.LogIndex + 1
	}
	if next < 1 {
		next = 1
	}
	pr.NextIndex = next
	r.replicateTo(peer)
}

// advanceCommit moves the commit index to the quorum match index,
// but only for entries of the current term.
func (r *leaderRole) advanceCommit() {
	c := r.c

	matches := make([]uint64, 0, len(c.members))
	matches = append(matches, c.logWriter.LastIndex())
	for _, pr := range r.progress {
		matches = append(matches, pr.MatchIndex)
	}
	sort.Sort(sort.Reverse(types.Uint64Slice(matches)))

	quorumIndex := matches[c.quorum()-1]
	if quorumIndex <= c.commitIndex {
		return
	}
	if ent, ok := c.logReader.Get(quorumIndex); !ok || ent.Term != c.term {
		return
	}

	c.setCommitIndex(quorumIndex)
	c.executor.ApplyAll(c.commitIndex)
}

// handleCommand appends the command and answers when it is applied.
func (r *leaderRole) handleCommand(req *raftpb.CommandRequest, done func(*raftpb.CommandResponse)) {
	c := r.c
	c.checkThread()

	payload := raftpb.CommandPayload{Session: req.Session, Sequence: req.Sequence, Op: req.Bytes}
	c.logWriter.Lock()
	ent, err := c.logWriter.Append(raftpb.Entry{
		Term: c.term,
		Type: raftpb.ENTRY_TYPE_COMMAND,
		Data: payload.Marshal(),
	})
	c.logWriter.Unlock()
	if err != nil {
		c.escalate(err)
		done(&raftpb.CommandResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_COMMAND_FAILURE})
		return
	}

	resultc := c.executor.Register(ent.Index)
	go func() {
		result, ok := (<-resultc).(rsm.OperationResult)
		if !ok {
			done(&raftpb.CommandResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_INTERNAL_ERROR})
			return
		}
		done(commandResponseOf(result))
	}()

	r.advanceCommit()
	r.broadcast()
}

// registerSession appends a session-registration entry; the reply
// carries the new session id in Index.
func (r *leaderRole) registerSession(done func(*raftpb.CommandResponse)) {
	c := r.c

	c.logWriter.Lock()
	ent, err := c.logWriter.Append(raftpb.Entry{
		Term: c.term,
		Type: raftpb.ENTRY_TYPE_CONFIGURATION,
		Data: (&raftpb.ConfigPayload{Change: raftpb.CONFIG_CHANGE_REGISTER_SESSION}).Marshal(),
	})
	c.logWriter.Unlock()
	if err != nil {
		c.escalate(err)
		done(&raftpb.CommandResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_COMMAND_FAILURE})
		return
	}

	resultc := c.executor.Register(ent.Index)
	go func() {
		result, ok := (<-resultc).(rsm.OperationResult)
		if !ok {
			done(&raftpb.CommandResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_INTERNAL_ERROR})
			return
		}
		done(commandResponseOf(result))
	}()

	r.advanceCommit()
	r.broadcast()
}

// handleQuery serves reads locally. Linearizable reads first confirm
// leadership with a quorum round; sequential and bounded reads rely
// on the leader's up-to-date state machine.
func (r *leaderRole) handleQuery(req *raftpb.QueryRequest, done func(*raftpb.QueryResponse)) {
	c := r.c
	c.checkThread()

	if req.Consistency != raftpb.CONSISTENCY_LEVEL_LINEARIZABLE {
		done(applyQuery(c, req))
		return
	}

	r.confirmLeadership(func(ok bool) {
		if !ok {
			done(&raftpb.QueryResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_NO_LEADER})
			return
		}
		done(applyQuery(c, req))
	})
}

// confirmLeadership resolves cb(true) once a quorum has acknowledged
// this leader for the current term. The pending confirm is acked by
// successful append responses; a heartbeat round is forced so the
// confirmation does not wait for the next tick.
func (r *leaderRole) confirmLeadership(cb func(ok bool)) {
	if r.c.quorum() == 1 {
		cb(true)
		return
	}
	r.confirms = append(r.confirms, &leadershipConfirm{
		acked: map[types.ID]bool{r.c.id: true},
		done:  cb,
	})
	r.broadcast()
}

func (r *leaderRole) ackConfirms(peer types.ID) {
	quorum := r.c.quorum()
	kept := r.confirms[:0]
	for _, confirm := range r.confirms {
		confirm.acked[peer] = true
		if len(confirm.acked) >= quorum {
			confirm.done(true)
			continue
		}
		kept = append(kept, confirm)
	}
	r.confirms = kept
}

func (r *leaderRole) handleAppend(req *raftpb.AppendRequest) *raftpb.AppendResponse {
	c := r.c
	c.checkThread()

	// two leaders in one term cannot happen; only a higher term
	// demotes this one
	if req.Term > c.term {
		updateTermAndLeader(c, req.Term, req.Leader)
		return c.role.handleAppend(req)
	}

	logger.Debugf("%s: rejected %s: this server leads term %d", c.id, req, c.term)
	return rejectAppend(c)
}

func (r *leaderRole) handleInstall(req *raftpb.InstallRequest) *raftpb.InstallResponse {
	c := r.c
	c.checkThread()

	if req.Term > c.term {
		updateTermAndLeader(c, req.Term, req.Leader)
		return c.role.handleInstall(req)
	}
	return &raftpb.InstallResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_ILLEGAL_MEMBER_STATE}
}

func (r *leaderRole) handleVote(req *raftpb.VoteRequest) *raftpb.VoteResponse {
	c := r.c
	c.checkThread()

	if req.Term > c.term {
		updateTermAndLeader(c, req.Term, types.NoNodeID)
		return c.role.handleVote(req)
	}
	return &raftpb.VoteResponse{Status: raftpb.RESPONSE_STATUS_OK, Term: c.term, Voted: false}
}
