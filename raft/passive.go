package raft

import (
	"github.com/gyuho/raftd/raftpb"
	"github.com/gyuho/raftd/raftsnap"
	"github.com/gyuho/raftd/rsm"
)

// passiveRole accepts commit traffic and snapshots but does not vote
// and never serves strongly consistent reads locally.
type passiveRole struct {
	*reserveRole

	// pendingSnapshots holds in-flight installs by snapshot id. At
	// most one install is in flight at a time; nextSnapshotOffset is
	// the chunk offset the single active install expects next.
	pendingSnapshots   map[uint64]*raftsnap.Snapshot
	nextSnapshotOffset uint32
}

func newPassiveRole(c *ServerContext) *passiveRole {
	return &passiveRole{
		reserveRole:      newReserveRole(c),
		pendingSnapshots: make(map[uint64]*raftsnap.Snapshot),
	}
}

func (r *passiveRole) typ() RoleType { return RolePassive }

// open truncates uncommitted entries. A server that cannot vote must
// not retain speculative tail entries that could later conflict with
// the leader's canonical log.
func (r *passiveRole) open() error {
	c := r.c
	c.checkThread()

	c.logWriter.Lock()
	defer c.logWriter.Unlock()
	return c.logWriter.Truncate(c.commitIndex)
}

// close discards every pending snapshot.
func (r *passiveRole) close() error {
	r.c.checkThread()
	for id, snap := range r.pendingSnapshots {
		snap.Close()
		snap.Delete()
		delete(r.pendingSnapshots, id)
	}
	r.nextSnapshotOffset = 0
	return nil
}

func (r *passiveRole) handleAppend(req *raftpb.AppendRequest) *raftpb.AppendResponse {
	c := r.c
	c.checkThread()
	updateTermAndLeader(c, req.Term, req.Leader)

	// a stale-term leader is answered with the current term so it
	// steps down
	if req.Term < c.term {
		logger.Debugf("%s: rejected %s: request term below current term %d", c.id, req, c.term)
		return rejectAppend(c)
	}
	return r.checkPreviousEntry(req)
}

// checkPreviousEntry rejects a request whose previous index is ahead
// of this log; the leader decrements and retries.
func (r *passiveRole) checkPreviousEntry(req *raftpb.AppendRequest) *raftpb.AppendResponse {
	c := r.c
	if lastIndex := c.logWriter.LastIndex(); req.LogIndex != 0 && req.LogIndex > lastIndex {
		logger.Debugf("%s: rejected %s: previous index %d ahead of last index %d", c.id, req, req.LogIndex, lastIndex)
		return rejectAppend(c)
	}
	return r.appendEntries(req)
}

// appendEntries writes committed entries and advances the commit
// index. Entries beyond the new commit index are not written; passive
// servers materialize only committed data.
func (r *passiveRole) appendEntries(req *raftpb.AppendRequest) *raftpb.AppendResponse {
	c := r.c

	lastEntryIndex := lastEntryIndexOf(req)
	newCommit := min(req.CommitIndex, lastEntryIndex)
	if c.commitIndex > newCommit {
		newCommit = c.commitIndex
	}

	if err := writeEntries(c, req.Entries, true, newCommit); err != nil {
		c.escalate(err)
		return rejectAppend(c)
	}

	c.setCommitIndex(newCommit)
	c.executor.ApplyAll(c.commitIndex)

	return acceptAppend(c, lastEntryIndex)
}

// handleQuery serves sequential reads locally when this server is
// sufficiently caught up, and forwards everything else to the leader.
func (r *passiveRole) handleQuery(req *raftpb.QueryRequest, done func(*raftpb.QueryResponse)) {
	c := r.c
	c.checkThread()

	if req.Consistency != raftpb.CONSISTENCY_LEVEL_SEQUENTIAL {
		forwardQuery(c, req, done)
		return
	}

	// the session-registration entry must have been applied here;
	// otherwise this server could deny a session that exists
	if c.executor.LastApplied() < req.Session {
		logger.Debugf("%s: state behind session %d, forwarding query to leader", c.id, req.Session)
		forwardQuery(c, req, done)
		return
	}

	// the log must not be behind its own commit pointer
	if c.logWriter.LastIndex() < c.commitIndex {
		logger.Debugf("%s: log behind commit index %d, forwarding query to leader", c.id, c.commitIndex)
		forwardQuery(c, req, done)
		return
	}

	done(applyQuery(c, req))
}

// applyQuery runs the query projection against the local executor.
func applyQuery(c *ServerContext, req *raftpb.QueryRequest) *raftpb.QueryResponse {
	payload := raftpb.QueryPayload{
		Timestamp: nowUnixMilli(),
		Session:   req.Session,
		Sequence:  req.Sequence,
		Op:        req.Bytes,
	}
	entry := raftpb.Entry{
		Index: req.Index,
		Term:  c.term,
		Type:  raftpb.ENTRY_TYPE_QUERY,
		Data:  payload.Marshal(),
	}

	result := c.executor.ApplyQuery(entry)
	return queryResponseOf(result)
}

func queryResponseOf(result rsm.OperationResult) *raftpb.QueryResponse {
	resp := &raftpb.QueryResponse{
		Index:      result.Index,
		EventIndex: result.EventIndex,
	}
	if result.Err != raftpb.ERROR_TYPE_NONE {
		resp.Status = raftpb.RESPONSE_STATUS_ERROR
		resp.Error = result.Err
		return resp
	}
	resp.Status = raftpb.RESPONSE_STATUS_OK
	resp.Result = result.Result
	return resp
}

func commandResponseOf(result rsm.OperationResult) *raftpb.CommandResponse {
	resp := &raftpb.CommandResponse{
		Index:      result.Index,
		EventIndex: result.EventIndex,
	}
	if result.Err != raftpb.ERROR_TYPE_NONE {
		resp.Status = raftpb.RESPONSE_STATUS_ERROR
		resp.Error = result.Err
		return resp
	}
	resp.Status = raftpb.RESPONSE_STATUS_OK
	resp.Result = result.Result
	return resp
}

// handleCommand forwards to the leader; passive servers take no writes.
func (r *passiveRole) handleCommand(req *raftpb.CommandRequest, done func(*raftpb.CommandResponse)) {
	r.c.checkThread()
	forwardCommand(r.c, req, done)
}

// handleInstall receives one chunk of a snapshot stream.
func (r *passiveRole) handleInstall(req *raftpb.InstallRequest) *raftpb.InstallResponse {
	c := r.c
	c.checkThread()
	updateTermAndLeader(c, req.Term, req.Leader)

	if req.Term < c.term {
		logger.Debugf("%s: rejected %s: request term below current term %d", c.id, req, c.term)
		return &raftpb.InstallResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_ILLEGAL_MEMBER_STATE}
	}

	// re-delivery of the final chunk of an already completed install
	if req.Complete {
		if snap, ok := c.snapshots.GetSnapshot(req.ID); ok && snap.Index() == req.Index {
			if _, pending := r.pendingSnapshots[req.ID]; !pending {
				return &raftpb.InstallResponse{Status: raftpb.RESPONSE_STATUS_OK}
			}
		}
	}

	// an in-flight install at a different index is stale; the leader
	// dictates which snapshot this server receives
	pending := r.pendingSnapshots[req.ID]
	if pending != nil && pending.Index() != req.Index {
		pending.Close()
		pending.Delete()
		delete(r.pendingSnapshots, req.ID)
		pending = nil
		r.nextSnapshotOffset = 0
	}

	if pending == nil {
		// the first chunk of a new install must be offset 0
		if req.Offset > 0 {
			logger.Debugf("%s: rejected %s: unexpected first offset", c.id, req)
			return &raftpb.InstallResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_ILLEGAL_MEMBER_STATE}
		}

		snap, err := c.snapshots.CreateSnapshot(req.ID, req.Index)
		if err != nil {
			c.escalate(err)
			return &raftpb.InstallResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_INTERNAL_ERROR}
		}
		r.pendingSnapshots[req.ID] = snap
		r.nextSnapshotOffset = 0
		pending = snap
	}

	// chunks must arrive in order
	if req.Offset > r.nextSnapshotOffset {
		logger.Debugf("%s: rejected %s: expected offset %d", c.id, req, r.nextSnapshotOffset)
		return &raftpb.InstallResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_ILLEGAL_MEMBER_STATE}
	}

	// a chunk below the expected offset was already accepted; answer
	// OK without writing it twice
	if req.Offset < r.nextSnapshotOffset {
		return &raftpb.InstallResponse{Status: raftpb.RESPONSE_STATUS_OK}
	}

	if err := writeSnapshotChunk(pending, req.Data); err != nil {
		c.escalate(err)
		return &raftpb.InstallResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_INTERNAL_ERROR}
	}

	if req.Complete {
		if err := pending.Persist(); err != nil {
			c.escalate(err)
			return &raftpb.InstallResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_INTERNAL_ERROR}
		}
		if err := pending.Complete(); err != nil {
			c.escalate(err)
			return &raftpb.InstallResponse{Status: raftpb.RESPONSE_STATUS_ERROR, Error: raftpb.ERROR_TYPE_INTERNAL_ERROR}
		}
		pending.Close()
		delete(r.pendingSnapshots, req.ID)
		r.nextSnapshotOffset = 0
		logger.Infof("%s: installed snapshot (%d, %d)", c.id, req.ID, req.Index)
	} else {
		r.nextSnapshotOffset++
	}

	return &raftpb.InstallResponse{Status: raftpb.RESPONSE_STATUS_OK}
}

// writeSnapshotChunk appends the chunk under a scoped writer.
func writeSnapshotChunk(snap *raftsnap.Snapshot, data []byte) error {
	w, err := snap.Writer()
	if err != nil {
		return err
	}
	defer w.Close()

	_, err = w.Write(data)
	return err
}
