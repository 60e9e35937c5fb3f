// Package rsm implements the deterministic replicated state machine
// executor.
//
// The executor consumes committed log entries in strictly increasing
// index order and feeds them to a user StateMachine. It owns the
// session table that scopes command sequence numbers for at-most-once
// execution, and delivers operation results to waiters through
// one-shot futures keyed by entry index.
package rsm

import (
	"github.com/gyuho/raftd/pkg/scheduleutil"
	"github.com/gyuho/raftd/pkg/xlog"
	"github.com/gyuho/raftd/raftlog"
	"github.com/gyuho/raftd/raftpb"
)

var logger = xlog.NewLogger("rsm", xlog.INFO)

// StateMachine is the deterministic user state machine. Apply and
// Query are called from a single goroutine; Apply must be a pure
// function of the ordered sequence of applied operations.
type StateMachine interface {
	// Apply executes a command op at the given log index and returns
	// its result. An error is an application failure; it does not
	// abort the apply pipeline.
	Apply(index uint64, op []byte) ([]byte, error)

	// Query reads the state machine without mutating it.
	Query(op []byte) ([]byte, error)
}

// OperationResult is the outcome of one applied operation.
type OperationResult struct {
	Index      uint64
	EventIndex uint64
	Result     []byte

	// Err is ERROR_TYPE_NONE on success.
	Err raftpb.ERROR_TYPE

	// ErrDetail preserves the application failure text, if any.
	ErrDetail string
}

// Executor applies committed entries to the state machine.
type Executor struct {
	sm     StateMachine
	reader *raftlog.Reader
	wait   scheduleutil.Wait

	lastApplied uint64

	sessions map[uint64]*session
}

// NewExecutor returns an executor reading committed entries from reader.
func NewExecutor(sm StateMachine, reader *raftlog.Reader) *Executor {
	return &Executor{
		sm:       sm,
		reader:   reader,
		wait:     scheduleutil.NewWait(),
		sessions: make(map[uint64]*session),
	}
}

// LastApplied returns the index of the last applied entry.
func (e *Executor) LastApplied() uint64 { return e.lastApplied }

// Register returns a future for the result of the entry at index.
// The channel receives an OperationResult when the entry is applied.
func (e *Executor) Register(index uint64) <-chan interface{} {
	return e.wait.Register(index)
}

// ApplyAll applies every entry in (lastApplied, upTo] in index order,
// triggering registered futures along the way.
func (e *Executor) ApplyAll(upTo uint64) {
	for e.lastApplied < upTo {
		ent, ok := e.reader.Get(e.lastApplied + 1)
		if !ok {
			logger.Panicf("entry %d missing below commit index %d", e.lastApplied+1, upTo)
		}
		result := e.Apply(ent)
		e.wait.Trigger(ent.Index, result)
	}
}

// Apply applies one committed entry and advances lastApplied.
// Application failures are captured in the result, never propagated.
func (e *Executor) Apply(ent raftpb.Entry) OperationResult {
	if ent.Index != e.lastApplied+1 {
		logger.Panicf("apply out of order: entry %d, last applied %d", ent.Index, e.lastApplied)
	}
	e.lastApplied = ent.Index

	var result OperationResult
	switch ent.Type {
	case raftpb.ENTRY_TYPE_NOOP:
		result = OperationResult{Index: ent.Index, EventIndex: ent.Index}

	case raftpb.ENTRY_TYPE_CONFIGURATION:
		result = e.applyConfiguration(ent)

	case raftpb.ENTRY_TYPE_COMMAND:
		result = e.applyCommand(ent)

	case raftpb.ENTRY_TYPE_QUERY:
		// query projections in the log carry no state
		result = OperationResult{Index: ent.Index, EventIndex: ent.Index}

	default:
		logger.Panicf("unknown entry type %d at index %d", ent.Type, ent.Index)
	}
	return result
}

func (e *Executor) applyCommand(ent raftpb.Entry) OperationResult {
	var payload raftpb.CommandPayload
	if err := payload.Unmarshal(ent.Data); err != nil {
		return OperationResult{Index: ent.Index, Err: raftpb.ERROR_TYPE_PROTOCOL_ERROR, ErrDetail: err.Error()}
	}

	s, ok := e.sessions[payload.Session]
	if !ok {
		return OperationResult{Index: ent.Index, Err: raftpb.ERROR_TYPE_UNKNOWN_SESSION}
	}

	// at-most-once: a sequence at or below the session's last applied
	// sequence returns the cached result without re-executing
	if payload.Sequence <= s.lastSequence {
		return OperationResult{
			Index:      ent.Index,
			EventIndex: s.lastIndex,
			Result:     s.lastResult,
			Err:        s.lastErr,
			ErrDetail:  s.lastErrDetail,
		}
	}

	out, err := e.sm.Apply(ent.Index, payload.Op)
	result := OperationResult{Index: ent.Index, EventIndex: ent.Index, Result: out}
	if err != nil {
		result.Err = raftpb.ERROR_TYPE_APPLICATION_ERROR
		result.ErrDetail = err.Error()
		logger.Debugf("application error at index %d (%v)", ent.Index, err)
	}

	s.lastSequence = payload.Sequence
	s.lastIndex = ent.Index
	s.lastResult = result.Result
	s.lastErr = result.Err
	s.lastErrDetail = result.ErrDetail
	return result
}

// ApplyQuery executes a query projection against the current state.
// The entry is constructed locally by the serving server and is never
// written to the log; lastApplied does not advance.
func (e *Executor) ApplyQuery(ent raftpb.Entry) OperationResult {
	var payload raftpb.QueryPayload
	if err := payload.Unmarshal(ent.Data); err != nil {
		return OperationResult{Index: ent.Index, Err: raftpb.ERROR_TYPE_PROTOCOL_ERROR, ErrDetail: err.Error()}
	}

	s, ok := e.sessions[payload.Session]
	if !ok {
		return OperationResult{Index: ent.Index, Err: raftpb.ERROR_TYPE_UNKNOWN_SESSION}
	}

	// the timestamp is a read-only parameter; it touches session
	// keep-alive bookkeeping only, never the user state
	if payload.Timestamp > s.timestamp {
		s.timestamp = payload.Timestamp
	}

	out, err := e.sm.Query(payload.Op)
	result := OperationResult{Index: e.lastApplied, EventIndex: s.lastIndex, Result: out}
	if err != nil {
		result.Err = raftpb.ERROR_TYPE_APPLICATION_ERROR
		result.ErrDetail = err.Error()
	}
	return result
}
