package rsm

import (
	"github.com/gyuho/raftd/raftpb"
)

// session is one registered client session. The session id is the
// index of the CONFIGURATION entry that registered it, so a server
// that has applied up to the id has necessarily seen the registration.
type session struct {
	id uint64

	// lastSequence is the highest command sequence applied for this
	// session; commands at or below it are duplicates.
	lastSequence uint64

	// cached result of the last applied command, returned verbatim
	// on duplicate delivery
	lastIndex     uint64
	lastResult    []byte
	lastErr       raftpb.ERROR_TYPE
	lastErrDetail string

	// timestamp is the last keep-alive observed, in wall-clock
	// milliseconds of the server that served the query; bookkeeping only.
	timestamp uint64
}

func (e *Executor) applyConfiguration(ent raftpb.Entry) OperationResult {
	var payload raftpb.ConfigPayload
	if err := payload.Unmarshal(ent.Data); err != nil {
		return OperationResult{Index: ent.Index, Err: raftpb.ERROR_TYPE_PROTOCOL_ERROR, ErrDetail: err.Error()}
	}

	switch payload.Change {
	case raftpb.CONFIG_CHANGE_REGISTER_SESSION:
		id := ent.Index
		e.sessions[id] = &session{id: id, lastIndex: id}
		logger.Debugf("registered session %d", id)
		return OperationResult{Index: ent.Index, EventIndex: ent.Index}

	case raftpb.CONFIG_CHANGE_UNREGISTER_SESSION:
		if _, ok := e.sessions[payload.Session]; !ok {
			return OperationResult{Index: ent.Index, Err: raftpb.ERROR_TYPE_UNKNOWN_SESSION}
		}
		delete(e.sessions, payload.Session)
		logger.Debugf("unregistered session %d", payload.Session)
		return OperationResult{Index: ent.Index, EventIndex: ent.Index}

	default:
		return OperationResult{Index: ent.Index, Err: raftpb.ERROR_TYPE_PROTOCOL_ERROR}
	}
}

// HasSession returns true if the session is registered.
func (e *Executor) HasSession(id uint64) bool {
	_, ok := e.sessions[id]
	return ok
}
