package raftpb

import (
	"fmt"

	"github.com/gyuho/raftd/pkg/types"
)

// AppendRequest replicates log entries from a leader.
// LogIndex and LogTerm identify the entry immediately preceding
// Entries in the leader's log.
type AppendRequest struct {
	Term        uint64
	Leader      types.ID
	LogIndex    uint64
	LogTerm     uint64
	Entries     []Entry
	CommitIndex uint64
}

// AppendResponse acknowledges an AppendRequest. On success LogIndex is
// the index of the last entry covered by the request; on rejection it
// is the receiver's last log index, the leader's decrement hint.
type AppendResponse struct {
	Status    RESPONSE_STATUS
	Term      uint64
	Succeeded bool
	LogIndex  uint64
}

// InstallRequest carries one chunk of a snapshot stream.
// Offset is a chunk count, not a byte offset.
type InstallRequest struct {
	Term     uint64
	Leader   types.ID
	ID       uint64
	Index    uint64
	Offset   uint32
	Data     []byte
	Complete bool
}

// InstallResponse acknowledges an InstallRequest.
type InstallResponse struct {
	Status RESPONSE_STATUS
	Error  ERROR_TYPE
}

// QueryRequest reads the replicated state machine at the given
// consistency level. Session and Sequence scope the read to a
// registered client session.
type QueryRequest struct {
	Session     uint64
	Sequence    uint64
	Index       uint64
	Consistency CONSISTENCY_LEVEL
	Bytes       []byte
}

// QueryResponse carries the state-machine result of a query.
type QueryResponse struct {
	Status     RESPONSE_STATUS
	Index      uint64
	EventIndex uint64
	Result     []byte
	Error      ERROR_TYPE
}

// VoteRequest solicits a vote for the candidate in Term. LogIndex and
// LogTerm describe the candidate's last entry; a voter grants its vote
// only if the candidate's log is at least as up-to-date as its own.
type VoteRequest struct {
	Term      uint64
	Candidate types.ID
	LogIndex  uint64
	LogTerm   uint64
}

// VoteResponse reports whether the vote was granted.
type VoteResponse struct {
	Status RESPONSE_STATUS
	Term   uint64
	Voted  bool
}

// CommandRequest submits a state-machine command for replication.
type CommandRequest struct {
	Session  uint64
	Sequence uint64
	Bytes    []byte
}

// CommandResponse carries the state-machine result of a command.
type CommandResponse struct {
	Status     RESPONSE_STATUS
	Index      uint64
	EventIndex uint64
	Result     []byte
	Error      ERROR_TYPE
}

func (r AppendRequest) String() string {
	return fmt.Sprintf("[append request | term=%d | leader=%s | log index=%d | log term=%d | %d entries | commit index=%d]",
		r.Term, r.Leader, r.LogIndex, r.LogTerm, len(r.Entries), r.CommitIndex)
}

func (r AppendResponse) String() string {
	return fmt.Sprintf("[append response | status=%s | term=%d | succeeded=%v | log index=%d]",
		r.Status, r.Term, r.Succeeded, r.LogIndex)
}

func (r InstallRequest) String() string {
	return fmt.Sprintf("[install request | term=%d | leader=%s | id=%d | index=%d | offset=%d | %d bytes | complete=%v]",
		r.Term, r.Leader, r.ID, r.Index, r.Offset, len(r.Data), r.Complete)
}

func (r QueryRequest) String() string {
	return fmt.Sprintf("[query request | session=%d | sequence=%d | index=%d | consistency=%s]",
		r.Session, r.Sequence, r.Index, r.Consistency)
}
