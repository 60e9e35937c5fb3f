package raft

import (
	"testing"

	"github.com/gyuho/raftd/pkg/types"
	"github.com/gyuho/raftd/raftpb"
)

// A follower writes the whole request, uncommitted tail included.
func Test_follower_append_writes_uncommitted(t *testing.T) {
	s := newTestServer(t, RoleFollower)
	s.setTerm(t, 3)

	resp, err := s.Append(&raftpb.AppendRequest{
		Term:   3,
		Leader: types.ID(0xa),
		Entries: []raftpb.Entry{
			{Index: 1, Term: 3, Type: raftpb.ENTRY_TYPE_NOOP},
			{Index: 2, Term: 3, Type: raftpb.ENTRY_TYPE_NOOP},
			{Index: 3, Term: 3, Type: raftpb.ENTRY_TYPE_NOOP},
		},
		CommitIndex: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Succeeded {
		t.Fatal("append must succeed")
	}

	if s.logWriter.LastIndex() != 3 {
		t.Fatalf("last index expected 3, got %d", s.logWriter.LastIndex())
	}
	if s.CommitIndex() != 1 {
		t.Fatalf("commit index expected 1, got %d", s.CommitIndex())
	}
	if got := s.executor.LastApplied(); got != 1 {
		t.Fatalf("last applied expected 1, got %d", got)
	}
}

// A previous-term mismatch is refused; the conflicting tail is
// reconciled when the leader retries from an earlier index.
func Test_follower_append_conflict(t *testing.T) {
	s := newTestServer(t, RoleFollower)
	s.setTerm(t, 1)

	if _, err := s.Append(&raftpb.AppendRequest{
		Term:   1,
		Leader: types.ID(0xa),
		Entries: []raftpb.Entry{
			{Index: 1, Term: 1, Type: raftpb.ENTRY_TYPE_NOOP},
			{Index: 2, Term: 1, Type: raftpb.ENTRY_TYPE_NOOP},
			{Index: 3, Term: 1, Type: raftpb.ENTRY_TYPE_NOOP},
		},
	}); err != nil {
		t.Fatal(err)
	}

	// new leader at term 2 whose log diverges at index 2
	resp, err := s.Append(&raftpb.AppendRequest{
		Term:     2,
		Leader:   types.ID(0xb),
		LogIndex: 2,
		LogTerm:  2, // local entry 2 has term 1
		Entries:  []raftpb.Entry{{Index: 3, Term: 2, Type: raftpb.ENTRY_TYPE_NOOP}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Succeeded {
		t.Fatal("mismatched previous term must be refused")
	}
	if s.Term() != 2 {
		t.Fatalf("term expected 2, got %d", s.Term())
	}

	// the leader decremented; entries 2..3 overwrite the stale tail
	resp, err = s.Append(&raftpb.AppendRequest{
		Term:     2,
		Leader:   types.ID(0xb),
		LogIndex: 1,
		LogTerm:  1,
		Entries: []raftpb.Entry{
			{Index: 2, Term: 2, Type: raftpb.ENTRY_TYPE_NOOP},
			{Index: 3, Term: 2, Type: raftpb.ENTRY_TYPE_NOOP},
		},
		CommitIndex: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Succeeded {
		t.Fatal("append must succeed after decrement")
	}
	ent, ok := s.logReader.Get(2)
	if !ok || ent.Term != 2 {
		t.Fatalf("entry 2 expected term 2, got %+v (ok=%v)", ent, ok)
	}
}

func Test_follower_vote(t *testing.T) {
	tests := []struct {
		reqTerm   uint64
		candidate types.ID
		logIndex  uint64
		logTerm   uint64

		wVoted bool
		wTerm  uint64
	}{
		// up-to-date candidate is granted
		{2, 0xc, 3, 1, true, 2},

		// stale term is refused
		{1, 0xc, 3, 1, false, 2},

		// shorter log at the same term is refused
		{3, 0xd, 2, 1, false, 3},

		// higher last-log term wins despite a shorter log
		{4, 0xd, 1, 2, true, 4},
	}

	s := newTestServer(t, RoleFollower)
	s.setTerm(t, 1)
	s.seedLog(t, 3, 1) // local log: 3 entries at term 1

	for i, tt := range tests {
		resp, err := s.Vote(&raftpb.VoteRequest{
			Term:      tt.reqTerm,
			Candidate: tt.candidate,
			LogIndex:  tt.logIndex,
			LogTerm:   tt.logTerm,
		})
		if err != nil {
			t.Fatalf("#%d: %v", i, err)
		}
		if resp.Voted != tt.wVoted {
			t.Fatalf("#%d: voted expected %v, got %v", i, tt.wVoted, resp.Voted)
		}
		if resp.Term != tt.wTerm {
			t.Fatalf("#%d: term expected %d, got %d", i, tt.wTerm, resp.Term)
		}
	}
}

// At most one vote per term.
func Test_follower_vote_once_per_term(t *testing.T) {
	s := newTestServer(t, RoleFollower)
	s.setTerm(t, 1)

	resp, err := s.Vote(&raftpb.VoteRequest{Term: 2, Candidate: 0xc})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Voted {
		t.Fatal("first vote must be granted")
	}

	resp, err = s.Vote(&raftpb.VoteRequest{Term: 2, Candidate: 0xd})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Voted {
		t.Fatal("second vote in the same term must be refused")
	}

	// the same candidate retrying is granted again
	resp, err = s.Vote(&raftpb.VoteRequest{Term: 2, Candidate: 0xc})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Voted {
		t.Fatal("repeat vote for the same candidate must be granted")
	}
}

// A higher-term message advances the term and clears the vote.
func Test_term_monotonic_vote_cleared(t *testing.T) {
	s := newTestServer(t, RoleFollower)
	s.setTerm(t, 1)

	if _, err := s.Vote(&raftpb.VoteRequest{Term: 2, Candidate: 0xc}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Append(&raftpb.AppendRequest{Term: 5, Leader: 0xb}); err != nil {
		t.Fatal(err)
	}
	if s.Term() != 5 {
		t.Fatalf("term expected 5, got %d", s.Term())
	}

	// votedFor was reset at the term advance
	hs, err := s.stable.Load()
	if err != nil {
		t.Fatal(err)
	}
	if hs.Term != 5 || hs.VotedFor != types.NoNodeID {
		t.Fatalf("hard state expected (5, none), got %+v", hs)
	}

	resp, err := s.Vote(&raftpb.VoteRequest{Term: 5, Candidate: 0xc})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Voted {
		t.Fatal("vote must be grantable again after the term advance")
	}
}

// Election timeout turns a follower into a candidate.
func Test_follower_election_timeout(t *testing.T) {
	s := newTestServer(t, RoleFollower, 1, 2, 3)

	// no vote responses arrive (peers unreachable), so the server
	// stays candidate
	s.ticks(t, 2*DefaultElectionTicks)

	if got := s.Role(); got != RoleCandidate {
		t.Fatalf("role expected %s, got %s", RoleCandidate, got)
	}
	if s.Term() == 0 {
		t.Fatal("campaigning must increment the term")
	}
	if s.Leader() != types.NoNodeID {
		t.Fatalf("leader expected none, got %s", s.Leader())
	}
}
