package raft

import (
	"context"
	"testing"
	"time"

	"github.com/gyuho/raftd/pkg/types"
	"github.com/gyuho/raftd/raftpb"
)

// electLeader campaigns a single-member server into leadership.
func electLeader(t *testing.T, s *testServer) {
	t.Helper()
	s.ticks(t, 2*DefaultElectionTicks)
	if got := s.Role(); got != RoleLeader {
		t.Fatalf("role expected %s, got %s", RoleLeader, got)
	}
}

// A single-member cluster elects itself and commits its no-op.
func Test_leader_single_member_election(t *testing.T) {
	s := newTestServer(t, RoleFollower)
	electLeader(t, s)

	if s.Leader() != s.ID() {
		t.Fatalf("leader expected %s, got %s", s.ID(), s.Leader())
	}

	// the term-opening no-op is committed by the quorum of one
	if s.CommitIndex() != 1 {
		t.Fatalf("commit index expected 1, got %d", s.CommitIndex())
	}
	ent, ok := s.logReader.Get(1)
	if !ok || ent.Type != raftpb.ENTRY_TYPE_NOOP {
		t.Fatalf("no-op expected at 1, got %+v (ok=%v)", ent, ok)
	}
}

// Commands round-trip: session registration, execution, duplicate
// suppression via the session cache.
func Test_leader_command_round_trip(t *testing.T) {
	s := newTestServer(t, RoleFollower)
	electLeader(t, s)

	reg, err := s.RegisterSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if reg.Status != raftpb.RESPONSE_STATUS_OK {
		t.Fatalf("session registration failed: %+v", reg)
	}
	session := reg.Index

	req := &raftpb.CommandRequest{Session: session, Sequence: 1, Bytes: []byte("payload")}
	resp, err := s.Command(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != raftpb.RESPONSE_STATUS_OK {
		t.Fatalf("command failed: %+v", resp)
	}
	if string(resp.Result) != "payload" {
		t.Fatalf("result expected payload, got %q", resp.Result)
	}

	// the retry is logged again but not re-executed
	if _, err = s.Command(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	s.sm.mu.Lock()
	n := len(s.sm.applied)
	s.sm.mu.Unlock()
	if n != 1 {
		t.Fatalf("command must execute once, got %d", n)
	}
}

// Leader serves queries locally; a linearizable read on a quorum of
// one needs no confirmation round.
func Test_leader_query_local(t *testing.T) {
	s := newTestServer(t, RoleFollower)
	electLeader(t, s)

	reg, err := s.RegisterSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	for _, consistency := range []raftpb.CONSISTENCY_LEVEL{
		raftpb.CONSISTENCY_LEVEL_SEQUENTIAL,
		raftpb.CONSISTENCY_LEVEL_BOUNDED_LINEARIZABLE,
		raftpb.CONSISTENCY_LEVEL_LINEARIZABLE,
	} {
		resp, err := s.Query(context.Background(), &raftpb.QueryRequest{
			Session:     reg.Index,
			Sequence:    1,
			Consistency: consistency,
			Bytes:       []byte("k"),
		})
		if err != nil {
			t.Fatal(err)
		}
		if resp.Status != raftpb.RESPONSE_STATUS_OK {
			t.Fatalf("%s: query failed: %+v", consistency, resp)
		}
		if string(resp.Result) != "read:k" {
			t.Fatalf("%s: result expected read:k, got %q", consistency, resp.Result)
		}
	}
}

// An unknown session is answered with UNKNOWN_SESSION, not a fault.
func Test_leader_query_unknown_session(t *testing.T) {
	s := newTestServer(t, RoleFollower)
	electLeader(t, s)

	resp, err := s.Query(context.Background(), &raftpb.QueryRequest{
		Session:     999,
		Consistency: raftpb.CONSISTENCY_LEVEL_SEQUENTIAL,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != raftpb.RESPONSE_STATUS_ERROR || resp.Error != raftpb.ERROR_TYPE_UNKNOWN_SESSION {
		t.Fatalf("expected UNKNOWN_SESSION, got %+v", resp)
	}
}

// The leader replicates to a follower and advances commit on quorum.
func Test_leader_replicates_to_follower(t *testing.T) {
	s := newTestServer(t, RoleFollower, 1, 2)

	// peer 2 acknowledges everything
	s.protocol.mu.Lock()
	s.protocol.appendFn = func(to types.ID, req *raftpb.AppendRequest) (*raftpb.AppendResponse, error) {
		last := req.LogIndex
		if len(req.Entries) > 0 {
			last = req.Entries[len(req.Entries)-1].Index
		}
		return &raftpb.AppendResponse{Status: raftpb.RESPONSE_STATUS_OK, Term: req.Term, Succeeded: true, LogIndex: last}, nil
	}
	s.protocol.voteFn = func(to types.ID, req *raftpb.VoteRequest) (*raftpb.VoteResponse, error) {
		return &raftpb.VoteResponse{Status: raftpb.RESPONSE_STATUS_OK, Term: req.Term, Voted: true}, nil
	}
	s.protocol.mu.Unlock()

	s.ticks(t, 2*DefaultElectionTicks)

	deadline := time.Now().Add(5 * time.Second)
	for {
		var (
			role   RoleType
			commit uint64
		)
		s.onLoop(t, func() { role, commit = s.role.typ(), s.commitIndex })
		if role == RoleLeader && commit >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no-op never committed: role=%s commit=%d", role, commit)
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.onLoop(t, func() {
		leader := s.role.(*leaderRole)
		pr := leader.progress[2]
		if pr == nil || pr.MatchIndex < 1 {
			t.Errorf("follower progress expected match >= 1, got %+v", pr)
		}
	})
}

// A higher-term append response steps the leader down.
func Test_leader_steps_down_on_higher_term(t *testing.T) {
	s := newTestServer(t, RoleFollower)
	electLeader(t, s)

	term := s.Term()
	resp, err := s.Append(&raftpb.AppendRequest{Term: term + 1, Leader: 0xb})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Succeeded {
		t.Fatal("append from the new leader must succeed")
	}
	if s.Role() != RoleFollower {
		t.Fatalf("role expected %s, got %s", RoleFollower, s.Role())
	}
	if s.Term() != term+1 {
		t.Fatalf("term expected %d, got %d", term+1, s.Term())
	}
}

func Test_stable_store(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStableStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	// a missing file is an empty state
	hs, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if hs != (HardState{}) {
		t.Fatalf("empty state expected, got %+v", hs)
	}

	whs := HardState{Term: 7, VotedFor: 0xc}
	if err = st.Save(whs); err != nil {
		t.Fatal(err)
	}
	hs, err = st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if hs != whs {
		t.Fatalf("state expected %+v, got %+v", whs, hs)
	}
}
