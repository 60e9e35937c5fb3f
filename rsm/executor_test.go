package rsm

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gyuho/raftd/raftlog"
	"github.com/gyuho/raftd/raftpb"
)

// countingMachine counts Apply calls per op so duplicate suppression
// is observable.
type countingMachine struct {
	applied map[string]int
	failOn  string
}

func newCountingMachine() *countingMachine {
	return &countingMachine{applied: make(map[string]int)}
}

func (m *countingMachine) Apply(index uint64, op []byte) ([]byte, error) {
	m.applied[string(op)]++
	if string(op) == m.failOn {
		return nil, errors.New("boom")
	}
	return append([]byte("ok:"), op...), nil
}

func (m *countingMachine) Query(op []byte) ([]byte, error) {
	return append([]byte("read:"), op...), nil
}

func testExecutor(t *testing.T, sm StateMachine) (*Executor, *raftlog.Writer) {
	l, err := raftlog.Open(t.TempDir(), 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return NewExecutor(sm, l.Reader()), l.Writer()
}

func mustAppend(t *testing.T, w *raftlog.Writer, tp raftpb.ENTRY_TYPE, data []byte) raftpb.Entry {
	ent, err := w.Append(raftpb.Entry{Term: 1, Type: tp, Data: data})
	require.NoError(t, err)
	return ent
}

func registerSession(t *testing.T, e *Executor, w *raftlog.Writer) uint64 {
	ent := mustAppend(t, w, raftpb.ENTRY_TYPE_CONFIGURATION,
		(&raftpb.ConfigPayload{Change: raftpb.CONFIG_CHANGE_REGISTER_SESSION}).Marshal())
	e.ApplyAll(ent.Index)
	require.True(t, e.HasSession(ent.Index))
	return ent.Index
}

func Test_Executor_ApplyAll_order(t *testing.T) {
	sm := newCountingMachine()
	e, w := testExecutor(t, sm)
	sid := registerSession(t, e, w)

	for i := 0; i < 3; i++ {
		payload := raftpb.CommandPayload{Session: sid, Sequence: uint64(i + 1), Op: []byte{byte('a' + i)}}
		mustAppend(t, w, raftpb.ENTRY_TYPE_COMMAND, payload.Marshal())
	}

	e.ApplyAll(w.LastIndex())
	require.Equal(t, w.LastIndex(), e.LastApplied())
	for _, op := range []string{"a", "b", "c"} {
		require.Equal(t, 1, sm.applied[op])
	}

	// ApplyAll is idempotent at the same commit index
	e.ApplyAll(w.LastIndex())
	require.Equal(t, 1, sm.applied["c"])
}

func Test_Executor_at_most_once(t *testing.T) {
	sm := newCountingMachine()
	e, w := testExecutor(t, sm)
	sid := registerSession(t, e, w)

	payload := raftpb.CommandPayload{Session: sid, Sequence: 1, Op: []byte("x")}

	first := mustAppend(t, w, raftpb.ENTRY_TYPE_COMMAND, payload.Marshal())
	e.ApplyAll(first.Index)
	require.Equal(t, 1, sm.applied["x"])

	// the client retries with the same sequence; the command is
	// logged again but must not re-execute
	dup := mustAppend(t, w, raftpb.ENTRY_TYPE_COMMAND, payload.Marshal())
	e.ApplyAll(dup.Index)
	require.Equal(t, 1, sm.applied["x"])

	result := e.Apply(mustAppend(t, w, raftpb.ENTRY_TYPE_COMMAND, payload.Marshal()))
	require.Equal(t, raftpb.ERROR_TYPE_NONE, result.Err)
	require.Equal(t, []byte("ok:x"), result.Result) // cached
	require.Equal(t, 1, sm.applied["x"])
}

func Test_Executor_unknown_session(t *testing.T) {
	e, w := testExecutor(t, newCountingMachine())

	payload := raftpb.CommandPayload{Session: 99, Sequence: 1, Op: []byte("x")}
	ent := mustAppend(t, w, raftpb.ENTRY_TYPE_COMMAND, payload.Marshal())

	result := e.Apply(ent)
	require.Equal(t, raftpb.ERROR_TYPE_UNKNOWN_SESSION, result.Err)
}

func Test_Executor_application_error(t *testing.T) {
	sm := newCountingMachine()
	sm.failOn = "bad"
	e, w := testExecutor(t, sm)
	sid := registerSession(t, e, w)

	mustAppend(t, w, raftpb.ENTRY_TYPE_COMMAND,
		(&raftpb.CommandPayload{Session: sid, Sequence: 1, Op: []byte("good")}).Marshal())
	bad := mustAppend(t, w, raftpb.ENTRY_TYPE_COMMAND,
		(&raftpb.CommandPayload{Session: sid, Sequence: 2, Op: []byte("bad")}).Marshal())

	// the failure is captured, and the pipeline keeps going
	e.ApplyAll(bad.Index)
	require.Equal(t, bad.Index, e.LastApplied())
	require.Equal(t, 1, sm.applied["good"])

	// the duplicate returns the cached failure without re-executing
	result := e.Apply(mustAppend(t, w, raftpb.ENTRY_TYPE_COMMAND,
		(&raftpb.CommandPayload{Session: sid, Sequence: 2, Op: []byte("bad")}).Marshal()))
	require.Equal(t, raftpb.ERROR_TYPE_APPLICATION_ERROR, result.Err)
	require.Equal(t, "boom", result.ErrDetail)
	require.Equal(t, 1, sm.applied["bad"])
}

func Test_Executor_futures(t *testing.T) {
	e, w := testExecutor(t, newCountingMachine())
	sid := registerSession(t, e, w)

	ent := mustAppend(t, w, raftpb.ENTRY_TYPE_COMMAND,
		(&raftpb.CommandPayload{Session: sid, Sequence: 1, Op: []byte("v")}).Marshal())

	ch := e.Register(ent.Index)
	e.ApplyAll(ent.Index)

	result := (<-ch).(OperationResult)
	require.Equal(t, ent.Index, result.Index)
	require.Equal(t, []byte("ok:v"), result.Result)
}

func Test_Executor_ApplyQuery(t *testing.T) {
	e, w := testExecutor(t, newCountingMachine())
	sid := registerSession(t, e, w)

	query := raftpb.Entry{
		Index: e.LastApplied(),
		Term:  1,
		Type:  raftpb.ENTRY_TYPE_QUERY,
		Data:  (&raftpb.QueryPayload{Timestamp: 1000, Session: sid, Sequence: 1, Op: []byte("k")}).Marshal(),
	}
	result := e.ApplyQuery(query)
	require.Equal(t, raftpb.ERROR_TYPE_NONE, result.Err)
	require.Equal(t, []byte("read:k"), result.Result)

	// queries never advance lastApplied
	require.Equal(t, sid, e.LastApplied())

	unknown := raftpb.Entry{
		Type: raftpb.ENTRY_TYPE_QUERY,
		Data: (&raftpb.QueryPayload{Timestamp: 1000, Session: 12345, Sequence: 1, Op: []byte("k")}).Marshal(),
	}
	require.Equal(t, raftpb.ERROR_TYPE_UNKNOWN_SESSION, e.ApplyQuery(unknown).Err)
}

func Test_Executor_unregister_session(t *testing.T) {
	e, w := testExecutor(t, newCountingMachine())
	sid := registerSession(t, e, w)

	ent := mustAppend(t, w, raftpb.ENTRY_TYPE_CONFIGURATION,
		(&raftpb.ConfigPayload{Change: raftpb.CONFIG_CHANGE_UNREGISTER_SESSION, Session: sid}).Marshal())
	e.ApplyAll(ent.Index)
	require.False(t, e.HasSession(sid))

	cmd := mustAppend(t, w, raftpb.ENTRY_TYPE_COMMAND,
		(&raftpb.CommandPayload{Session: sid, Sequence: 2, Op: []byte("x")}).Marshal())
	require.Equal(t, raftpb.ERROR_TYPE_UNKNOWN_SESSION, e.Apply(cmd).Err)
}

func Test_KVStateMachine(t *testing.T) {
	m, err := NewKVStateMachine(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Apply(1, PutOp([]byte("k"), []byte("v")))
	require.NoError(t, err)

	out, err := m.Query(GetOp([]byte("k")))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), out)

	idx, err := m.AppliedIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(1), idx)

	_, err = m.Apply(2, DeleteOp([]byte("k")))
	require.NoError(t, err)
	_, err = m.Query(GetOp([]byte("k")))
	require.Equal(t, ErrKeyNotFound, err)

	_, err = m.Apply(3, DeleteOp([]byte("k")))
	require.Equal(t, ErrKeyNotFound, err)

	_, err = m.Query(PutOp([]byte("k"), []byte("v")))
	require.Error(t, err)
}
