// raftd-example wires the replication core into a runnable
// single-member server: segmented log, snapshot store, bolt-backed
// key-value state machine, and the role state machine, driven through
// the client entry points.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gyuho/raftd/nodeselect"
	"github.com/gyuho/raftd/pkg/types"
	"github.com/gyuho/raftd/pkg/xlog"
	"github.com/gyuho/raftd/raft"
	"github.com/gyuho/raftd/raftlog"
	"github.com/gyuho/raftd/raftpb"
	"github.com/gyuho/raftd/raftsnap"
	"github.com/gyuho/raftd/rsm"
)

func init() {
	xlog.SetGlobalMaxLogLevel(xlog.INFO)
}

// loopbackProtocol is the transport of a single-member cluster; it
// has no peers to reach.
type loopbackProtocol struct{}

func (loopbackProtocol) Append(_ context.Context, to types.ID, _ *raftpb.AppendRequest) (*raftpb.AppendResponse, error) {
	return nil, fmt.Errorf("no route to %s", to)
}
func (loopbackProtocol) Install(_ context.Context, to types.ID, _ *raftpb.InstallRequest) (*raftpb.InstallResponse, error) {
	return nil, fmt.Errorf("no route to %s", to)
}
func (loopbackProtocol) Vote(_ context.Context, to types.ID, _ *raftpb.VoteRequest) (*raftpb.VoteResponse, error) {
	return nil, fmt.Errorf("no route to %s", to)
}
func (loopbackProtocol) Query(_ context.Context, to types.ID, _ *raftpb.QueryRequest) (*raftpb.QueryResponse, error) {
	return nil, fmt.Errorf("no route to %s", to)
}
func (loopbackProtocol) Command(_ context.Context, to types.ID, _ *raftpb.CommandRequest) (*raftpb.CommandResponse, error) {
	return nil, fmt.Errorf("no route to %s", to)
}

func main() {
	dir, err := os.MkdirTemp(os.TempDir(), "raftd-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	l, err := raftlog.Open(filepath.Join(dir, "log"), 0, 0)
	if err != nil {
		panic(err)
	}
	defer l.Close()

	snaps, err := raftsnap.NewStore(filepath.Join(dir, "snap"))
	if err != nil {
		panic(err)
	}
	stable, err := raft.NewStableStore(dir)
	if err != nil {
		panic(err)
	}
	kv, err := rsm.NewKVStateMachine(filepath.Join(dir, "kv.db"))
	if err != nil {
		panic(err)
	}
	defer kv.Close()

	c, err := raft.NewServerContext(raft.Config{
		ID:           1,
		Members:      []types.ID{1},
		InitialRole:  raft.RoleFollower,
		TickInterval: 10 * time.Millisecond,
		Log:          l,
		Snapshots:    snaps,
		StateMachine: kv,
		Stable:       stable,
		Protocol:     loopbackProtocol{},
		Selectors:    nodeselect.NewManager(),
	})
	if err != nil {
		panic(err)
	}
	if err = c.Start(); err != nil {
		panic(err)
	}
	defer c.Stop()

	// the single member elects itself after an election timeout
	for c.Role() != raft.RoleLeader {
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reg, err := c.RegisterSession(ctx)
	if err != nil {
		panic(err)
	}
	session := reg.Index
	fmt.Printf("registered session %d\n", session)

	put, err := c.Command(ctx, &raftpb.CommandRequest{
		Session:  session,
		Sequence: 1,
		Bytes:    rsm.PutOp([]byte("greeting"), []byte("hello raftd")),
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("put committed at index %d\n", put.Index)

	get, err := c.Query(ctx, &raftpb.QueryRequest{
		Session:     session,
		Sequence:    2,
		Consistency: raftpb.CONSISTENCY_LEVEL_LINEARIZABLE,
		Bytes:       rsm.GetOp([]byte("greeting")),
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("get -> %q\n", get.Result)
}
