package raft

import (
	"context"

	"github.com/gyuho/raftd/pkg/types"
	"github.com/gyuho/raftd/raftpb"
)

// Protocol sends requests to other servers. Implementations are
// provided by the transport layer; the core never constructs
// connections itself.
type Protocol interface {
	Append(ctx context.Context, to types.ID, req *raftpb.AppendRequest) (*raftpb.AppendResponse, error)
	Install(ctx context.Context, to types.ID, req *raftpb.InstallRequest) (*raftpb.InstallResponse, error)
	Vote(ctx context.Context, to types.ID, req *raftpb.VoteRequest) (*raftpb.VoteResponse, error)
	Query(ctx context.Context, to types.ID, req *raftpb.QueryRequest) (*raftpb.QueryResponse, error)
	Command(ctx context.Context, to types.ID, req *raftpb.CommandRequest) (*raftpb.CommandResponse, error)
}
