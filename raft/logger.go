package raft

import "github.com/gyuho/raftd/pkg/xlog"

var logger = xlog.NewLogger("raft", xlog.INFO)
