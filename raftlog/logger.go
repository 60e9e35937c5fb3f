package raftlog

import "github.com/gyuho/raftd/pkg/xlog"

var logger = xlog.NewLogger("raftlog", xlog.INFO)
