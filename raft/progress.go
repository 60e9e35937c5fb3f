package raft

// Progress is the leader's view of one follower's replication state.
type Progress struct {
	// NextIndex is the index of the next entry to send.
	NextIndex uint64

	// MatchIndex is the highest index known replicated on the follower.
	MatchIndex uint64
}

// quorum returns the majority size of the cluster.
func (c *ServerContext) quorum() int {
	return len(c.members)/2 + 1
}
