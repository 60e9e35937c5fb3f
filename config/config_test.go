package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	fpath := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(fpath, []byte(body), 0600))
	return fpath
}

func Test_Load(t *testing.T) {
	fpath := writeConfig(t, `
cluster:
  name: test-cluster
  members:
    - id: 1
      address: 127.0.0.1:5001
    - id: 2
      address: 127.0.0.1:5002
managementGroup:
  type: raft
  partitions: 1
  segmentSize: 16M
partitionGroups:
  data:
    type: raft
    partitions: 7
profiles:
  - consensus
storage:
  dir: /var/lib/raftd
  segmentMaxEntries: 1024
  segmentMaxBytes: 64K
  tickInterval: 100ms
  electionTicks: 10
  heartbeatTicks: 1
`)

	cfg, err := Load(fpath)
	require.NoError(t, err)

	require.Equal(t, "test-cluster", cfg.Cluster.Name)
	require.Len(t, cfg.Cluster.Members, 2)
	require.Equal(t, uint64(2), cfg.Cluster.Members[1].ID)
	require.Equal(t, Size(16*1024*1024), cfg.ManagementGroup.SegmentSize)
	require.Equal(t, 7, cfg.PartitionGroups["data"].Partitions)
	require.Equal(t, []string{"consensus"}, cfg.Profiles)
	require.Equal(t, Size(64*1024), cfg.Storage.SegmentMaxBytes)
	require.Equal(t, Duration(100*time.Millisecond), cfg.Storage.TickInterval)
}

func Test_Load_invalid(t *testing.T) {
	tests := []struct {
		body string

		wErrContains string
	}{
		{"cluster: {name: '', members: [{id: 1, address: a}]}", "cluster.name"},
		{"cluster: {name: c, members: []}", "members"},
		{"cluster: {name: c, members: [{id: 0, address: a}]}", "nonzero"},
		{"cluster: {name: c, members: [{id: 1, address: ''}]}", "address"},
		{"cluster: {name: c, members: [{id: 1, address: a}, {id: 1, address: b}]}", "duplicate"},
		{`
cluster: {name: c, members: [{id: 1, address: a}]}
partitionGroups: {data: {type: raft, partitions: 0}}
`, "partition count"},
		{`
cluster: {name: c, members: [{id: 1, address: a}]}
storage: {electionTicks: 5, heartbeatTicks: 5}
`, "heartbeatTicks"},
	}

	for i, tt := range tests {
		_, err := Load(writeConfig(t, tt.body))
		require.Error(t, err, "#%d", i)
		require.Contains(t, err.Error(), tt.wErrContains, "#%d", i)
	}
}

func Test_ParseSize(t *testing.T) {
	tests := []struct {
		s string

		wSize Size
		wErr  bool
	}{
		{"4096", 4096, false},
		{"64K", 64 * 1024, false},
		{"16M", 16 * 1024 * 1024, false},
		{"2G", 2 * 1024 * 1024 * 1024, false},
		{"16m", 16 * 1024 * 1024, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-1", 0, true},
	}

	for i, tt := range tests {
		z, err := ParseSize(tt.s)
		if tt.wErr {
			require.Error(t, err, "#%d", i)
			continue
		}
		require.NoError(t, err, "#%d", i)
		require.Equal(t, tt.wSize, z, "#%d", i)
	}
}

func Test_Size_roundtrip(t *testing.T) {
	for _, s := range []string{"16M", "64K", "2G", "100"} {
		z, err := ParseSize(s)
		require.NoError(t, err)
		require.Equal(t, s, z.String())
	}
}
