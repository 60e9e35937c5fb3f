// Package config loads the server configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the top-level server configuration.
type ServerConfig struct {
	Cluster ClusterConfig `yaml:"cluster"`

	ManagementGroup GroupConfig            `yaml:"managementGroup"`
	PartitionGroups map[string]GroupConfig `yaml:"partitionGroups"`

	Profiles []string `yaml:"profiles"`

	Storage StorageConfig `yaml:"storage"`
}

// ClusterConfig names the cluster and its members.
type ClusterConfig struct {
	Name    string         `yaml:"name"`
	Members []MemberConfig `yaml:"members"`
}

// MemberConfig is one cluster member.
type MemberConfig struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
}

// GroupConfig configures one partition group.
type GroupConfig struct {
	Type        string `yaml:"type"`
	Partitions  int    `yaml:"partitions"`
	SegmentSize Size   `yaml:"segmentSize"`
}

// StorageConfig configures the on-disk layout and tick durations.
type StorageConfig struct {
	Dir string `yaml:"dir"`

	SegmentMaxEntries uint64 `yaml:"segmentMaxEntries"`
	SegmentMaxBytes   Size   `yaml:"segmentMaxBytes"`

	TickInterval   Duration `yaml:"tickInterval"`
	ElectionTicks  int      `yaml:"electionTicks"`
	HeartbeatTicks int      `yaml:"heartbeatTicks"`
}

// Duration is a time.Duration that unmarshals from YAML scalars in
// standard human notation, e.g. "100ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("config: bad duration %q (%v)", node.Value, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load reads and validates the configuration at path.
func Load(path string) (*ServerConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %q (%v)", path, err)
	}

	cfg := &ServerConfig{}
	if err = yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %q (%v)", path, err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *ServerConfig) Validate() error {
	if c.Cluster.Name == "" {
		return fmt.Errorf("config: cluster.name is required")
	}
	if len(c.Cluster.Members) == 0 {
		return fmt.Errorf("config: cluster.members must not be empty")
	}

	seen := make(map[uint64]bool, len(c.Cluster.Members))
	for _, m := range c.Cluster.Members {
		if m.ID == 0 {
			return fmt.Errorf("config: member id must be nonzero")
		}
		if m.Address == "" {
			return fmt.Errorf("config: member %d has no address", m.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("config: duplicate member id %d", m.ID)
		}
		seen[m.ID] = true
	}

	for name, g := range c.PartitionGroups {
		if g.Partitions <= 0 {
			return fmt.Errorf("config: partition group %q needs a positive partition count", name)
		}
	}

	if c.Storage.ElectionTicks != 0 && c.Storage.HeartbeatTicks >= c.Storage.ElectionTicks {
		return fmt.Errorf("config: heartbeatTicks %d must be below electionTicks %d",
			c.Storage.HeartbeatTicks, c.Storage.ElectionTicks)
	}
	return nil
}
