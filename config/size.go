package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Size is a byte count that unmarshals from YAML scalars with an
// optional K/M/G suffix, e.g. "16M".
type Size uint64

const (
	kb Size = 1 << (10 * (iota + 1))
	mb
	gb
)

// ParseSize parses "4096", "64K", "16M", or "2G".
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("config: empty size")
	}

	mult := Size(1)
	switch s[len(s)-1] {
	case 'K', 'k':
		mult, s = kb, s[:len(s)-1]
	case 'M', 'm':
		mult, s = mb, s[:len(s)-1]
	case 'G', 'g':
		mult, s = gb, s[:len(s)-1]
	}

	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: bad size %q (%v)", s, err)
	}
	return Size(n) * mult, nil
}

func (z Size) String() string {
	switch {
	case z >= gb && z%gb == 0:
		return fmt.Sprintf("%dG", z/gb)
	case z >= mb && z%mb == 0:
		return fmt.Sprintf("%dM", z/mb)
	case z >= kb && z%kb == 0:
		return fmt.Sprintf("%dK", z/kb)
	default:
		return strconv.FormatUint(uint64(z), 10)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (z *Size) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*z = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (z Size) MarshalYAML() (interface{}, error) {
	return z.String(), nil
}
