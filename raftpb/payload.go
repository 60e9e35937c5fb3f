package raftpb

import (
	"encoding/binary"
)

// CommandPayload is the Data of an ENTRY_TYPE_COMMAND entry.
// Session and Sequence scope the operation for at-most-once execution.
type CommandPayload struct {
	Session  uint64
	Sequence uint64
	Op       []byte
}

// QueryPayload is the Data of an ENTRY_TYPE_QUERY entry. Timestamp is
// stamped by the serving server with wall-clock milliseconds; the state
// machine treats it as a read-only parameter.
type QueryPayload struct {
	Timestamp uint64
	Session   uint64
	Sequence  uint64
	Op        []byte
}

// CONFIG_CHANGE is the kind of an ENTRY_TYPE_CONFIGURATION entry.
type CONFIG_CHANGE uint8

const (
	// CONFIG_CHANGE_REGISTER_SESSION registers a client session;
	// the session ID is the index of the registration entry.
	CONFIG_CHANGE_REGISTER_SESSION CONFIG_CHANGE = iota

	// CONFIG_CHANGE_UNREGISTER_SESSION removes a client session.
	CONFIG_CHANGE_UNREGISTER_SESSION
)

// ConfigPayload is the Data of an ENTRY_TYPE_CONFIGURATION entry.
// Session is ignored for CONFIG_CHANGE_REGISTER_SESSION; the session ID
// is assigned from the entry index when the entry is applied.
type ConfigPayload struct {
	Change  CONFIG_CHANGE
	Session uint64
}

// Marshal encodes the command payload.
func (p *CommandPayload) Marshal() []byte {
	d := make([]byte, 16+len(p.Op))
	binary.LittleEndian.PutUint64(d[0:8], p.Session)
	binary.LittleEndian.PutUint64(d[8:16], p.Sequence)
	copy(d[16:], p.Op)
	return d
}

// Unmarshal decodes a command payload, overwriting p.
func (p *CommandPayload) Unmarshal(d []byte) error {
	if len(d) < 16 {
		return ErrBadEntryEncoding
	}
	p.Session = binary.LittleEndian.Uint64(d[0:8])
	p.Sequence = binary.LittleEndian.Uint64(d[8:16])
	p.Op = append([]byte(nil), d[16:]...)
	return nil
}

// Marshal encodes the query payload.
func (p *QueryPayload) Marshal() []byte {
	d := make([]byte, 24+len(p.Op))
	binary.LittleEndian.PutUint64(d[0:8], p.Timestamp)
	binary.LittleEndian.PutUint64(d[8:16], p.Session)
	binary.LittleEndian.PutUint64(d[16:24], p.Sequence)
	copy(d[24:], p.Op)
	return d
}

// Unmarshal decodes a query payload, overwriting p.
func (p *QueryPayload) Unmarshal(d []byte) error {
	if len(d) < 24 {
		return ErrBadEntryEncoding
	}
	p.Timestamp = binary.LittleEndian.Uint64(d[0:8])
	p.Session = binary.LittleEndian.Uint64(d[8:16])
	p.Sequence = binary.LittleEndian.Uint64(d[16:24])
	p.Op = append([]byte(nil), d[24:]...)
	return nil
}

// Marshal encodes the configuration payload.
func (p *ConfigPayload) Marshal() []byte {
	d := make([]byte, 9)
	d[0] = byte(p.Change)
	binary.LittleEndian.PutUint64(d[1:9], p.Session)
	return d
}

// Unmarshal decodes a configuration payload, overwriting p.
func (p *ConfigPayload) Unmarshal(d []byte) error {
	if len(d) != 9 {
		return ErrBadEntryEncoding
	}
	p.Change = CONFIG_CHANGE(d[0])
	p.Session = binary.LittleEndian.Uint64(d[1:9])
	return nil
}
