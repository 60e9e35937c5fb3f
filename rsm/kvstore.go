package rsm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/boltdb/bolt"
)

var (
	kvBucket   = []byte("kv")
	metaBucket = []byte("meta")

	appliedIndexKey = []byte("applied_index")

	ErrKeyNotFound = errors.New("rsm: key not found")
	ErrBadOp       = errors.New("rsm: bad kv op")
)

// KV op kinds.
const (
	kvOpPut byte = iota
	kvOpGet
	kvOpDelete
)

// KVStateMachine is a bolt-backed key-value state machine.
//
// Each Apply commits the operation and the applied index in one bolt
// transaction, so the materialized state and its log position move
// together across restarts.
type KVStateMachine struct {
	db *bolt.DB
}

// NewKVStateMachine opens (or creates) the bolt file at path.
func NewKVStateMachine(path string) (*KVStateMachine, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(kvBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &KVStateMachine{db: db}, nil
}

// Close closes the bolt file.
func (m *KVStateMachine) Close() error { return m.db.Close() }

// AppliedIndex returns the index recorded by the last Apply.
func (m *KVStateMachine) AppliedIndex() (uint64, error) {
	var idx uint64
	err := m.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(metaBucket).Get(appliedIndexKey); v != nil {
			idx = binary.LittleEndian.Uint64(v)
		}
		return nil
	})
	return idx, err
}

// Apply executes a put or delete op.
func (m *KVStateMachine) Apply(index uint64, op []byte) ([]byte, error) {
	kind, key, value, err := decodeKVOp(op)
	if err != nil {
		return nil, err
	}

	var out []byte
	err = m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucket)
		switch kind {
		case kvOpPut:
			if err := b.Put(key, value); err != nil {
				return err
			}
		case kvOpDelete:
			if b.Get(key) == nil {
				return ErrKeyNotFound
			}
			if err := b.Delete(key); err != nil {
				return err
			}
		case kvOpGet:
			// reads arrive through Query; a logged get is still legal
			// and must behave the same way
			v := b.Get(key)
			if v == nil {
				return ErrKeyNotFound
			}
			out = append([]byte(nil), v...)
		default:
			return ErrBadOp
		}

		ibuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(ibuf, index)
		return tx.Bucket(metaBucket).Put(appliedIndexKey, ibuf)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Query executes a get op without mutating the store.
func (m *KVStateMachine) Query(op []byte) ([]byte, error) {
	kind, key, _, err := decodeKVOp(op)
	if err != nil {
		return nil, err
	}
	if kind != kvOpGet {
		return nil, fmt.Errorf("rsm: op kind %d is not a query", kind)
	}

	var out []byte
	err = m.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(kvBucket).Get(key)
		if v == nil {
			return ErrKeyNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// kv op encoding, little-endian:
//
//	kind (1) | keyN (4) | key | value
func encodeKVOp(kind byte, key, value []byte) []byte {
	op := make([]byte, 5+len(key)+len(value))
	op[0] = kind
	binary.LittleEndian.PutUint32(op[1:5], uint32(len(key)))
	copy(op[5:], key)
	copy(op[5+len(key):], value)
	return op
}

func decodeKVOp(op []byte) (kind byte, key, value []byte, err error) {
	if len(op) < 5 {
		return 0, nil, nil, ErrBadOp
	}
	keyN := binary.LittleEndian.Uint32(op[1:5])
	if len(op) < 5+int(keyN) {
		return 0, nil, nil, ErrBadOp
	}
	return op[0], op[5 : 5+keyN], op[5+keyN:], nil
}

// PutOp encodes a put command for the KV state machine.
func PutOp(key, value []byte) []byte { return encodeKVOp(kvOpPut, key, value) }

// GetOp encodes a get query for the KV state machine.
func GetOp(key []byte) []byte { return encodeKVOp(kvOpGet, key, nil) }

// DeleteOp encodes a delete command for the KV state machine.
func DeleteOp(key []byte) []byte { return encodeKVOp(kvOpDelete, key, nil) }
