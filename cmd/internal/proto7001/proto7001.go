// Package proto7001 is the pw-coded request/response protocol shared by
// the cache-server, cache-client, and echo-server binaries: four message
// kinds (Set, SetRe, Get, GetRe) in the 7001 tag family.
package proto7001

import (
	"fmt"

	"github.com/cachefront/reactor/codec/pw"
)

// tagBase is the protocol family's claim on the tag space: each message
// kind's index (0..3) is added to it to produce the wire tag, so other
// families can coexist on the same connection without overlap.
const tagBase = 7001

// Key identifies one cached entry: a role, a timestamp, and a passcode
// minted at request time so a client can correlate a response without a
// server-side session table.
type Key struct {
	RoleID    uint64
	Timestamp uint32
	Passcode  uint32
}

// String renders the key under the flat "@@cache." prefix, with no
// table-based sharding.
func (k Key) String() string {
	return fmt.Sprintf("@@cache.%016X|%08X|%08X", k.RoleID, k.Timestamp, k.Passcode)
}

func (k Key) marshal(enc *pw.Encoder) {
	enc.WriteU64(k.RoleID)
	enc.WriteU32(k.Timestamp)
	enc.WriteU32(k.Passcode)
}

func decodeKey(dec *pw.Decoder) (Key, bool) {
	roleid, ok := dec.ReadU64()
	if !ok {
		return Key{}, false
	}
	timestamp, ok := dec.ReadU32()
	if !ok {
		return Key{}, false
	}
	passcode, ok := dec.ReadU32()
	if !ok {
		return Key{}, false
	}
	return Key{RoleID: roleid, Timestamp: timestamp, Passcode: passcode}, true
}

// Message is the protocol's sum type: every message kind below implements
// it by reporting its own wire tag and marshaling its own fields.
type Message interface {
	pw.Message
}

// Set requests that value be stored under key.
type Set struct {
	Key   Key
	Value []byte
}

func (Set) Tag() uint32 { return tagBase }
func (s Set) MarshalFields(enc *pw.Encoder) {
	s.Key.marshal(enc)
	enc.WriteBytes(s.Value)
}

// SetRe answers a Set with a store result code (0 = success).
type SetRe struct {
	Key    Key
	Result int32
}

func (SetRe) Tag() uint32 { return tagBase + 1 }
func (s SetRe) MarshalFields(enc *pw.Encoder) {
	s.Key.marshal(enc)
	enc.WriteI32(s.Result)
}

// Get requests the value stored under key on behalf of roleID.
type Get struct {
	RoleID uint64
	Key    Key
}

func (Get) Tag() uint32 { return tagBase + 2 }
func (g Get) MarshalFields(enc *pw.Encoder) {
	enc.WriteU64(g.RoleID)
	g.Key.marshal(enc)
}

// GetRe answers a Get with a result code and the stored value (valid only
// when Result == 0).
type GetRe struct {
	RoleID uint64
	Key    Key
	Result int32
	Value  []byte
}

func (GetRe) Tag() uint32 { return tagBase + 3 }
func (g GetRe) MarshalFields(enc *pw.Encoder) {
	enc.WriteU64(g.RoleID)
	g.Key.marshal(enc)
	enc.WriteI32(g.Result)
	enc.WriteBytes(g.Value)
}

func decode(tag uint32, dec *pw.Decoder) (Message, bool, error) {
	switch tag {
	case tagBase:
		key, ok := decodeKey(dec)
		if !ok {
			return nil, false, nil
		}
		value, ok := dec.ReadBytes()
		if !ok {
			return nil, false, nil
		}
		return Set{Key: key, Value: value}, true, nil
	case tagBase + 1:
		key, ok := decodeKey(dec)
		if !ok {
			return nil, false, nil
		}
		result, ok := dec.ReadI32()
		if !ok {
			return nil, false, nil
		}
		return SetRe{Key: key, Result: result}, true, nil
	case tagBase + 2:
		roleid, ok := dec.ReadU64()
		if !ok {
			return nil, false, nil
		}
		key, ok := decodeKey(dec)
		if !ok {
			return nil, false, nil
		}
		return Get{RoleID: roleid, Key: key}, true, nil
	case tagBase + 3:
		roleid, ok := dec.ReadU64()
		if !ok {
			return nil, false, nil
		}
		key, ok := decodeKey(dec)
		if !ok {
			return nil, false, nil
		}
		result, ok := dec.ReadI32()
		if !ok {
			return nil, false, nil
		}
		value, ok := dec.ReadBytes()
		if !ok {
			return nil, false, nil
		}
		return GetRe{RoleID: roleid, Key: key, Result: result, Value: value}, true, nil
	default:
		return nil, false, nil
	}
}

// NewStreamer builds the codec.ServiceStreamer[Message] every Protocol7001
// speaker (front service and client) drives its Stream with.
func NewStreamer() *pw.Streamer[Message] {
	return pw.NewStreamer[Message](decode)
}

var (
	_ Message = Set{}
	_ Message = SetRe{}
	_ Message = Get{}
	_ Message = GetRe{}
)
