package memcached

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePeeker struct {
	buf      []byte
	consumed int
}

func (f *fakePeeker) FillBuf() ([]byte, bool, error) { return f.buf[f.consumed:], false, nil }
func (f *fakePeeker) Consume(n int)                  { f.consumed += n }

func TestSetRoundTrip(t *testing.T) {
	s := NewStreamer()
	req := NewRequestSet(42, "mykey", []byte("myvalue"))

	var buf bytes.Buffer
	require.NoError(t, s.WritePacket(&buf, req))

	peeker := &fakePeeker{buf: buf.Bytes()}
	got, ok, err := s.ReadPacket(peeker)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint8(MagicRequest), got.Header.Magic)
	require.Equal(t, uint8(CmdSet), got.Header.Opcode)
	require.Equal(t, uint32(42), got.Header.Opaque)
	require.Equal(t, "mykey", got.Key)
	require.Equal(t, []byte("myvalue"), got.Value)
	require.Equal(t, make([]byte, 8), got.Extras)
	require.Equal(t, buf.Len(), peeker.consumed)
}

func TestGetRoundTrip(t *testing.T) {
	s := NewStreamer()
	req := NewRequestGet(7, "somekey")

	var buf bytes.Buffer
	require.NoError(t, s.WritePacket(&buf, req))

	peeker := &fakePeeker{buf: buf.Bytes()}
	got, ok, err := s.ReadPacket(peeker)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint8(CmdGet), got.Header.Opcode)
	require.Equal(t, "somekey", got.Key)
	require.Empty(t, got.Value)
}

func TestReadPacketBelowHeaderSizeIsNotYet(t *testing.T) {
	s := NewStreamer()
	peeker := &fakePeeker{buf: make([]byte, HeaderSize-1)}
	got, ok, err := s.ReadPacket(peeker)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, Packet{}, got)
	require.Equal(t, 0, peeker.consumed)
}

func TestReadPacketAwaitsFullBody(t *testing.T) {
	s := NewStreamer()
	req := NewRequestSet(1, "k", []byte("0123456789"))
	var buf bytes.Buffer
	require.NoError(t, s.WritePacket(&buf, req))

	peeker := &fakePeeker{buf: buf.Bytes()[:HeaderSize+2]}
	_, ok, err := s.ReadPacket(peeker)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSimulatedGetResponseCarriesValue(t *testing.T) {
	// A set request followed by a server response echoing the value back
	// on a get, the same exchange a cache-front proxy drives.
	setReq := NewRequestSet(1, "k1", []byte("v1"))
	s := NewStreamer()
	var wire bytes.Buffer
	require.NoError(t, s.WritePacket(&wire, setReq))

	resp := Packet{
		Header: Header{
			Magic:  MagicResponse,
			Opcode: CmdGet,
			Status: StatusSuccess,
			Opaque: 1,
		},
		Value: []byte("v1"),
	}
	wire.Reset()
	require.NoError(t, s.WritePacket(&wire, resp))

	peeker := &fakePeeker{buf: wire.Bytes()}
	got, ok, err := s.ReadPacket(peeker)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint16(StatusSuccess), got.Header.Status)
	require.Equal(t, []byte("v1"), got.Value)
}
