// internal/mavlink/parser_test.go
package mavlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAll(p *Parser, data []byte) []*Frame {
	var frames []*Frame
	for _, b := range data {
		if f, ok := p.Parse(b); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

func TestChecksum_KnownVector(t *testing.T) {
	// X.25 check value for "123456789".
	crc := crcInit
	for _, b := range []byte("123456789") {
		crc = accumulate(crc, b)
	}
	assert.Equal(t, uint16(0x6f91), crc)
}

func TestPackHeartbeatRequest(t *testing.T) {
	frames := parseAll(NewParser(), PackHeartbeatRequest())
	require.Len(t, frames, 1)

	f := frames[0]
	assert.Equal(t, 2, f.Version)
	assert.Equal(t, MsgIDHeartbeat, f.MsgID)
	assert.Zero(t, f.SysID)
	assert.Zero(t, f.CompID)

	hb, err := DecodeHeartbeat(f)
	require.NoError(t, err)
	assert.Equal(t, MavTypeGeneric, hb.Type)
	assert.Equal(t, MavAutopilotInvalid, hb.Autopilot)
	assert.Zero(t, hb.BaseMode)
	assert.Zero(t, hb.CustomMode)
	assert.Zero(t, hb.SystemStatus)
}

func TestPackVersionRequest(t *testing.T) {
	frames := parseAll(NewParser(), PackVersionRequest(1, 1))
	require.Len(t, frames, 1)
	require.Equal(t, MsgIDCommandLong, frames[0].MsgID)

	// Truncated trailing zeros leave command and targets intact.
	buf, err := payload(frames[0], MsgIDCommandLong)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x14, 0x43}, buf[0:4]) // 148.0f
	assert.Equal(t, []byte{0x00, 0x02}, buf[28:30])
	assert.Equal(t, byte(1), buf[30])
	assert.Equal(t, byte(1), buf[31])
	assert.Equal(t, byte(0), buf[32])
}

func TestAutopilotVersionRoundTrip(t *testing.T) {
	want := &AutopilotVersion{
		Capabilities:        0xe4ef,
		UID:                 0x1122334455667788,
		FlightSwVersion:     0x010d03ff,
		MiddlewareSwVersion: 2,
		OsSwVersion:         3,
		BoardVersion:        0x00150000,
		VendorID:            0x2dae,
		ProductID:           0x1016,
		FlightCustomVersion: [8]byte{'a', 'b', 'c'},
	}

	data := PackAutopilotVersion(4, 1, 1, want)
	frames := parseAll(NewParser(), data)
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(4), frames[0].Seq)
	assert.Less(t, len(frames[0].Payload), 78)

	got, err := DecodeAutopilotVersion(frames[0])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParser_V1(t *testing.T) {
	hb := &Heartbeat{Type: 2, Autopilot: 12, BaseMode: 81, SystemStatus: 4, MavlinkVersion: 3, CustomMode: 7}
	frames := parseAll(NewParser(), PackV1(9, 1, 1, uint8(MsgIDHeartbeat), hb.marshal()))
	require.Len(t, frames, 1)
	assert.Equal(t, 1, frames[0].Version)

	got, err := DecodeHeartbeat(frames[0])
	require.NoError(t, err)
	assert.Equal(t, hb, got)
}

func TestParser_V1AutopilotVersionWithoutExtension(t *testing.T) {
	v := &AutopilotVersion{VendorID: 0x26ac, ProductID: 0x0011, UID2: [18]byte{0xff}}
	frames := parseAll(NewParser(), PackV1(0, 1, 1, uint8(MsgIDAutopilotVersion), v.marshal()[:60]))
	require.Len(t, frames, 1)

	got, err := DecodeAutopilotVersion(frames[0])
	require.NoError(t, err)
	assert.Equal(t, uint16(0x26ac), got.VendorID)
	assert.Equal(t, [18]byte{}, got.UID2)
}

func TestParser_RejectsBadChecksum(t *testing.T) {
	data := PackHeartbeatRequest()
	data[len(data)-1] ^= 0xff

	p := NewParser()
	assert.Empty(t, parseAll(p, data))
	assert.Equal(t, 1, p.Dropped())

	// The parser recovers for the next frame.
	assert.Len(t, parseAll(p, PackHeartbeatRequest()), 1)
}

func TestParser_ResyncsAfterGarbage(t *testing.T) {
	var stream []byte
	stream = append(stream, 0x00, 0x13, 0x37, 0x42)
	stream = append(stream, PackHeartbeat(1, 1, 1, &Heartbeat{Type: 2})...)
	stream = append(stream, 0x55, 0xaa)
	stream = append(stream, PackHeartbeat(2, 1, 1, &Heartbeat{Type: 2})...)

	frames := parseAll(NewParser(), stream)
	require.Len(t, frames, 2)
	assert.Equal(t, uint8(1), frames[0].Seq)
	assert.Equal(t, uint8(2), frames[1].Seq)
}

func TestParser_SkipsUnknownMessages(t *testing.T) {
	// ATTITUDE (#30) is not decoded here; its bytes must not desynchronize the stream.
	unknown := []byte{stxV2, 3, 0, 0, 0, 1, 1, 30, 0, 0, 0xfe, 0xfd, 0x01, 0x00, 0x00}

	var stream []byte
	stream = append(stream, unknown...)
	stream = append(stream, PackHeartbeat(5, 1, 1, &Heartbeat{Type: 2})...)

	frames := parseAll(NewParser(), stream)
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(5), frames[0].Seq)
}

func TestParser_SkipsSignature(t *testing.T) {
	data := PackHeartbeat(3, 1, 1, &Heartbeat{Type: 2})
	data[2] |= incompatSigned

	// Flags are covered by the checksum, so recompute it.
	body := data[1 : len(data)-2]
	crc := checksum(body, messages[MsgIDHeartbeat].crcExtra)
	data[len(data)-2], data[len(data)-1] = byte(crc), byte(crc>>8)

	signature := make([]byte, signatureLen)
	for i := range signature {
		signature[i] = stxV2
	}

	var stream []byte
	stream = append(stream, data...)
	stream = append(stream, signature...)
	stream = append(stream, PackHeartbeat(4, 1, 1, &Heartbeat{Type: 2})...)

	frames := parseAll(NewParser(), stream)
	require.Len(t, frames, 2)
	assert.True(t, frames[0].Signed)
	assert.Equal(t, uint8(4), frames[1].Seq)
}

func TestDecode_WrongMessage(t *testing.T) {
	frames := parseAll(NewParser(), PackHeartbeatRequest())
	require.Len(t, frames, 1)

	_, err := DecodeAutopilotVersion(frames[0])
	assert.Error(t, err)
}
