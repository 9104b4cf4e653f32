// internal/mavlink/frame.go
package mavlink

const (
	stxV1 = 0xfe
	stxV2 = 0xfd

	headerLenV1  = 5
	headerLenV2  = 9
	signatureLen = 13

	incompatSigned = 0x01
)

// Frame is one validated MAVLink packet.
type Frame struct {
	Version int
	Seq     uint8
	SysID   uint8
	CompID  uint8
	MsgID   uint32
	Payload []byte
	Signed  bool
}

// PackV2 frames payload as MAVLink 2. Trailing zero bytes are truncated
// as the protocol requires, leaving at least one payload byte.
func PackV2(seq, sysID, compID uint8, msgID uint32, payload []byte) []byte {
	n := len(payload)
	for n > 1 && payload[n-1] == 0 {
		n--
	}

	buf := make([]byte, 0, 1+headerLenV2+n+2)
	buf = append(buf, stxV2, byte(n), 0, 0, seq, sysID, compID,
		byte(msgID), byte(msgID>>8), byte(msgID>>16))
	buf = append(buf, payload[:n]...)

	crc := checksum(buf[1:], messages[msgID].crcExtra)
	return append(buf, byte(crc), byte(crc>>8))
}

// PackV1 frames payload as MAVLink 1. Only message ids below 256 fit.
func PackV1(seq, sysID, compID uint8, msgID uint8, payload []byte) []byte {
	buf := make([]byte, 0, 1+headerLenV1+len(payload)+2)
	buf = append(buf, stxV1, byte(len(payload)), seq, sysID, compID, msgID)
	buf = append(buf, payload...)

	crc := checksum(buf[1:], messages[uint32(msgID)].crcExtra)
	return append(buf, byte(crc), byte(crc>>8))
}
