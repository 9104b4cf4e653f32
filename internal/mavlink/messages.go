// internal/mavlink/messages.go
package mavlink

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Message ids used by the discovery handshake.
const (
	MsgIDHeartbeat        uint32 = 0
	MsgIDCommandLong      uint32 = 76
	MsgIDAutopilotVersion uint32 = 148
)

// Enum values sent in solicitations.
const (
	MavTypeGeneric         uint8  = 0
	MavAutopilotInvalid    uint8  = 8
	MavCmdRequestMessage   uint16 = 512
	mavlinkProtocolVersion uint8  = 3
)

type messageInfo struct {
	crcExtra byte
	length   int
}

// messages lists the wire length of each known message including extensions.
var messages = map[uint32]messageInfo{
	MsgIDHeartbeat:        {crcExtra: 50, length: 9},
	MsgIDCommandLong:      {crcExtra: 152, length: 33},
	MsgIDAutopilotVersion: {crcExtra: 178, length: 78},
}

// Heartbeat is the HEARTBEAT (#0) message.
type Heartbeat struct {
	CustomMode     uint32
	Type           uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

func (h *Heartbeat) marshal() []byte {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint32(buf[0:], h.CustomMode)
	buf[4] = h.Type
	buf[5] = h.Autopilot
	buf[6] = h.BaseMode
	buf[7] = h.SystemStatus
	buf[8] = h.MavlinkVersion
	return buf
}

// CommandLong is the COMMAND_LONG (#76) message.
type CommandLong struct {
	Params          [7]float32
	Command         uint16
	TargetSystem    uint8
	TargetComponent uint8
	Confirmation    uint8
}

func (c *CommandLong) marshal() []byte {
	buf := make([]byte, 33)
	for i, p := range c.Params {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(p))
	}
	binary.LittleEndian.PutUint16(buf[28:], c.Command)
	buf[30] = c.TargetSystem
	buf[31] = c.TargetComponent
	buf[32] = c.Confirmation
	return buf
}

// AutopilotVersion is the AUTOPILOT_VERSION (#148) message.
type AutopilotVersion struct {
	Capabilities            uint64
	UID                     uint64
	FlightSwVersion         uint32
	MiddlewareSwVersion     uint32
	OsSwVersion             uint32
	BoardVersion            uint32
	VendorID                uint16
	ProductID               uint16
	FlightCustomVersion     [8]byte
	MiddlewareCustomVersion [8]byte
	OsCustomVersion         [8]byte
	UID2                    [18]byte
}

func (a *AutopilotVersion) marshal() []byte {
	buf := make([]byte, 78)
	binary.LittleEndian.PutUint64(buf[0:], a.Capabilities)
	binary.LittleEndian.PutUint64(buf[8:], a.UID)
	binary.LittleEndian.PutUint32(buf[16:], a.FlightSwVersion)
	binary.LittleEndian.PutUint32(buf[20:], a.MiddlewareSwVersion)
	binary.LittleEndian.PutUint32(buf[24:], a.OsSwVersion)
	binary.LittleEndian.PutUint32(buf[28:], a.BoardVersion)
	binary.LittleEndian.PutUint16(buf[32:], a.VendorID)
	binary.LittleEndian.PutUint16(buf[34:], a.ProductID)
	copy(buf[36:44], a.FlightCustomVersion[:])
	copy(buf[44:52], a.MiddlewareCustomVersion[:])
	copy(buf[52:60], a.OsCustomVersion[:])
	copy(buf[60:78], a.UID2[:])
	return buf
}

// payload returns the frame payload zero-extended to the full message length.
func payload(f *Frame, id uint32) ([]byte, error) {
	if f.MsgID != id {
		return nil, fmt.Errorf("unexpected message id %d, want %d", f.MsgID, id)
	}
	buf := make([]byte, messages[id].length)
	copy(buf, f.Payload)
	return buf, nil
}

// DecodeHeartbeat decodes a HEARTBEAT frame.
func DecodeHeartbeat(f *Frame) (*Heartbeat, error) {
	buf, err := payload(f, MsgIDHeartbeat)
	if err != nil {
		return nil, err
	}
	return &Heartbeat{
		CustomMode:     binary.LittleEndian.Uint32(buf[0:]),
		Type:           buf[4],
		Autopilot:      buf[5],
		BaseMode:       buf[6],
		SystemStatus:   buf[7],
		MavlinkVersion: buf[8],
	}, nil
}

// DecodeAutopilotVersion decodes an AUTOPILOT_VERSION frame. Missing
// extension bytes, as sent by v1 peers, decode as zero.
func DecodeAutopilotVersion(f *Frame) (*AutopilotVersion, error) {
	buf, err := payload(f, MsgIDAutopilotVersion)
	if err != nil {
		return nil, err
	}
	v := &AutopilotVersion{
		Capabilities:        binary.LittleEndian.Uint64(buf[0:]),
		UID:                 binary.LittleEndian.Uint64(buf[8:]),
		FlightSwVersion:     binary.LittleEndian.Uint32(buf[16:]),
		MiddlewareSwVersion: binary.LittleEndian.Uint32(buf[20:]),
		OsSwVersion:         binary.LittleEndian.Uint32(buf[24:]),
		BoardVersion:        binary.LittleEndian.Uint32(buf[28:]),
		VendorID:            binary.LittleEndian.Uint16(buf[32:]),
		ProductID:           binary.LittleEndian.Uint16(buf[34:]),
	}
	copy(v.FlightCustomVersion[:], buf[36:44])
	copy(v.MiddlewareCustomVersion[:], buf[44:52])
	copy(v.OsCustomVersion[:], buf[52:60])
	copy(v.UID2[:], buf[60:78])
	return v, nil
}

// PackHeartbeatRequest builds the heartbeat solicitation sent while waiting
// for a device to announce itself.
func PackHeartbeatRequest() []byte {
	hb := Heartbeat{
		Type:           MavTypeGeneric,
		Autopilot:      MavAutopilotInvalid,
		MavlinkVersion: mavlinkProtocolVersion,
	}
	return PackV2(0, 0, 0, MsgIDHeartbeat, hb.marshal())
}

// PackVersionRequest builds a MAV_CMD_REQUEST_MESSAGE for AUTOPILOT_VERSION.
func PackVersionRequest(targetSystem, targetComponent uint8) []byte {
	cmd := CommandLong{
		Command:         MavCmdRequestMessage,
		TargetSystem:    targetSystem,
		TargetComponent: targetComponent,
	}
	cmd.Params[0] = float32(MsgIDAutopilotVersion)
	return PackV2(0, 0, 0, MsgIDCommandLong, cmd.marshal())
}

// PackAutopilotVersion is the device side of PackVersionRequest.
func PackAutopilotVersion(seq, sysID, compID uint8, v *AutopilotVersion) []byte {
	return PackV2(seq, sysID, compID, MsgIDAutopilotVersion, v.marshal())
}

// PackHeartbeat frames hb as sent by a vehicle.
func PackHeartbeat(seq, sysID, compID uint8, hb *Heartbeat) []byte {
	return PackV2(seq, sysID, compID, MsgIDHeartbeat, hb.marshal())
}
