// internal/mavlink/parser.go
package mavlink

type parseState int

const (
	stateIdle parseState = iota
	stateHeader
	statePayload
	stateChecksum
	stateSignature
)

// Parser reassembles frames from a byte stream one byte at a time.
// Frames with unknown message ids or bad checksums are dropped and the
// parser resynchronizes on the next start marker.
type Parser struct {
	state   parseState
	version int
	header  []byte
	payload []byte
	length  int
	crc     []byte
	sigLeft int
	pending *Frame
	dropped int
}

// NewParser returns an idle parser.
func NewParser() *Parser {
	return &Parser{}
}

// Dropped returns the number of frames rejected so far.
func (p *Parser) Dropped() int {
	return p.dropped
}

// Parse consumes one byte and returns a frame when b completes one.
func (p *Parser) Parse(b byte) (*Frame, bool) {
	switch p.state {
	case stateIdle:
		switch b {
		case stxV1:
			p.begin(1)
		case stxV2:
			p.begin(2)
		}

	case stateHeader:
		p.header = append(p.header, b)
		if len(p.header) == p.headerLen() {
			p.length = int(p.header[0])
			if p.length == 0 {
				p.state = stateChecksum
			} else {
				p.state = statePayload
			}
		}

	case statePayload:
		p.payload = append(p.payload, b)
		if len(p.payload) == p.length {
			p.state = stateChecksum
		}

	case stateChecksum:
		p.crc = append(p.crc, b)
		if len(p.crc) < 2 {
			return nil, false
		}
		signed := p.version == 2 && p.header[1]&incompatSigned != 0
		f, ok := p.finish()
		if !ok {
			p.dropped++
		}
		p.reset()
		if signed {
			p.pending = f
			p.sigLeft = signatureLen
			p.state = stateSignature
			return nil, false
		}
		return f, ok

	case stateSignature:
		p.sigLeft--
		if p.sigLeft == 0 {
			f := p.pending
			p.reset()
			return f, f != nil
		}
	}
	return nil, false
}

func (p *Parser) begin(version int) {
	p.reset()
	p.version = version
	p.state = stateHeader
}

func (p *Parser) reset() {
	p.state = stateIdle
	p.header = p.header[:0]
	p.payload = p.payload[:0]
	p.crc = p.crc[:0]
	p.pending = nil
	p.sigLeft = 0
}

func (p *Parser) headerLen() int {
	if p.version == 1 {
		return headerLenV1
	}
	return headerLenV2
}

func (p *Parser) finish() (*Frame, bool) {
	f := &Frame{Version: p.version}
	if p.version == 1 {
		f.Seq, f.SysID, f.CompID = p.header[1], p.header[2], p.header[3]
		f.MsgID = uint32(p.header[4])
	} else {
		f.Signed = p.header[1]&incompatSigned != 0
		f.Seq, f.SysID, f.CompID = p.header[3], p.header[4], p.header[5]
		f.MsgID = uint32(p.header[6]) | uint32(p.header[7])<<8 | uint32(p.header[8])<<16
	}

	info, known := messages[f.MsgID]
	if !known || p.length > info.length {
		return nil, false
	}

	crc := crcInit
	for _, b := range p.header {
		crc = accumulate(crc, b)
	}
	for _, b := range p.payload {
		crc = accumulate(crc, b)
	}
	crc = accumulate(crc, info.crcExtra)
	if byte(crc) != p.crc[0] || byte(crc>>8) != p.crc[1] {
		return nil, false
	}

	f.Payload = append([]byte(nil), p.payload...)
	return f, true
}
