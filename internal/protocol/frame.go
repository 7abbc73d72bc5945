package protocol

import (
	"bytes"
	"fmt"
)

// FrameFault is the specific kind of frame decoding failure.
type FrameFault string

// Frame fault kinds.
const (
	Malformed      FrameFault = "malformed"
	UnknownOpcode  FrameFault = "unknown_opcode"
	ChecksumFailed FrameFault = "checksum_failed"
)

// FrameError reports a frame that could not be decoded. A FrameError on
// a single notification is recoverable: the frame is dropped and the
// link stays up.
type FrameError struct {
	Fault FrameFault
	Msg   string
}

// Error implements the error interface.
func (e *FrameError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Fault)
	}
	return fmt.Sprintf("%s: %s", e.Fault, e.Msg)
}

// Is allows errors.Is to compare FrameError values by fault kind.
func (e *FrameError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*FrameError)
	if !ok {
		return false
	}
	return e.Fault == t.Fault
}

// Predefined sentinel errors for frame faults.
var (
	ErrMalformed      = &FrameError{Fault: Malformed}
	ErrUnknownOpcode  = &FrameError{Fault: UnknownOpcode}
	ErrChecksumFailed = &FrameError{Fault: ChecksumFailed}
)

func malformed(format string, args ...interface{}) error {
	return &FrameError{Fault: Malformed, Msg: fmt.Sprintf(format, args...)}
}

// Frame is one protocol message: an opcode plus its body, without the
// wire prefix or checksum. Frames are short-lived; they are built per
// operation and discarded after encode or decode.
type Frame struct {
	Opcode byte
	Body   []byte
}

// xorChecksum computes the trailing checksum byte for checksummed
// opcodes: XOR over prefix, opcode and body.
func xorChecksum(opcode byte, body []byte) byte {
	sum := framePrefix[0] ^ framePrefix[1] ^ opcode
	for _, b := range body {
		sum ^= b
	}
	return sum
}

// Encode serializes a frame for the wire: prefix, opcode, body and, for
// opcodes the table declares checksummed, a trailing XOR byte. Encode
// is deterministic and never fails for frames built by this package.
func (t *Table) Encode(f Frame) []byte {
	out := make([]byte, 0, len(framePrefix)+1+len(f.Body)+1)
	out = append(out, framePrefix...)
	out = append(out, f.Opcode)
	out = append(out, f.Body...)
	if t.Checksummed[f.Opcode] {
		out = append(out, xorChecksum(f.Opcode, f.Body))
	}
	return out
}

// Decode parses raw bytes into a frame. It validates the prefix, the
// minimum length and, for checksummed opcodes, the trailing checksum
// before interpreting anything else. Unknown opcodes are rejected so a
// firmware revision with a different opcode map fails loudly instead of
// being misread.
func (t *Table) Decode(raw []byte) (Frame, error) {
	if len(raw) < len(framePrefix)+1 {
		return Frame{}, malformed("frame too short: %d bytes", len(raw))
	}
	if !bytes.Equal(raw[:len(framePrefix)], framePrefix) {
		return Frame{}, malformed("bad prefix: % X", raw[:len(framePrefix)])
	}

	opcode := raw[len(framePrefix)]
	if _, ok := t.Opcodes[opcode]; !ok {
		return Frame{}, &FrameError{Fault: UnknownOpcode, Msg: fmt.Sprintf("opcode 0x%02X", opcode)}
	}

	body := raw[len(framePrefix)+1:]
	if t.Checksummed[opcode] {
		if len(body) == 0 {
			return Frame{}, malformed("checksummed frame without checksum byte")
		}
		payload, sum := body[:len(body)-1], body[len(body)-1]
		if want := xorChecksum(opcode, payload); sum != want {
			return Frame{}, &FrameError{
				Fault: ChecksumFailed,
				Msg:   fmt.Sprintf("got 0x%02X, want 0x%02X", sum, want),
			}
		}
		body = payload
	}

	f := Frame{Opcode: opcode, Body: make([]byte, len(body))}
	copy(f.Body, body)
	return f, nil
}

// Kind returns the frame's classification under the table.
func (t *Table) Kind(f Frame) FrameKind {
	return t.Opcodes[f.Opcode]
}

// Assembler reassembles state payloads from notification chunks. The
// radio layer delivers the ~100-byte state response split across
// several MTU-sized notifications; chunks are accumulated until a full
// payload is buffered. A chunk that opens a new prefix while a shorter
// prefix-valid payload is buffered completes the buffered payload
// first, so sensor groups notified as distinct frames each come out
// independently decodable.
//
// Assembler is not safe for concurrent use; it is owned by the single
// notification consumer.
type Assembler struct {
	table *Table
	buf   []byte
}

// NewAssembler creates an assembler for the given table.
func NewAssembler(table *Table) *Assembler {
	return &Assembler{table: table}
}

// Push feeds one notification chunk and returns any completed raw
// frames, in arrival order. Chunks that cannot open a valid frame are
// discarded.
func (a *Assembler) Push(chunk []byte) [][]byte {
	if len(chunk) == 0 {
		return nil
	}

	var complete [][]byte

	// A fresh prefix closes out whatever was buffered.
	if len(a.buf) >= len(framePrefix)+1 && len(chunk) >= len(framePrefix) &&
		bytes.Equal(chunk[:len(framePrefix)], framePrefix) {
		complete = append(complete, a.take())
	}

	if len(a.buf) == 0 && chunk[0] != framePrefix[0] {
		// Mid-payload chunk with no opening buffered; nothing to
		// attach it to.
		return complete
	}

	a.buf = append(a.buf, chunk...)

	if len(a.buf) >= len(framePrefix) && !bytes.Equal(a.buf[:len(framePrefix)], framePrefix) {
		a.buf = a.buf[:0]
		return complete
	}

	if len(a.buf) >= a.table.StateFrameLen {
		complete = append(complete, a.take())
	}
	return complete
}

// Flush returns the buffered payload if it is long enough to decode,
// or nil. Used at the end of a polling cycle to surface a trailing
// short frame that no later chunk would ever complete.
func (a *Assembler) Flush() []byte {
	if len(a.buf) >= len(framePrefix)+1 {
		return a.take()
	}
	a.buf = a.buf[:0]
	return nil
}

// Reset discards any partially assembled payload. Called when the link
// drops so a stale half-frame never prepends the next session's data.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}

func (a *Assembler) take() []byte {
	out := make([]byte, len(a.buf))
	copy(out, a.buf)
	a.buf = a.buf[:0]
	return out
}
