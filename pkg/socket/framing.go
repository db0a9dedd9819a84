package socket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Framing constants.
const (
	// PacketHeaderSize is the length prefix size in bytes.
	PacketHeaderSize = 2

	// MaxPacketSize is the largest payload a 2-byte prefix can describe.
	MaxPacketSize = 0xFFFF
)

// PacketSize returns the wire size of a packet carrying n payload bytes.
func PacketSize(n int) int { return PacketHeaderSize + n }

// AppendPacket appends the length prefix and payload to dst.
func AppendPacket(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxPacketSize {
		return dst, newError(KindFraming, "encode packet", fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, len(payload), MaxPacketSize))
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(payload)))
	return append(dst, payload...), nil
}

// EncodePacket returns payload with its length prefix.
func EncodePacket(payload []byte) ([]byte, error) {
	return AppendPacket(make([]byte, 0, PacketSize(len(payload))), payload)
}

// DecodePacket splits the first packet off b. It returns the payload and
// the bytes after it, or io.ErrUnexpectedEOF if b holds no full packet.
func DecodePacket(b []byte) (payload, rest []byte, err error) {
	if len(b) < PacketHeaderSize {
		return nil, b, io.ErrUnexpectedEOF
	}
	n := int(binary.BigEndian.Uint16(b))
	if len(b) < PacketHeaderSize+n {
		return nil, b, io.ErrUnexpectedEOF
	}
	end := PacketHeaderSize + n
	return b[PacketHeaderSize:end], b[end:], nil
}

// PacketWriter writes framed packets to any io.Writer. Safe for
// concurrent use.
type PacketWriter struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

func NewPacketWriter(w io.Writer) *PacketWriter {
	return &PacketWriter{w: w}
}

// WritePacket writes prefix and payload with a single Write call.
func (pw *PacketWriter) WritePacket(payload []byte) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	var err error
	pw.buf, err = AppendPacket(pw.buf[:0], payload)
	if err != nil {
		return err
	}
	if _, err := pw.w.Write(pw.buf); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	return nil
}

// PacketReader reads framed packets from any io.Reader.
type PacketReader struct {
	r   io.Reader
	max int
	hdr [PacketHeaderSize]byte
}

// NewPacketReader returns a reader enforcing MaxPacketSize.
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{r: r, max: MaxPacketSize}
}

// SetMaxPacketSize lowers the accepted payload size.
func (pr *PacketReader) SetMaxPacketSize(n int) {
	if n <= 0 || n > MaxPacketSize {
		n = MaxPacketSize
	}
	pr.max = n
}

// ReadPacket reads one packet into buf and returns the payload length.
// A packet larger than min(len(buf), max) is consumed from the stream and
// reported as ErrPacketTooLarge, so the next call stays aligned. A clean
// end of stream before a header returns io.EOF.
func (pr *PacketReader) ReadPacket(buf []byte) (int, error) {
	const op = "read packet"
	if _, err := io.ReadFull(pr.r, pr.hdr[:]); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, newError(KindFraming, op, err)
	}
	n := int(binary.BigEndian.Uint16(pr.hdr[:]))
	limit := min(len(buf), pr.max)
	if n > limit {
		if _, err := io.CopyN(io.Discard, pr.r, int64(n)); err != nil {
			return 0, newError(KindFraming, op, fmt.Errorf("drain oversize packet: %w", err))
		}
		return 0, newError(KindFraming, op, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, n, limit))
	}
	if _, err := io.ReadFull(pr.r, buf[:n]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, newError(KindFraming, op, err)
	}
	return n, nil
}
