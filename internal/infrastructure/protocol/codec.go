package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
	"unicode/utf8"

	"vidswarm/internal/core/domain"
)

// Frame layout, big-endian:
//
//	[length uint32][kind uint8][payload ...]
//
// length counts the kind byte and the payload.
const (
	MaxFrameSize = 1 << 20
	headerSize   = 5

	maxStringLen = math.MaxUint16

	minVideoSize        = 2 + 2 + 8 + 2 + 1
	minPeerSize         = 2 + 2 + 2 + 8
	minCatalogEntrySize = 2 + minVideoSize
)

var (
	ErrMalformed     = errors.New("malformed frame")
	ErrFrameTooLarge = fmt.Errorf("%w: frame exceeds %d bytes", ErrMalformed, MaxFrameSize)
	ErrUnknownKind   = fmt.Errorf("%w: unknown message kind", ErrMalformed)

	ErrFieldTooLong = errors.New("field too long")
	ErrInvalidField = errors.New("invalid field value")
)

// IsMalformed reports whether err is a framing or decoding violation by the remote.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

// Encode returns the complete frame for m.
func Encode(m Message) ([]byte, error) {
	e := &encoder{buf: make([]byte, headerSize, 64)}
	e.buf[4] = byte(m.Kind())
	m.encode(e)
	if e.err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), e.err)
	}

	length := len(e.buf) - 4
	if length > MaxFrameSize {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), ErrFrameTooLarge)
	}
	binary.BigEndian.PutUint32(e.buf[:4], uint32(length))
	return e.buf, nil
}

// WriteMessage writes one frame with a single Write call.
func WriteMessage(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadMessage reads exactly one frame. A clean close before the header yields io.EOF,
// a close inside the frame io.ErrUnexpectedEOF, a bad frame an error wrapping ErrMalformed.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(hdr[:4])
	if length == 0 {
		return nil, fmt.Errorf("%w: zero length", ErrMalformed)
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length-1)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return Decode(Kind(hdr[4]), payload)
}

// Decode parses a payload of the given kind. Trailing bytes are an error.
func Decode(kind Kind, payload []byte) (Message, error) {
	m := newMessage(kind)
	if m == nil {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownKind, uint8(kind))
	}

	d := &decoder{buf: payload}
	m.decode(d)
	if d.err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, d.err)
	}
	if d.off != len(d.buf) {
		return nil, fmt.Errorf("decode %s: %w: %d trailing bytes", kind, ErrMalformed, len(d.buf)-d.off)
	}
	return m, nil
}

type encoder struct {
	buf []byte
	err error
}

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) string(s string) {
	if len(s) > maxStringLen {
		e.fail(fmt.Errorf("%w: %d bytes", ErrFieldTooLong, len(s)))
		return
	}
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) port(p int) {
	if p < 0 || p > math.MaxUint16 {
		e.fail(fmt.Errorf("%w: port %d", ErrInvalidField, p))
		return
	}
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(p))
}

func (e *encoder) size(n int64) {
	if n < 0 {
		e.fail(fmt.Errorf("%w: size %d", ErrInvalidField, n))
		return
	}
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(n))
}

func (e *encoder) timestamp(t time.Time) {
	var n int64
	if !t.IsZero() {
		n = t.UnixNano()
	}
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(n))
}

func (e *encoder) bool(b bool) {
	if b {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) count(n int) {
	if n > math.MaxUint32 {
		e.fail(fmt.Errorf("%w: %d elements", ErrFieldTooLong, n))
		return
	}
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(n))
}

func (e *encoder) video(v domain.VideoRecord) {
	e.string(string(v.ID))
	e.string(v.Name)
	e.size(v.SizeBytes)
	e.string(string(v.Owner))
	e.bool(v.Published)
}

func (e *encoder) peer(p domain.PeerRecord) {
	e.string(string(p.ID))
	e.string(p.Host)
	e.port(p.Port)
	e.timestamp(p.LastSeen)
}

type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf)-d.off < n {
		d.fail("truncated field at offset %d", d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) uint16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *decoder) uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) uint64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *decoder) string() string {
	n := int(d.uint16())
	b := d.take(n)
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		d.fail("invalid utf-8 string")
		return ""
	}
	return string(b)
}

func (d *decoder) port() int {
	return int(d.uint16())
}

func (d *decoder) size() int64 {
	n := d.uint64()
	if n > math.MaxInt64 {
		d.fail("size %d out of range", n)
		return 0
	}
	return int64(n)
}

func (d *decoder) timestamp() time.Time {
	n := int64(d.uint64())
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (d *decoder) bool() bool {
	b := d.take(1)
	if b == nil {
		return false
	}
	switch b[0] {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail("invalid bool %d", b[0])
		return false
	}
}

// count reads a list length and rejects counts the remaining payload cannot hold.
func (d *decoder) count(minElemSize int) int {
	n := int(d.uint32())
	if d.err != nil {
		return 0
	}
	if n > (len(d.buf)-d.off)/minElemSize {
		d.fail("list of %d elements exceeds frame", n)
		return 0
	}
	return n
}

func (d *decoder) video() domain.VideoRecord {
	return domain.VideoRecord{
		ID:        domain.VideoID(d.string()),
		Name:      d.string(),
		SizeBytes: d.size(),
		Owner:     domain.PeerID(d.string()),
		Published: d.bool(),
	}
}

func (d *decoder) peer() domain.PeerRecord {
	return domain.PeerRecord{
		ID:       domain.PeerID(d.string()),
		Host:     d.string(),
		Port:     d.port(),
		LastSeen: d.timestamp(),
	}
}
