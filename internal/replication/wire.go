package replication

import (
	"encoding/binary"
	"fmt"
)

// cursor reads the big-endian, NUL-terminated-string wire encoding used by
// pgoutput messages out of a single in-memory buffer. It is the hand-rolled
// counterpart to pgproto3's frame reader: pgproto3/pgconn hand us the outer
// CopyData/XLogData envelope, and cursor decodes the pgoutput message body
// inside it field by field, rather than delegating to pglogrepl.Parse.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.pos
}

func (c *cursor) need(n int) error {
	if c.remaining() < n {
		return fmt.Errorf("replication: short buffer: need %d bytes, have %d", n, c.remaining())
	}
	return nil
}

func (c *cursor) int8() (int8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := int8(c.buf[c.pos])
	c.pos++
	return v, nil
}

func (c *cursor) uint8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) int16() (int16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(c.buf[c.pos:]))
	c.pos += 2
	return v, nil
}

func (c *cursor) uint32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) int32() (int32, error) {
	v, err := c.uint32()
	return int32(v), err
}

func (c *cursor) uint64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *cursor) int64() (int64, error) {
	v, err := c.uint64()
	return int64(v), err
}

// cstring reads a NUL-terminated UTF-8 string and advances past the NUL.
func (c *cursor) cstring() (string, error) {
	end := c.pos
	for end < len(c.buf) && c.buf[end] != 0 {
		end++
	}
	if end >= len(c.buf) {
		return "", fmt.Errorf("replication: unterminated cstring")
	}
	s := string(c.buf[c.pos:end])
	c.pos = end + 1
	return s, nil
}

// skip advances the cursor by n bytes without interpreting them.
func (c *cursor) skip(n int) error {
	if err := c.need(n); err != nil {
		return err
	}
	c.pos += n
	return nil
}

// bytesN reads and returns the next n bytes without copying.
func (c *cursor) bytesN(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}
