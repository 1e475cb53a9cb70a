// Package wire implements the "<length>:<json>" packet framing shared by the
// Firefox remote debugging protocol and Marionette.
package wire

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// MaxPacketSize bounds a single packet body.
const MaxPacketSize = 256 << 20

// maxLengthDigits covers MaxPacketSize with room to spare.
const maxLengthDigits = 10

var ErrEmptyPacket = errors.New("empty packet")

// ReadPacket reads one length-prefixed packet body.
func ReadPacket(r *bufio.Reader) ([]byte, error) {
	length := 0
	digits := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == ':' {
			break
		}
		if b < '0' || b > '9' {
			return nil, fmt.Errorf("invalid packet length byte %q", b)
		}
		digits++
		if digits > maxLengthDigits {
			return nil, fmt.Errorf("packet length prefix too long")
		}
		length = length*10 + int(b-'0')
	}
	if digits == 0 {
		return nil, fmt.Errorf("missing packet length")
	}
	if length == 0 {
		return nil, ErrEmptyPacket
	}
	if length > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d bytes", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// WritePacket writes data as a single packet.
func WritePacket(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyPacket
	}
	if len(data) > MaxPacketSize {
		return fmt.Errorf("packet too large: %d bytes", len(data))
	}
	buf := make([]byte, 0, len(data)+maxLengthDigits+1)
	buf = strconv.AppendInt(buf, int64(len(data)), 10)
	buf = append(buf, ':')
	buf = append(buf, data...)
	_, err := w.Write(buf)
	return err
}

// WriteJSON marshals v and writes it as a packet.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal packet: %w", err)
	}
	return WritePacket(w, data)
}

// ApplyDeadline sets the connection deadline from ctx, clearing it when ctx has none.
func ApplyDeadline(conn net.Conn, ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		return conn.SetDeadline(deadline)
	}
	return conn.SetDeadline(time.Time{})
}
