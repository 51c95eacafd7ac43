package tcp

import (
	"bufio"
	"errors"
	"net"

	"golang.org/x/crypto/cryptobyte"
)

var (
	// ErrNotTLS means the first record is not a TLS handshake.
	ErrNotTLS = errors.New("not a TLS connection")
	// ErrNoSNI means the ClientHello carries no server_name extension.
	ErrNoSNI = errors.New("no SNI found in ClientHello")
)

const (
	recordHeaderLen     = 5
	maxRecordLen        = 16384
	recordTypeHandshake = 0x16
	typeClientHello     = 0x01
	extServerName       = 0x0000
)

// PeekConn lets the first bytes of a connection be inspected without
// consuming them: reads return peeked bytes first.
type PeekConn struct {
	net.Conn
	r *bufio.Reader
}

func NewPeekConn(conn net.Conn) *PeekConn {
	return &PeekConn{Conn: conn, r: bufio.NewReaderSize(conn, recordHeaderLen+maxRecordLen)}
}

func (c *PeekConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

// CloseWrite half-closes the underlying connection when supported.
func (c *PeekConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// ServerName peeks the TLS ClientHello and returns its SNI.
func (c *PeekConn) ServerName() (string, error) {
	header, err := c.r.Peek(recordHeaderLen)
	if err != nil {
		return "", err
	}
	if header[0] != recordTypeHandshake {
		return "", ErrNotTLS
	}
	n := int(header[3])<<8 | int(header[4])
	if n > maxRecordLen {
		return "", ErrNotTLS
	}
	record, err := c.r.Peek(recordHeaderLen + n)
	if err != nil {
		return "", err
	}
	return parseClientHello(record[recordHeaderLen:])
}

// parseClientHello extracts the host_name entry of the server_name
// extension from a handshake message.
func parseClientHello(msg []byte) (string, error) {
	s := cryptobyte.String(msg)
	var msgType uint8
	var body cryptobyte.String
	if !s.ReadUint8(&msgType) || msgType != typeClientHello || !s.ReadUint24LengthPrefixed(&body) {
		return "", ErrNoSNI
	}

	var sessionID, suites, compression, exts cryptobyte.String
	if !body.Skip(2+32) || // legacy_version, random
		!body.ReadUint8LengthPrefixed(&sessionID) ||
		!body.ReadUint16LengthPrefixed(&suites) ||
		!body.ReadUint8LengthPrefixed(&compression) {
		return "", ErrNoSNI
	}
	if body.Empty() || !body.ReadUint16LengthPrefixed(&exts) {
		return "", ErrNoSNI
	}

	for !exts.Empty() {
		var extType uint16
		var ext cryptobyte.String
		if !exts.ReadUint16(&extType) || !exts.ReadUint16LengthPrefixed(&ext) {
			return "", ErrNoSNI
		}
		if extType != extServerName {
			continue
		}
		var names cryptobyte.String
		if !ext.ReadUint16LengthPrefixed(&names) {
			return "", ErrNoSNI
		}
		for !names.Empty() {
			var nameType uint8
			var name cryptobyte.String
			if !names.ReadUint8(&nameType) || !names.ReadUint16LengthPrefixed(&name) {
				return "", ErrNoSNI
			}
			if nameType == 0 && len(name) > 0 {
				return string(name), nil
			}
		}
	}
	return "", ErrNoSNI
}
