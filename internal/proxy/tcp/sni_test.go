package tcp

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// clientHello starts a TLS handshake towards one end of a pipe and
// returns the other end, positioned at the ClientHello.
func clientHello(t *testing.T, serverName string) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	go func() {
		c := tls.Client(client, &tls.Config{ServerName: serverName, InsecureSkipVerify: true})
		c.SetDeadline(time.Now().Add(2 * time.Second))
		c.Handshake()
		client.Close()
	}()
	t.Cleanup(func() { server.Close() })
	return server
}

func TestServerName(t *testing.T) {
	tests := []struct {
		name       string
		serverName string
		want       string
		wantErr    error
	}{
		{name: "host name", serverName: "db.internal", want: "db.internal"},
		{name: "no sni", serverName: "", wantErr: ErrNoSNI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := NewPeekConn(clientHello(t, tt.serverName))
			got, err := pc.ServerName()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ServerName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServerNameKeepsBytes(t *testing.T) {
	pc := NewPeekConn(clientHello(t, "a.example"))
	if _, err := pc.ServerName(); err != nil {
		t.Fatal(err)
	}
	header := make([]byte, recordHeaderLen)
	if _, err := io.ReadFull(pc, header); err != nil {
		t.Fatal(err)
	}
	if header[0] != recordTypeHandshake {
		t.Errorf("first byte after peek = %#x, want handshake record", header[0])
	}
}

func TestServerNameNotTLS(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	go func() {
		client.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
		client.Close()
	}()

	pc := NewPeekConn(server)
	if _, err := pc.ServerName(); !errors.Is(err, ErrNotTLS) {
		t.Fatalf("err = %v, want ErrNotTLS", err)
	}
	line := make([]byte, 3)
	if _, err := io.ReadFull(pc, line); err != nil || string(line) != "GET" {
		t.Errorf("read after peek = %q, %v", line, err)
	}
}

func TestParseClientHelloMalformed(t *testing.T) {
	for _, msg := range [][]byte{
		nil,
		{0x02, 0, 0, 0},
		{typeClientHello, 0, 0, 1, 3},
	} {
		if _, err := parseClientHello(msg); !errors.Is(err, ErrNoSNI) {
			t.Errorf("parseClientHello(%v) err = %v", msg, err)
		}
	}
}
