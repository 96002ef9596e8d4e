// Package realsshdialer connects to SSH servers over TCP.
package realsshdialer

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// keepAlive is the TCP keepalive period for SSH connections. SSH-level
// keepalives are sent separately by the client.
const keepAlive = 30 * time.Second

// Dialer implements ports.SSHDialer. The client config's Timeout bounds both
// the TCP connect and the SSH handshake.
type Dialer struct{}

// New returns a Dialer.
func New() *Dialer {
	return &Dialer{}
}

// Dial connects to addr and runs the SSH handshake.
func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	nd := net.Dialer{Timeout: config.Timeout, KeepAlive: keepAlive}
	conn, err := nd.Dial(network, addr)
	if err != nil {
		return nil, err
	}

	if config.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh: handshake failed: %w", unwrapHandshake(err))
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// unwrapHandshake drops the "ssh: handshake failed: " prefix x/crypto adds,
// so the caller's wrap does not repeat it.
func unwrapHandshake(err error) error {
	const prefix = "ssh: handshake failed: "
	msg := err.Error()
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return fmt.Errorf("%s", msg[len(prefix):])
	}
	return err
}
