package ports

import "golang.org/x/crypto/ssh"

// SSHDialer opens authenticated SSH connections. The sftp transfer backend
// dials through it so tests can substitute a fake or a loopback server.
type SSHDialer interface {
	Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}
