// Package sftp streams files to and from a remote host over an SSH
// connection.
package sftp

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Client wraps an SFTP session. The subsystem is opened lazily on first use
// when created from an SSH connection.
type Client struct {
	sshConn    *ssh.Client
	sftpClient *sftp.Client
	mu         sync.Mutex
	closed     bool
}

// NewClient creates a client on an existing SSH connection.
func NewClient(sshConn *ssh.Client) *Client {
	return &Client{sshConn: sshConn}
}

// NewClientPipe creates a client speaking SFTP over r and w, e.g. a
// subprocess or an in-memory server.
func NewClientPipe(r io.Reader, w io.WriteCloser) (*Client, error) {
	c, err := sftp.NewClientPipe(r, w)
	if err != nil {
		return nil, fmt.Errorf("create sftp client: %w", err)
	}
	return &Client{sftpClient: c}, nil
}

// session returns the underlying client, opening it if needed.
func (c *Client) session() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("sftp client is closed")
	}
	if c.sftpClient != nil {
		return c.sftpClient, nil
	}
	if c.sshConn == nil {
		return nil, fmt.Errorf("ssh connection is nil")
	}

	client, err := sftp.NewClient(c.sshConn)
	if err != nil {
		return nil, fmt.Errorf("create sftp client: %w", err)
	}
	c.sftpClient = client
	return client, nil
}

// Close closes the SFTP session. The SSH connection stays open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.sftpClient != nil {
		err := c.sftpClient.Close()
		c.sftpClient = nil
		return err
	}
	return nil
}

// Stat returns file information for path.
func (c *Client) Stat(path string) (os.FileInfo, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	return s.Stat(path)
}

// MkdirAll creates path and any missing parents.
func (c *Client) MkdirAll(path string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.MkdirAll(path)
}

// Remove removes a file or empty directory.
func (c *Client) Remove(path string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.Remove(path)
}

// Rename moves oldPath to newPath, replacing newPath when the server
// supports the posix-rename extension.
func (c *Client) Rename(oldPath, newPath string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	if err := s.PosixRename(oldPath, newPath); err == nil {
		return nil
	}
	return s.Rename(oldPath, newPath)
}

// Open opens a remote file for streaming reads and returns its size.
// The caller closes the reader.
func (c *Client) Open(path string) (io.ReadCloser, int64, error) {
	s, err := c.session()
	if err != nil {
		return nil, 0, err
	}

	file, err := s.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open remote file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat remote file: %w", err)
	}
	return file, info.Size(), nil
}

// Create creates or truncates a remote file for streaming writes.
// The caller closes the writer.
func (c *Client) Create(path string) (io.WriteCloser, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}

	file, err := s.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create remote file: %w", err)
	}
	return file, nil
}

// ReadDir lists a remote directory.
func (c *Client) ReadDir(path string) ([]os.FileInfo, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	return s.ReadDir(path)
}
