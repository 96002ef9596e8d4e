// Package mockssh provides an SSH server on a loopback port that serves the
// sftp subsystem from an in-memory tree, for exercising the real SSH and
// SFTP client stack in tests.
package mockssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Server is a password-authenticated SFTP server.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	handlers sftp.Handlers

	mu    sync.RWMutex
	users map[string]string

	authFailures atomic.Int64
	logins       atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures the server.
type Option func(*Server)

// WithUser adds a user/password pair.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// New starts a server on 127.0.0.1 with a fresh host key.
func New(opts ...Option) (*Server, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	s := &Server{
		handlers: sftp.InMemHandler(),
		users:    map[string]string{"test": "test"},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			s.mu.RLock()
			want, ok := s.users[c.User()]
			s.mu.RUnlock()
			if ok && string(password) == want {
				s.logins.Add(1)
				return nil, nil
			}
			s.authFailures.Add(1)
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	s.config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Debug("mock SSH server started", slog.String("addr", listener.Addr().String()))
	return s, nil
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Logins counts successful password authentications.
func (s *Server) Logins() int { return int(s.logins.Load()) }

// AuthFailures counts rejected passwords.
func (s *Server) AuthFailures() int { return int(s.authFailures.Load()) }

// Close stops accepting and waits for open connections to end.
func (s *Server) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("mock SSH accept failed", slog.String("error", err.Error()))
				return
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	conn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	// Closing the listener does not end live connections.
	go func() {
		<-s.done
		conn.Close()
	}()

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(channel, requests)
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()
	for req := range requests {
		if req.Type != "subsystem" || subsystemName(req.Payload) != "sftp" {
			req.Reply(false, nil)
			continue
		}
		req.Reply(true, nil)

		server := sftp.NewRequestServer(channel, s.handlers)
		if err := server.Serve(); err != nil {
			slog.Debug("mock SFTP session ended", slog.String("error", err.Error()))
		}
		server.Close()
		return
	}
}

// subsystemName decodes the string payload of a subsystem request.
func subsystemName(payload []byte) string {
	var msg struct{ Name string }
	if err := ssh.Unmarshal(payload, &msg); err != nil {
		return ""
	}
	return msg.Name
}
