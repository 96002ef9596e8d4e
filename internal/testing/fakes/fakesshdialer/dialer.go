// Package fakesshdialer provides a scripted ports.SSHDialer.
package fakesshdialer

import (
	"errors"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/blockterm/internal/ports"
)

// ErrNotConfigured is returned by a Dialer with no handler.
var ErrNotConfigured = errors.New("fakesshdialer: not configured")

// DialCall records one Dial.
type DialCall struct {
	Network string
	Addr    string
	User    string
	Config  *ssh.ClientConfig
}

// Dialer answers Dial with a handler set by the test. Safe for concurrent use.
type Dialer struct {
	mu      sync.Mutex
	handler func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
	calls   []DialCall
}

// New returns a dialer that fails every call with ErrNotConfigured.
func New() *Dialer {
	return &Dialer{}
}

// Dial implements ports.SSHDialer.
func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d.mu.Lock()
	call := DialCall{Network: network, Addr: addr, Config: config}
	if config != nil {
		call.User = config.User
	}
	d.calls = append(d.calls, call)
	handler := d.handler
	d.mu.Unlock()

	if handler == nil {
		return nil, ErrNotConfigured
	}
	return handler(network, addr, config)
}

// SetDialFunc installs the handler for following calls.
func (d *Dialer) SetDialFunc(fn func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = fn
}

// SetError makes every following call fail with err.
func (d *Dialer) SetError(err error) {
	d.SetDialFunc(func(string, string, *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, err
	})
}

// Calls returns every Dial so far.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.calls...)
}

var _ ports.SSHDialer = (*Dialer)(nil)
