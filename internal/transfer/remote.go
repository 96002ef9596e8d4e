package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/acolita/blockterm/internal/inject"
	"github.com/acolita/blockterm/internal/ports"
	"github.com/acolita/blockterm/internal/security"
	"github.com/acolita/blockterm/internal/sftp"
	sshclient "github.com/acolita/blockterm/internal/ssh"
)

// Remote is an open file channel to one host.
type Remote interface {
	Open(path string) (io.ReadCloser, int64, error)
	Create(path string) (io.WriteCloser, error)
	Stat(path string) (os.FileInfo, error)
	Rename(oldPath, newPath string) error
	Remove(path string) error
	Close() error
}

// RemoteDialer opens Remote connections for the sftp backend.
type RemoteDialer interface {
	DialRemote(ctx context.Context, target inject.Target) (Remote, error)
}

var _ Remote = (*sftp.Client)(nil)

func (m *Manager) startSFTP(e *entry, p plan) {
	ctx, cancel := context.WithCancel(context.Background())

	user := p.remote.user
	if user == "" {
		user = m.opts.DefaultUser
	}
	target := inject.Target{User: user, Host: p.remote.host}

	e.mu.Lock()
	e.cancel = cancel
	e.t.Target = target.String()
	if m.opts.Timeout > 0 {
		e.timer = m.opts.Clock.AfterFunc(m.opts.Timeout, func() {
			e.mu.Lock()
			e.timedOut = true
			e.mu.Unlock()
			cancel()
		})
	}
	e.mu.Unlock()

	go func() {
		defer cancel()
		if err := m.runSFTP(ctx, e, target, p); err != nil {
			m.finish(e, 1, err.Error())
			return
		}
		m.finish(e, 0, "")
	}()
}

func (m *Manager) runSFTP(ctx context.Context, e *entry, target inject.Target, p plan) error {
	if m.opts.Dialer == nil {
		return errors.New("sftp backend has no dialer")
	}
	limiter := m.opts.Limiter
	if limiter != nil {
		if locked, remaining := limiter.IsLocked(target.Host, target.User); locked {
			return fmt.Errorf("automatic login to %s locked for %s", target, remaining.Round(time.Second))
		}
	}

	remote, err := m.opts.Dialer.DialRemote(ctx, target)
	if err != nil {
		if limiter != nil && isAuthError(err) {
			limiter.RecordFailure(target.Host, target.User)
		}
		return fmt.Errorf("connect %s: %w", target, err)
	}
	defer remote.Close()
	if limiter != nil {
		limiter.RecordSuccess(target.Host, target.User)
	}
	m.appendLog(e, fmt.Sprintf("connected to %s\n", target))

	progress := &progressWriter{ctx: ctx, report: func(f float64) { m.setProgress(e, f) }}
	if e.t.Direction == Upload {
		return m.upload(e, remote, p, progress)
	}
	return m.download(e, remote, p, progress)
}

func (m *Manager) upload(e *entry, remote Remote, p plan, progress *progressWriter) error {
	for _, src := range p.locals {
		info, err := m.opts.FS.Stat(src)
		if err != nil {
			return fmt.Errorf("stat %s: %w", src, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", src)
		}
		progress.total += info.Size()
	}

	intoDir := len(p.locals) > 1 || p.remote.path == "" || strings.HasSuffix(p.remote.path, "/")
	if !intoDir {
		if info, err := remote.Stat(p.remote.path); err == nil && info.IsDir() {
			intoDir = true
		}
	}

	for _, src := range p.locals {
		dst := p.remote.path
		if intoDir {
			dst = path.Join(dst, filepath.Base(src))
		}
		if err := m.uploadFile(remote, src, dst, progress); err != nil {
			return err
		}
		m.appendLog(e, fmt.Sprintf("%s -> %s\n", src, dst))
	}
	return nil
}

// uploadFile streams src to dst through a remote staging file.
func (m *Manager) uploadFile(remote Remote, src, dst string, progress *progressWriter) error {
	r, err := m.opts.FS.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer r.Close()

	part := dst + ".part"
	w, err := remote.Create(part)
	if err != nil {
		return fmt.Errorf("create %s: %w", part, err)
	}

	progress.w = w
	_, err = io.Copy(progress, r)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = remote.Rename(part, dst)
	}
	if err != nil {
		remote.Remove(part)
		return fmt.Errorf("upload %s: %w", src, err)
	}
	return nil
}

func (m *Manager) download(e *entry, remote Remote, p plan, progress *progressWriter) error {
	r, size, err := remote.Open(p.remote.path)
	if err != nil {
		return err
	}
	defer r.Close()
	progress.total = size

	w, err := m.opts.FS.OpenFile(e.part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", e.part, err)
	}

	progress.w = w
	_, err = io.Copy(progress, r)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", p.remote.path, err)
	}
	m.appendLog(e, fmt.Sprintf("%s -> %s\n", p.remote, e.final))
	return nil
}

func (m *Manager) appendLog(e *entry, text string) {
	e.mu.Lock()
	e.log.Write(text)
	e.mu.Unlock()
}

func (m *Manager) setProgress(e *entry, f float64) {
	e.mu.Lock()
	e.t.Progress = f
	snap := e.snapshotLocked()
	e.mu.Unlock()
	m.notify(snap)
}

func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// progressWriter counts bytes across every file of one transfer and stops
// copying once ctx is canceled.
type progressWriter struct {
	ctx    context.Context
	w      io.Writer
	done   int64
	total  int64
	last   float64
	report func(float64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.w.Write(b)
	p.done += int64(n)
	if p.total > 0 {
		f := float64(p.done) / float64(p.total)
		if f > 1 {
			f = 1
		}
		if f-p.last >= 0.01 || (f == 1 && p.last < 1) {
			p.last = f
			p.report(f)
		}
	}
	return n, err
}

// SSHDialer opens SFTP sessions over SSH, authenticating with the agent,
// default keys and the stored password for the target.
type SSHDialer struct {
	Store      ports.CredentialStore
	KnownHosts string
	UseAgent   bool
	Timeout    time.Duration
	Clock      ports.Clock
	Dialer     ports.SSHDialer
	FS         ports.FileSystem
}

// DialRemote connects to target and opens an SFTP session.
func (d *SSHDialer) DialRemote(ctx context.Context, target inject.Target) (Remote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	auth := sshclient.AuthConfig{UseAgent: d.UseAgent, Host: target.Host, FS: d.FS}
	if d.Store != nil {
		if secret, ok := d.Store.Lookup(target.Host, target.User); ok {
			auth.Password = string(secret)
			security.WipeBytes(secret)
		}
	}
	methods, err := sshclient.BuildAuthMethods(auth)
	if err != nil {
		return nil, err
	}
	hostKeys, err := sshclient.BuildHostKeyCallback(d.KnownHosts, d.FS)
	if err != nil {
		return nil, err
	}

	client, err := sshclient.NewClient(sshclient.ClientOptions{
		Host:            target.Host,
		Port:            target.Port,
		User:            target.User,
		AuthMethods:     methods,
		HostKeyCallback: hostKeys,
		Timeout:         d.Timeout,
		Clock:           d.Clock,
		Dialer:          d.Dialer,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Connect(); err != nil {
		return nil, err
	}
	sc, err := client.SFTPClient()
	if err != nil {
		client.Close()
		return nil, err
	}
	return &sshRemote{Client: sc, conn: client}, nil
}

// sshRemote closes the SSH connection along with the SFTP session.
type sshRemote struct {
	*sftp.Client
	conn *sshclient.Client
}

func (r *sshRemote) Close() error {
	return r.conn.Close()
}
