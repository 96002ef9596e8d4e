package ssh

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/acolita/blockterm/internal/adapters/realfs"
	"github.com/acolita/blockterm/internal/ports"
)

// defaultKeys are tried in order when no key is configured.
var defaultKeys = []string{
	"~/.ssh/id_ed25519",
	"~/.ssh/id_rsa",
	"~/.ssh/id_ecdsa",
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	KeyPath       string // explicit private key
	KeyPassphrase string
	UseAgent      bool
	Password      string
	Host          string // for ~/.ssh/config IdentityFile lookup
	FS            ports.FileSystem
}

// BuildAuthMethods constructs SSH auth methods from config: agent, explicit
// key, the IdentityFile from ~/.ssh/config, a default key, then password.
func BuildAuthMethods(cfg AuthConfig) ([]ssh.AuthMethod, error) {
	fsys := cfg.FS
	if fsys == nil {
		fsys = realfs.New()
	}

	var methods []ssh.AuthMethod

	if cfg.UseAgent {
		if m, err := agentAuth(fsys); err == nil {
			methods = append(methods, m)
		} else {
			slog.Debug("ssh agent unavailable", slog.String("error", err.Error()))
		}
	}

	if cfg.KeyPath != "" {
		m, err := privateKeyAuth(fsys, cfg.KeyPath, cfg.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("private key auth: %w", err)
		}
		methods = append(methods, m)
	} else {
		if cfg.Host != "" {
			if keyPath := identityFileFor(fsys, cfg.Host); keyPath != "" {
				if m, err := privateKeyAuth(fsys, keyPath, cfg.KeyPassphrase); err == nil {
					methods = append(methods, m)
				}
			}
		}
		if cfg.Password == "" && len(methods) == 0 {
			for _, keyPath := range defaultKeys {
				if m, err := privateKeyAuth(fsys, keyPath, cfg.KeyPassphrase); err == nil {
					methods = append(methods, m)
					break
				}
			}
		}
	}

	if cfg.Password != "" {
		methods = append(methods, PasswordAuth(cfg.Password), KeyboardInteractiveAuth(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication methods available")
	}
	return methods, nil
}

func agentAuth(fsys ports.FileSystem) (ssh.AuthMethod, error) {
	socket := fsys.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

func privateKeyAuth(fsys ports.FileSystem, keyPath, passphrase string) (ssh.AuthMethod, error) {
	keyData, err := fsys.ReadFile(expandPath(fsys, keyPath))
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

// BuildHostKeyCallback verifies host keys against known_hosts. When the
// file does not exist every key is accepted with a warning.
func BuildHostKeyCallback(knownHostsPath string, fsys ports.FileSystem) (ssh.HostKeyCallback, error) {
	if fsys == nil {
		fsys = realfs.New()
	}
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}
	expanded := expandPath(fsys, knownHostsPath)

	if _, err := fsys.Stat(expanded); err != nil {
		slog.Warn("known_hosts not found, host keys are not verified",
			slog.String("path", expanded),
		)
		return ssh.InsecureIgnoreHostKey(), nil
	}

	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

func expandPath(fsys ports.FileSystem, path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := fsys.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

// identityFileFor returns the first IdentityFile in ~/.ssh/config whose
// Host patterns match host.
func identityFileFor(fsys ports.FileSystem, host string) string {
	data, err := fsys.ReadFile(expandPath(fsys, "~/.ssh/config"))
	if err != nil {
		return ""
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	matches := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "host":
			matches = matchHostPatterns(host, fields[1:])
		case "identityfile":
			if matches {
				return expandPath(fsys, strings.Join(fields[1:], " "))
			}
		}
	}
	return ""
}

// matchHostPatterns reports whether host matches any ssh_config Host
// pattern (* and ? wildcards).
func matchHostPatterns(host string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, host); err == nil && ok {
			return true
		}
	}
	return false
}

// PasswordAuth returns a password auth method.
func PasswordAuth(password string) ssh.AuthMethod {
	return ssh.Password(password)
}

// KeyboardInteractiveAuth answers every keyboard-interactive question with
// password.
func KeyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
}
