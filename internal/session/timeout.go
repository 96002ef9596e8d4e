package session

import (
	"strings"
	"time"

	"github.com/acolita/blockterm/internal/config"
)

// DefaultLongRunning lists command prefixes that get the long timeout:
// package installs, downloads and transfers.
var DefaultLongRunning = []string{
	"apt", "apt-get", "yum", "dnf", "brew",
	"pip", "pip3", "npm install", "npm ci", "yarn install",
	"scp", "rsync", "sftp", "wget", "curl",
	"docker pull", "docker build", "docker compose pull", "docker compose build",
}

// timeoutFor picks the execution limit for command. Zero means none.
func timeoutFor(cfg config.EngineConfig, command string, interactive bool) time.Duration {
	if isLongRunning(command, cfg.LongRunningPrograms) {
		return cfg.LongTimeout
	}
	if interactive {
		return cfg.InteractiveTimeout
	}
	return cfg.CommandTimeout
}

func isLongRunning(command string, extra []string) bool {
	cmd := strings.ToLower(strings.TrimSpace(command))
	cmd = strings.TrimPrefix(cmd, "sudo ")
	match := func(p string) bool {
		p = strings.ToLower(strings.TrimSpace(p))
		return p != "" && (cmd == p || strings.HasPrefix(cmd, p+" "))
	}
	for _, p := range DefaultLongRunning {
		if match(p) {
			return true
		}
	}
	for _, p := range extra {
		if match(p) {
			return true
		}
	}
	return false
}
