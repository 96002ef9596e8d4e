// Package inject answers credential prompts from the credential store, at
// most once per logical connection.
package inject

import (
	"net"
	"path/filepath"
	"strconv"
	"strings"
)

// LocalHost is the host used for local privilege prompts (sudo, su).
const LocalHost = "localhost"

// Target is the account a command authenticates against.
type Target struct {
	User string
	Host string
	Port int // 0 when not given
}

func (t Target) String() string {
	s := t.User + "@" + t.Host
	if t.Port != 0 {
		s += ":" + strconv.Itoa(t.Port)
	}
	return s
}

// flagsWithArg lists, per program, the short and long options that consume
// the following token.
var flagsWithArg = map[string]map[string]bool{
	"ssh": set("-b", "-c", "-D", "-E", "-e", "-F", "-I", "-i", "-J", "-L", "-l",
		"-m", "-O", "-o", "-p", "-Q", "-R", "-S", "-W", "-w"),
	"scp":   set("-c", "-D", "-F", "-i", "-J", "-l", "-o", "-P", "-S", "-X"),
	"sftp":  set("-B", "-b", "-c", "-D", "-F", "-i", "-J", "-l", "-o", "-P", "-R", "-S", "-s", "-X"),
	"rsync": set("-e", "--rsh", "--port", "-f", "--filter", "--exclude", "--include", "--exclude-from", "--include-from", "-T", "--temp-dir", "--password-file", "-B", "--block-size"),
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}

// ParseTarget finds the user@host[:port] a command will prompt for.
// defaultUser fills in a missing user. Local privilege escalation targets
// LocalHost. ok is false for commands with no recognizable target.
func ParseTarget(command, defaultUser string) (Target, bool) {
	args := SplitArgs(command)
	if len(args) == 0 {
		return Target{}, false
	}

	prog := filepath.Base(args[0])
	switch prog {
	case "sudo":
		// sudo asks for the invoking user's password, even with -u.
		return Target{User: defaultUser, Host: LocalHost}, defaultUser != ""
	case "su":
		user := "root"
		for _, a := range args[1:] {
			if !strings.HasPrefix(a, "-") {
				user = a
				break
			}
		}
		return Target{User: user, Host: LocalHost}, true
	case "ssh", "scp", "sftp", "rsync":
	default:
		return Target{}, false
	}

	withArg := flagsWithArg[prog]
	var t Target
	var loginUser string

	for i := 1; i < len(args); i++ {
		a := args[i]

		if prog == "ssh" && t.Host != "" {
			// Everything after the destination is the remote command.
			break
		}
		if strings.HasPrefix(a, "-") && len(a) > 1 {
			name, value, hasValue := strings.Cut(a, "=")
			if !hasValue && !strings.HasPrefix(a, "--") && len(a) > 2 && withArg[a[:2]] {
				// Attached short option value, e.g. -p2222.
				name, value, hasValue = a[:2], a[2:], true
			}
			if !hasValue && withArg[a] && i+1 < len(args) {
				value = args[i+1]
				i++
			}
			switch {
			case prog == "ssh" && name == "-l", prog == "sftp" && name == "-l":
				loginUser = value
			case prog == "ssh" && name == "-p",
				(prog == "scp" || prog == "sftp") && name == "-P",
				prog == "rsync" && name == "--port":
				if p, err := strconv.Atoi(value); err == nil {
					t.Port = p
				}
			case prog == "rsync" && (name == "-e" || name == "--rsh"):
				if p := portFromRsh(value); p != 0 && t.Port == 0 {
					t.Port = p
				}
			}
			continue
		}

		if t.Host != "" {
			continue
		}
		if host, user, port, ok := parseOperand(prog, a); ok {
			t.Host, t.User = host, user
			if port != 0 {
				t.Port = port
			}
		}
	}

	if t.Host == "" {
		return Target{}, false
	}
	if t.User == "" {
		t.User = loginUser
	}
	if t.User == "" {
		t.User = defaultUser
	}
	return t, true
}

// parseOperand reads one non-flag argument. ssh and sftp take a bare
// destination; scp and rsync only treat host:path operands as remote.
func parseOperand(prog, arg string) (host, user string, port int, ok bool) {
	if rest, found := strings.CutPrefix(arg, "ssh://"); found {
		arg = rest
		prog = "ssh"
	} else if rest, found := strings.CutPrefix(arg, "sftp://"); found {
		arg = rest
		prog = "sftp"
	}

	if at := strings.LastIndex(arg, "@"); at >= 0 {
		user = arg[:at]
		arg = arg[at+1:]
	}

	var suffix string
	hasColon := false
	if strings.HasPrefix(arg, "[") {
		end := strings.Index(arg, "]")
		if end < 0 {
			return "", "", 0, false
		}
		host = arg[1:end]
		suffix, hasColon = strings.CutPrefix(arg[end+1:], ":")
	} else if net.ParseIP(arg) != nil {
		host = arg
	} else {
		host, suffix, hasColon = strings.Cut(arg, ":")
	}

	switch prog {
	case "scp", "rsync":
		// "rsync host::module" uses the daemon protocol; still the same host.
		if !hasColon {
			return "", "", 0, false
		}
	default:
		suffix = strings.TrimSuffix(strings.SplitN(suffix, "/", 2)[0], "/")
		if p, err := strconv.Atoi(suffix); err == nil {
			port = p
		}
	}

	if host == "" {
		return "", "", 0, false
	}
	return host, user, port, true
}

// portFromRsh extracts -p from an rsync remote shell such as "ssh -p 2222".
func portFromRsh(rsh string) int {
	fields := strings.Fields(rsh)
	for i, f := range fields {
		if f == "-p" && i+1 < len(fields) {
			if p, err := strconv.Atoi(fields[i+1]); err == nil {
				return p
			}
		}
		if v, ok := strings.CutPrefix(f, "-p"); ok && v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				return p
			}
		}
	}
	return 0
}

// SplitArgs splits a command line on whitespace, honoring single quotes,
// double quotes and backslash escapes.
func SplitArgs(command string) []string {
	var (
		args    []string
		cur     strings.Builder
		inArg   bool
		quote   rune
		escaped bool
	)
	for _, r := range command {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inArg = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inArg = true
		case r == ' ' || r == '\t' || r == '\n':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args
}

// IsPinned reports whether a command carries its own credential, so stored
// ones must not be injected. This is a loose heuristic kept for
// compatibility: any command containing "-" that targets redis counts.
func IsPinned(command string) bool {
	lower := strings.ToLower(command)
	return strings.Contains(lower, "-") && strings.Contains(lower, "redis")
}
