package inject

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/acolita/blockterm/internal/ports"
	"github.com/acolita/blockterm/internal/prompt"
	"github.com/acolita/blockterm/internal/security"
)

// State is the injection state of one logical session.
type State int

const (
	NotYetPrompted State = iota
	Injected
)

func (s State) String() string {
	if s == Injected {
		return "injected"
	}
	return "not_yet_prompted"
}

// Outcome says what Observe did with a chunk.
type Outcome int

const (
	// NoPrompt means no credential prompt was found.
	NoPrompt Outcome = iota
	// Wrote means the stored secret was written to the process.
	Wrote
	// AlreadyInjected means the prompt was seen again after injection.
	AlreadyInjected
	// Manual means the prompt must be answered by the user.
	Manual
)

func (o Outcome) String() string {
	switch o {
	case Wrote:
		return "injected"
	case AlreadyInjected:
		return "already_injected"
	case Manual:
		return "manual"
	default:
		return "no_prompt"
	}
}

// Result describes one Observe call.
type Result struct {
	Outcome Outcome
	Target  Target
	Prompt  string // the prompt line, when one was found
	Reason  string // why a prompt was left for manual entry
}

const deniedMarker = "permission denied"

// Injector is the prompt/inject state machine for one logical session:
// the main terminal or a single background transfer. Never share one
// between connections.
type Injector struct {
	store       ports.CredentialStore
	limiter     *security.AuthRateLimiter
	defaultUser string

	mu        sync.Mutex
	state     State
	target    Target
	hasTarget bool
	pinned    bool
	rejected  bool
}

// New creates an injector. limiter may be nil.
func New(store ports.CredentialStore, limiter *security.AuthRateLimiter, defaultUser string) *Injector {
	return &Injector{store: store, limiter: limiter, defaultUser: defaultUser}
}

// Begin starts a new logical connection for command, resetting the state.
func (in *Injector) Begin(command string) {
	target, ok := ParseTarget(command, in.defaultUser)

	in.mu.Lock()
	defer in.mu.Unlock()
	in.state = NotYetPrompted
	in.target = target
	in.hasTarget = ok
	in.pinned = IsPinned(command)
	in.rejected = false
}

// State returns the current injection state.
func (in *Injector) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Target returns the parsed target of the current connection.
func (in *Injector) Target() (Target, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.target, in.hasTarget
}

// Observe inspects the trailing output lines and answers a credential prompt
// from the store at most once per Begin. The secret is written to w followed
// by a carriage return.
func (in *Injector) Observe(tail []string, w io.Writer) Result {
	promptAt, deniedAt := -1, -1
	for i, line := range tail {
		if prompt.IsCredentialPrompt(line) {
			promptAt = i
		}
		if strings.Contains(strings.ToLower(line), deniedMarker) {
			deniedAt = i
		}
	}

	in.mu.Lock()

	if in.state == Injected {
		res := Result{Outcome: AlreadyInjected, Target: in.target}
		if deniedAt > promptAt && !in.rejected {
			in.rejected = true
			if in.limiter != nil && in.hasTarget {
				in.limiter.RecordFailure(in.target.Host, in.target.User)
			}
			slog.Warn("injected credential rejected",
				slog.String("host", in.target.Host),
				slog.String("user", in.target.User),
			)
		}
		if promptAt >= 0 && promptAt > deniedAt {
			res.Prompt = tail[promptAt]
			res.Reason = "prompt reappeared after injection"
			if in.rejected {
				res.Outcome = Manual
				res.Reason = "stored credential was rejected"
			}
		}
		in.mu.Unlock()
		return res
	}

	if promptAt < 0 {
		in.mu.Unlock()
		return Result{Outcome: NoPrompt}
	}

	res := Result{Outcome: Manual, Target: in.target, Prompt: tail[promptAt]}
	secret, reason := in.resolveLocked()
	if secret == nil {
		in.mu.Unlock()
		res.Reason = reason
		return res
	}

	// Flip the state before writing so a re-entrant or duplicate prompt
	// can never cause a second write.
	in.state = Injected
	target := in.target
	in.mu.Unlock()

	payload := append(secret, '\r')
	_, err := w.Write(payload)
	security.WipeBytes(payload)

	if err != nil {
		slog.Warn("credential injection write failed",
			slog.String("host", target.Host),
			slog.String("user", target.User),
			slog.String("error", err.Error()),
		)
		res.Reason = fmt.Sprintf("write failed: %v", err)
		return res
	}

	slog.Info("injected stored credential",
		slog.String("host", target.Host),
		slog.String("user", target.User),
		slog.Int("bytes", len(payload)-1),
	)
	res.Outcome = Wrote
	return res
}

// resolveLocked finds the secret to inject, or explains why there is none.
func (in *Injector) resolveLocked() ([]byte, string) {
	if in.pinned {
		return nil, "command carries its own credential"
	}
	if !in.hasTarget {
		return nil, "no user@host target in command"
	}
	if in.limiter != nil {
		if locked, remaining := in.limiter.IsLocked(in.target.Host, in.target.User); locked {
			return nil, fmt.Sprintf("automatic login locked for %s", remaining.Round(1e9))
		}
	}
	if in.store == nil {
		return nil, "no credential store"
	}
	secret, ok := in.store.Lookup(in.target.Host, in.target.User)
	if !ok || len(secret) == 0 {
		return nil, "no stored credential for " + in.target.String()
	}
	// Leave room for the carriage return so the payload reuses the buffer.
	buf := make([]byte, len(secret), len(secret)+1)
	copy(buf, secret)
	security.WipeBytes(secret)
	return buf, ""
}

// Finish reports the connection's exit code so a successful login clears
// earlier failures.
func (in *Injector) Finish(exitCode int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.limiter == nil || !in.hasTarget || in.state != Injected {
		return
	}
	if exitCode == 0 && !in.rejected {
		in.limiter.RecordSuccess(in.target.Host, in.target.User)
	}
}
