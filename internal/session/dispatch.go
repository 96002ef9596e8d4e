package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/acolita/blockterm/internal/block"
	"github.com/acolita/blockterm/internal/inject"
	"github.com/acolita/blockterm/internal/output"
	"github.com/acolita/blockterm/internal/ports"
	"github.com/acolita/blockterm/internal/prompt"
	"github.com/acolita/blockterm/internal/pty"
	"github.com/acolita/blockterm/internal/security"
)

// run is the process behind the running block.
type run struct {
	blockID   string
	command   string
	dir       string
	remote    bool // the ssh connection that made the session remote
	wasRemote bool
	timeout   time.Duration
	started   time.Time

	// guarded by Session.mu
	proc        ports.Process
	timer       ports.Timer
	timedOut    bool
	stdout      output.LineAssembler
	stderr      output.LineAssembler
	freshPrompt bool
	lastNotice  string

	done chan struct{}
}

// Dispatch runs one line of shell text. While a block is running the line is
// written to that block's process as input instead, and the running block is
// returned. Failures to start become error blocks, not errors.
func (s *Session) Dispatch(command string) (block.Block, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return block.Block{}, ErrEmptyCommand
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return block.Block{}, ErrClosed
	}
	if r := s.active; r != nil {
		s.mu.Unlock()
		return s.sendInput(r, command)
	}

	cfg := s.cfg
	dir := s.dir
	wasRemote := s.remote
	decision := s.classifier.Classify(command)

	b := s.blocks.Create(command, dir)
	s.blockErr("start", b.ID, s.blocks.Start(b.ID))
	r := &run{
		blockID:   b.ID,
		command:   command,
		dir:       dir,
		wasRemote: wasRemote,
		timeout:   timeoutFor(cfg.Engine, command, decision.NeedsPTY),
		started:   s.clock.Now(),
		done:      make(chan struct{}),
	}
	s.active = r
	s.mu.Unlock()

	s.publishBlock(EventBlockStarted, b.ID)
	if s.recorder != nil {
		s.recorder.Marker(s.id, command)
	}
	slog.Debug("dispatch",
		slog.String("session_id", s.id),
		slog.String("block_id", b.ID),
		slog.String("command", command),
		slog.Bool("pty", decision.NeedsPTY),
	)

	if ok, reason := s.filter.IsAllowed(command); !ok {
		slog.Warn("command blocked",
			slog.String("session_id", s.id),
			slog.String("reason", reason),
		)
		s.finish(r, exitBlocked, reason, false)
		return s.blocks.Get(b.ID)
	}

	if arg, ok := builtinCD(command); ok && !wasRemote {
		code, msg := s.changeDir(arg)
		s.finish(r, code, msg, true)
		return s.blocks.Get(b.ID)
	}

	s.injector.Begin(command)

	var (
		proc ports.Process
		err  error
	)
	if decision.NeedsPTY {
		proc, err = s.engine.ExecutePTY(command, pty.ShellEnv(cfg.Shell.Path), dir)
	} else {
		proc, err = s.engine.Execute(command, nil, dir)
	}
	if err != nil {
		code := exitFailure
		var se *pty.SpawnError
		if errors.As(err, &se) {
			code = se.ExitCode()
		}
		slog.Warn("spawn failed",
			slog.String("session_id", s.id),
			slog.String("block_id", b.ID),
			slog.String("error", err.Error()),
		)
		s.finish(r, code, err.Error(), true)
		return s.blocks.Get(b.ID)
	}

	target, hasTarget := s.injector.Target()
	goesRemote := decision.Program == "ssh" && hasTarget && !wasRemote

	s.mu.Lock()
	r.proc = proc
	// Each run starts with an empty tail and directory context.
	s.pipeline.Reset()
	if r.timeout > 0 {
		r.timer = s.clock.AfterFunc(r.timeout, func() { s.expire(r) })
	}
	if goesRemote {
		r.remote = true
		s.remote = true
		s.remoteTarget = target.String()
		s.remoteItems = nil
	}
	var ctx Context
	if goesRemote {
		ctx = s.contextLocked()
	}
	s.mu.Unlock()

	if goesRemote {
		s.publish(Event{Type: EventContextChanged, Context: &ctx})
	}

	proc.OnOutput(func(c ports.Chunk) { s.onChunk(r, c) })
	go s.wait(r)

	return s.blocks.Get(b.ID)
}

// sendInput writes a line to the running block's process.
func (s *Session) sendInput(r *run, line string) (block.Block, error) {
	s.mu.Lock()
	proc := r.proc
	s.mu.Unlock()
	if proc == nil {
		return s.blocks.Get(r.blockID)
	}

	// A line typed while a credential request is pending is the answer.
	secret := s.pending.clear(r.blockID)
	if _, err := proc.Write([]byte(line + "\r")); err != nil {
		return block.Block{}, fmt.Errorf("write input: %w", err)
	}
	if s.recorder != nil {
		if secret {
			s.recorder.Mask(s.id, line)
		}
		s.recorder.Input(s.id, line+"\r", secret)
	}
	return s.blocks.Get(r.blockID)
}

// Interrupt sends SIGINT to the running block's process.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	r := s.active
	s.mu.Unlock()
	if r == nil {
		return ErrNotRunning
	}

	s.mu.Lock()
	proc := r.proc
	s.mu.Unlock()
	if proc == nil {
		return ErrNotRunning
	}
	if err := proc.Interrupt(); err != nil {
		return fmt.Errorf("interrupt block %s: %w", r.blockID, err)
	}
	return nil
}

// Wait blocks until the block ends or ctx is done, and returns its latest
// copy.
func (s *Session) Wait(ctx context.Context, blockID string) (block.Block, error) {
	s.mu.Lock()
	r := s.active
	s.mu.Unlock()

	if r != nil && r.blockID == blockID {
		select {
		case <-r.done:
		case <-ctx.Done():
			b, err := s.blocks.Get(blockID)
			if err != nil {
				return b, err
			}
			return b, ctx.Err()
		}
	}
	return s.blocks.Get(blockID)
}

// RespondToPrompt answers the pending prompt request with secret followed by
// a carriage return. secret is wiped before RespondToPrompt returns.
func (s *Session) RespondToPrompt(secret []byte) error {
	defer security.WipeBytes(secret)

	req, respond, ok := s.pending.take()
	if !ok {
		return ErrNoPendingRequest
	}
	if err := respond(secret); err != nil {
		return fmt.Errorf("answer prompt for block %s: %w", req.BlockID, err)
	}
	slog.Info("prompt answered",
		slog.String("session_id", s.id),
		slog.String("block_id", req.BlockID),
		slog.String("target", req.Target),
	)
	return nil
}

func (s *Session) onChunk(r *run, c ports.Chunk) {
	s.mu.Lock()
	if s.active != r {
		s.mu.Unlock()
		return
	}
	asm := &r.stdout
	if c.Stderr {
		asm = &r.stderr
	}
	lines := asm.Push(c.Text)
	r.freshPrompt = freshPrompt(c.Text, asm.Partial())
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.Output(s.id, c.Text)
	}

	// Prompt handling runs inside Feed, before the line reaches the block.
	s.pipeline.Feed(c.Text)

	if len(lines) == 0 {
		return
	}
	s.appendLines(r, lines, c.Stderr)
}

// freshPrompt reports whether a chunk put a credential prompt on screen, as
// opposed to a later chunk arriving while an old prompt line is still in the
// tail.
func freshPrompt(chunk, partial string) bool {
	for _, line := range strings.Split(chunk, "\n") {
		if prompt.IsCredentialPrompt(line) {
			return true
		}
	}
	return !strings.Contains(chunk, "\n") && prompt.IsCredentialPrompt(partial)
}

// blockErr logs a block update that failed, e.g. after the block was cleared.
func (s *Session) blockErr(op, blockID string, err error) {
	if err == nil {
		return
	}
	slog.Warn("block update failed",
		slog.String("session_id", s.id),
		slog.String("block_id", blockID),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}

func (s *Session) appendLines(r *run, lines []string, stderr bool) {
	out := make([]block.Line, len(lines))
	for i, l := range lines {
		out[i] = block.Line{Text: output.StripANSI(l), IsError: stderr}
	}
	if err := s.blocks.Append(r.blockID, out...); err != nil {
		s.blockErr("append", r.blockID, err)
		return
	}
	s.publish(Event{Type: EventBlockOutput, BlockID: r.blockID, Lines: out})
}

// onTail is the immediate path: it sees the trailing lines of every chunk.
func (s *Session) onTail(tail []string) {
	s.mu.Lock()
	r := s.active
	if r == nil || r.proc == nil {
		s.mu.Unlock()
		return
	}
	fresh := r.freshPrompt
	r.freshPrompt = false
	detector := s.detector
	s.mu.Unlock()

	w := &inputWriter{s: s, r: r}
	res := s.injector.Observe(tail, w)
	switch res.Outcome {
	case inject.Wrote:
		s.publish(Event{Type: EventCredentialInjected, BlockID: r.blockID, Target: res.Target.String()})
	case inject.Manual:
		if fresh {
			s.requestInput(r, res)
		}
	case inject.AlreadyInjected:
		// A new prompt after injection, e.g. sudo inside the ssh session.
		if fresh && res.Prompt != "" {
			s.requestInput(r, res)
		}
	case inject.NoPrompt:
		s.notice(r, detector.Scan(tail))
	}
}

// requestInput fills the pending slot for a credential prompt the injector
// could not answer.
func (s *Session) requestInput(r *run, res inject.Result) {
	req := PromptRequest{
		BlockID: r.blockID,
		Prompt:  strings.TrimSpace(res.Prompt),
		Reason:  res.Reason,
		Since:   s.clock.Now(),
	}
	if res.Target.Host != "" {
		req.Target = res.Target.String()
	}

	w := &inputWriter{s: s, r: r}
	err := s.pending.set(req, func(secret []byte) error {
		payload := make([]byte, 0, len(secret)+1)
		payload = append(append(payload, secret...), '\r')
		defer security.WipeBytes(payload)
		_, err := w.Write(payload)
		return err
	})
	if err != nil {
		return
	}
	slog.Info("prompt needs manual input",
		slog.String("session_id", s.id),
		slog.String("block_id", r.blockID),
		slog.String("prompt", req.Prompt),
		slog.String("reason", res.Reason),
	)
	s.publish(Event{Type: EventPromptDetected, BlockID: r.blockID, Prompt: &req})
}

// notice publishes non-credential prompts such as confirmations. They do not
// occupy the pending slot; the answer is a plain Dispatch.
func (s *Session) notice(r *run, det *prompt.Detection) {
	if det == nil || det.IsPasswordPrompt() {
		return
	}
	s.mu.Lock()
	if r.lastNotice == det.Line {
		s.mu.Unlock()
		return
	}
	r.lastNotice = det.Line
	s.mu.Unlock()

	s.publish(Event{Type: EventPromptDetected, BlockID: r.blockID, Prompt: &PromptRequest{
		BlockID: r.blockID,
		Prompt:  strings.TrimSpace(det.Line),
		Reason:  det.Hint(),
		Since:   s.clock.Now(),
	}})
}

// inputWriter writes secrets to a run's process. The recording only gets
// their length, and an echo of the secret is scrubbed from later output.
type inputWriter struct {
	s *Session
	r *run
}

func (w *inputWriter) Write(p []byte) (int, error) {
	w.s.mu.Lock()
	proc := w.r.proc
	w.s.mu.Unlock()
	if proc == nil {
		return 0, io.ErrClosedPipe
	}
	if w.s.recorder != nil {
		w.s.recorder.Mask(w.s.id, strings.TrimRight(string(p), "\r\n"))
	}
	n, err := proc.Write(p)
	if err == nil && w.s.recorder != nil {
		w.s.recorder.Input(w.s.id, string(p), true)
	}
	return n, err
}

func (s *Session) wait(r *run) {
	code, err := r.proc.Wait()
	if err != nil {
		slog.Warn("wait failed",
			slog.String("session_id", s.id),
			slog.String("block_id", r.blockID),
			slog.String("error", err.Error()),
		)
	}
	s.finish(r, code, "", true)
}

// expire terminates a run that outlived its timeout.
func (s *Session) expire(r *run) {
	s.mu.Lock()
	if s.active != r || r.proc == nil {
		s.mu.Unlock()
		return
	}
	r.timedOut = true
	proc := r.proc
	s.mu.Unlock()

	slog.Warn("command timed out",
		slog.String("session_id", s.id),
		slog.String("block_id", r.blockID),
		slog.Duration("timeout", r.timeout),
	)
	if err := proc.Terminate(); err != nil {
		slog.Debug("terminate failed", slog.String("error", err.Error()))
	}
}

// finish ends a run's block. message, when set, becomes a synthetic error
// line. record controls whether the command goes to history.
func (s *Session) finish(r *run, code int, message string, record bool) {
	s.mu.Lock()
	if s.active != r {
		s.mu.Unlock()
		return
	}
	s.active = nil
	if r.timer != nil {
		r.timer.Stop()
	}

	var tail []block.Line
	if line, ok := r.stdout.Flush(); ok {
		tail = append(tail, block.Line{Text: output.StripANSI(line)})
	}
	if line, ok := r.stderr.Flush(); ok {
		tail = append(tail, block.Line{Text: output.StripANSI(line), IsError: true})
	}
	if len(tail) > 0 {
		s.blockErr("append", r.blockID, s.blocks.Append(r.blockID, tail...))
	}

	if r.timedOut {
		code = exitTimeout
		message = fmt.Sprintf("command timed out after %s", r.timeout)
	}
	if message != "" {
		s.blockErr("fail", r.blockID, s.blocks.Fail(r.blockID, message, code))
	} else {
		s.blockErr("finalize", r.blockID, s.blocks.Finalize(r.blockID, code))
	}

	var endedRemote *Context
	if r.remote {
		s.remote = false
		s.remoteTarget = ""
		s.remoteItems = nil
		s.pipeline.Reset()
		ctx := s.contextLocked()
		endedRemote = &ctx
	}
	s.mu.Unlock()

	if r.proc != nil {
		s.injector.Finish(code)
	}
	s.pending.clear(r.blockID)

	b, err := s.blocks.Get(r.blockID)
	if err == nil && code != 0 {
		texts := make([]string, len(b.Output))
		for i, l := range b.Output {
			texts[i] = l.Text
		}
		if hints := s.analyzer.Lines(r.command, texts, code); len(hints) > 0 {
			s.blockErr("set hints", r.blockID, s.blocks.SetHints(r.blockID, hints))
		}
	}

	if record {
		s.addHistory(r, code)
	}

	slog.Info("block finished",
		slog.String("session_id", s.id),
		slog.String("block_id", r.blockID),
		slog.Int("exit_code", code),
	)

	if endedRemote != nil {
		s.publish(Event{Type: EventContextChanged, Context: endedRemote})
	}
	s.publishBlock(EventBlockFinished, r.blockID)
	close(r.done)
}

func (s *Session) addHistory(r *run, code int) {
	rec := ports.CommandRecord{
		Command:   r.command,
		ExitCode:  code,
		Dir:       r.dir,
		Remote:    r.wasRemote,
		StartedAt: r.started,
		Duration:  s.clock.Now().Sub(r.started),
	}
	if err := s.history.AddCommand(context.Background(), rec); err != nil {
		slog.Warn("add history failed",
			slog.String("session_id", s.id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Session) publishBlock(t EventType, id string) {
	b, err := s.blocks.Get(id)
	if err != nil {
		return
	}
	s.publish(Event{Type: t, BlockID: id, Block: &b})
}

// builtinCD recognizes a bare "cd [dir]" with no other shell syntax.
func builtinCD(command string) (string, bool) {
	fields := strings.Fields(command)
	if len(fields) == 0 || fields[0] != "cd" || len(fields) > 2 {
		return "", false
	}
	if strings.ContainsAny(command, ";&|<>`$(){}*?\"'\\") {
		return "", false
	}
	if len(fields) == 1 {
		return "", true
	}
	return fields[1], true
}

// changeDir moves the session's working directory. It returns the block's
// exit code and, on failure, its error line.
func (s *Session) changeDir(arg string) (int, string) {
	s.mu.Lock()
	cur, prev := s.dir, s.prevDir
	s.mu.Unlock()

	target, err := s.resolveDir(arg, cur, prev)
	if err != nil {
		return exitFailure, "cd: " + err.Error()
	}
	info, err := s.fs.Stat(target)
	if err != nil {
		return exitFailure, fmt.Sprintf("cd: %s: No such file or directory", arg)
	}
	if !info.IsDir() {
		return exitFailure, fmt.Sprintf("cd: %s: Not a directory", arg)
	}

	items := s.listDir(target)
	s.mu.Lock()
	s.prevDir = s.dir
	s.dir = target
	s.localItems = items
	ctx := s.contextLocked()
	s.mu.Unlock()

	s.publish(Event{Type: EventContextChanged, Context: &ctx})
	return 0, ""
}

func (s *Session) resolveDir(arg, cur, prev string) (string, error) {
	switch {
	case arg == "-":
		if prev == "" {
			return "", errors.New("OLDPWD not set")
		}
		return prev, nil
	case arg == "" || arg == "~" || strings.HasPrefix(arg, "~/"):
		home, err := s.fs.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(arg, "~"), "/")), nil
	case filepath.IsAbs(arg):
		return filepath.Clean(arg), nil
	default:
		return filepath.Join(cur, arg), nil
	}
}
