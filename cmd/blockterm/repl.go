package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/acolita/blockterm/internal/ports"
	"github.com/acolita/blockterm/internal/session"
	"github.com/acolita/blockterm/internal/transfer"
)

const replHelp = `Lines are run as commands in the current directory.
While a command runs, lines are sent to its input.

  :predict <text>               suggestions for partially typed text
  :blocks                       list blocks
  :clear                        remove finished blocks
  :interrupt                    interrupt the running block (also Ctrl+C)
  :respond [transfer-id]        answer the pending password prompt
  :transfer up|down <src> <dst> start a background transfer
  :transfers                    list transfers
  :cancel <transfer-id>         cancel a transfer
  :help                         this text
  :quit                         exit
`

var errQuit = errors.New("quit")

// syncWriter serializes writes from the event printer and the command loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.w, format, args...)
}

type repl struct {
	sess     *session.Session
	out      *syncWriter
	prompter ports.SecretPrompter
}

func newREPL(sess *session.Session, out io.Writer, prompter ports.SecretPrompter) *repl {
	return &repl{sess: sess, out: &syncWriter{w: out}, prompter: prompter}
}

// run reads lines from in until EOF, :quit or ctx is done.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	events, unsubscribe := r.sess.Subscribe(0)
	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		for ev := range events {
			r.printEvent(ev)
		}
	}()
	defer func() {
		unsubscribe()
		<-printerDone
	}()

	// Reading stays on this goroutine so a password form can own stdin
	// while :respond runs. Closing in unblocks the scanner on shutdown.
	done := make(chan struct{})
	defer close(done)
	if c, ok := in.(io.Closer); ok {
		go func() {
			select {
			case <-ctx.Done():
				c.Close()
			case <-done:
			}
		}()
	}

	r.out.Printf("blockterm %s - :help for commands\n", Version)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.handle(ctx, scanner.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			r.out.Printf("error: %v\n", err)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

// handle runs one input line.
func (r *repl) handle(ctx context.Context, line string) error {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, ":") {
		if trimmed == "" {
			return nil
		}
		_, err := r.sess.Dispatch(line)
		return err
	}

	name, rest, _ := strings.Cut(trimmed[1:], " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch name {
	case "quit", "q", "exit":
		return errQuit
	case "help", "h", "?":
		r.out.Printf("%s", replHelp)
	case "predict", "p":
		r.printPrediction(ctx, rest)
	case "blocks", "b":
		r.printBlocks()
	case "clear":
		r.out.Printf("removed %d blocks\n", r.sess.ClearBlocks())
	case "interrupt", "i":
		return r.sess.Interrupt()
	case "respond":
		return r.respond(ctx, args)
	case "transfer", "t":
		return r.startTransfer(args)
	case "transfers":
		r.printTransfers()
	case "cancel":
		if len(args) != 1 {
			return errors.New("usage: :cancel <transfer-id>")
		}
		return r.sess.CancelTransfer(args[0])
	default:
		return fmt.Errorf("unknown command :%s (try :help)", name)
	}
	return nil
}

func (r *repl) printPrediction(ctx context.Context, text string) {
	res := r.sess.Predict(ctx, text)
	if len(res.Suggestions) == 0 {
		r.out.Printf("no suggestions\n")
		return
	}
	for i, s := range res.Suggestions {
		marker := " "
		if i == 0 && res.Ghost != "" {
			marker = ">"
		}
		r.out.Printf("%s %-40s %s\n", marker, s.Command, s.Reason)
	}
}

func (r *repl) printBlocks() {
	blocks := r.sess.Blocks()
	if len(blocks) == 0 {
		r.out.Printf("no blocks\n")
		return
	}
	for _, b := range blocks {
		r.out.Printf("%s  %-8s %-4s %s\n", b.ID, b.Status, exitText(b.ExitCode), b.Command)
	}
}

func (r *repl) printTransfers() {
	list := r.sess.Transfers()
	if len(list) == 0 {
		r.out.Printf("no transfers\n")
		return
	}
	for _, t := range list {
		r.out.Printf("%s  %-8s %3.0f%%  %s -> %s\n", t.ID, t.Status, t.Progress*100, t.Source, t.Dest)
	}
}

func (r *repl) startTransfer(args []string) error {
	if len(args) != 3 {
		return errors.New("usage: :transfer up|down <src> <dst>")
	}
	var dir transfer.Direction
	switch args[0] {
	case "up", "upload":
		dir = transfer.Upload
	case "down", "download":
		dir = transfer.Download
	default:
		return fmt.Errorf("unknown direction %q, want up or down", args[0])
	}
	t, err := r.sess.StartTransfer(dir, args[1], args[2])
	if err != nil {
		return err
	}
	r.out.Printf("transfer %s started: %s\n", t.ID, t.Command)
	return nil
}

// respond asks for a secret and hands it to the pending block prompt, or to
// the named transfer.
func (r *repl) respond(ctx context.Context, args []string) error {
	title := "Password"
	desc := ""
	if len(args) == 1 {
		t, err := r.sess.Transfer(args[0])
		if err != nil {
			return err
		}
		if t.Prompt != "" {
			desc = t.Prompt
		}
		title = "Password for transfer " + t.ID
	} else {
		req, ok := r.sess.Pending()
		if !ok {
			return session.ErrNoPendingRequest
		}
		desc = req.Prompt
		if req.Target != "" {
			title = "Password for " + req.Target
		}
	}

	secret, err := r.prompter.PromptSecret(ctx, title, desc)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	b := []byte(secret)
	if len(args) == 1 {
		return r.sess.RespondTransfer(args[0], b)
	}
	return r.sess.RespondToPrompt(b)
}

func (r *repl) printEvent(ev session.Event) {
	switch ev.Type {
	case session.EventBlockStarted:
		if ev.Block != nil {
			r.out.Printf("$ %s\n", ev.Block.Command)
		}
	case session.EventBlockOutput:
		for _, l := range ev.Lines {
			r.out.Printf("%s\n", l.Text)
		}
	case session.EventBlockFinished:
		if ev.Block == nil {
			return
		}
		r.out.Printf("[%s exit %s in %s]\n", ev.Block.Status, exitText(ev.Block.ExitCode), ev.Block.Duration().Round(time.Millisecond))
		for _, h := range ev.Block.Hints {
			r.out.Printf("hint: %s\n", h)
		}
	case session.EventPromptDetected:
		if ev.Prompt == nil {
			return
		}
		if _, pending := r.sess.Pending(); pending {
			r.out.Printf("%s (type :respond to answer)\n", ev.Prompt.Prompt)
		} else {
			r.out.Printf("prompt: %s\n", ev.Prompt.Prompt)
		}
	case session.EventCredentialInjected:
		r.out.Printf("(stored credential sent for %s)\n", ev.Target)
	case session.EventTransferUpdated:
		if t := ev.Transfer; t != nil {
			switch {
			case t.Prompt != "" && t.Status == transfer.StatusRunning:
				r.out.Printf("transfer %s: %s (type :respond %s)\n", t.ID, t.Prompt, t.ID)
			case t.Status != transfer.StatusRunning:
				r.out.Printf("transfer %s %s%s\n", t.ID, t.Status, transferDetail(*t))
			}
		}
	}
}

func transferDetail(t transfer.Transfer) string {
	switch {
	case t.Hint != "":
		return ": " + t.Hint
	case t.Error != "":
		return ": " + t.Error
	}
	return ""
}

func exitText(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprint(*code)
}
