package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultPrompt is shown before each line.
const DefaultPrompt = "dtnmesh> "

// Executor runs one command line.
type Executor func(ctx context.Context, args []string) error

// REPL represents the Read-Eval-Print Loop.
type REPL struct {
	prompt    string
	input     io.Reader
	output    io.Writer
	exec      Executor
	completer *Completer
	history   *History
}

// Option configures a REPL.
type Option func(*REPL)

// WithIO sets the input and output streams.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(r *REPL) {
		r.input = in
		r.output = out
	}
}

// WithPrompt sets the prompt.
func WithPrompt(p string) Option {
	return func(r *REPL) { r.prompt = p }
}

// WithHistory records lines in h.
func WithHistory(h *History) Option {
	return func(r *REPL) { r.history = h }
}

// New creates a REPL that runs lines with exec.
func New(exec Executor, completer *Completer, opts ...Option) *REPL {
	r := &REPL{
		prompt:    DefaultPrompt,
		input:     os.Stdin,
		output:    os.Stdout,
		exec:      exec,
		completer: completer,
		history:   NewHistory("", DefaultHistorySize),
	}
	if r.completer == nil {
		r.completer = NewCompleter(nil)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reads lines until EOF, exit or quit, or until ctx is done. Command
// errors are printed and the loop continues.
func (r *REPL) Run(ctx context.Context) error {
	reader := bufio.NewReader(r.input)

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.output, r.prompt)

		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := errors.Is(err, io.EOF)

		line = strings.TrimSpace(line)
		if line == "" {
			if eof {
				fmt.Fprintln(r.output)
				return nil
			}
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		if prefix, ok := strings.CutSuffix(line, "?"); ok {
			for _, s := range r.completer.Complete(strings.TrimLeft(prefix, " ")) {
				fmt.Fprintln(r.output, "  "+s)
			}
		} else {
			r.history.Add(line)
			if err := r.execute(ctx, line); err != nil {
				fmt.Fprintf(r.output, "Error: %v\n", err)
			}
		}
		if eof {
			return nil
		}
	}
}

func (r *REPL) execute(ctx context.Context, line string) error {
	if line == "history" {
		for i, e := range r.history.Entries() {
			fmt.Fprintf(r.output, "%4d  %s\n", i+1, e)
		}
		return nil
	}
	args, err := Split(line)
	if err != nil {
		return err
	}
	return r.exec(ctx, args)
}

// Split breaks line into words. Single and double quotes group words, and
// a backslash escapes the next character outside single quotes.
func Split(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, ch := range line {
		switch {
		case escaped:
			cur.WriteRune(ch)
			escaped = false
		case ch == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				cur.WriteRune(ch)
			}
		case ch == '"' || ch == '\'':
			quote = ch
			inWord = true
		case ch == ' ' || ch == '\t':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(ch)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		return nil, errors.New("trailing backslash")
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args, nil
}
