// Package cli exposes command and tool bindings on the command line, either
// as a one-shot invocation from the process arguments or as an interactive
// prompt.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/shlex"
	"github.com/mattn/go-isatty"

	"github.com/drblury/polyflow/adapter"
	"github.com/drblury/polyflow/internal/runtime/binding"
	"github.com/drblury/polyflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	"github.com/drblury/polyflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/polyflow/internal/runtime/metadata"
)

const (
	Name = "cli"

	// ValueLine holds the raw command line in the dispatch context.
	ValueLine = "cli.line"

	ExitOK      = 0
	ExitFailure = 1

	defaultPrompt = "> "
)

// State is the adapter's mode.
type State string

const (
	StateIdle        State = "idle"
	StateInteractive State = "interactive"
	StateOneShot     State = "one-shot"
	StateTerminated  State = "terminated"
)

var supportedSources = binding.Sources(
	binding.SourceArgs,
	binding.SourceBody,
	binding.SourceQuery,
	binding.SourceContext,
)

func init() {
	adapter.Register(Name, func() adapter.Adapter { return New(Options{}) })
}

// Options replaces the process streams and exit function. Zero fields use
// the os defaults.
type Options struct {
	// Args are the process arguments without the program name.
	Args   []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Exit ends the process after a one-shot invocation.
	Exit func(code int)
	// IsTerminal reports whether Stdin is an attached terminal.
	IsTerminal func() bool
}

// Adapter runs commands from the process arguments or a prompt.
type Adapter struct {
	opts Options

	service     string
	dispatcher  *dispatch.Dispatcher
	log         loggingpkg.ServiceLogger
	prompt      string
	interactive bool

	mu    sync.Mutex
	state State
}

func New(opts Options) *Adapter {
	if opts.Args == nil && len(os.Args) > 1 {
		opts.Args = os.Args[1:]
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	if opts.IsTerminal == nil {
		opts.IsTerminal = func() bool { return stdinIsTerminal(opts.Stdin) }
	}
	return &Adapter{opts: opts, state: StateIdle}
}

func stdinIsTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (a *Adapter) Name() string { return Name }

// State returns the current mode.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Adapter) Initialize(_ context.Context, env adapter.Env) error {
	if env.Dispatcher == nil {
		return errspkg.ErrDispatcherRequired
	}
	conf := env.Conf()
	a.service = env.Service
	a.dispatcher = env.Dispatcher
	a.log = env.Log(Name)
	a.interactive = env.Bool("interactive", conf.CLIInteractive)
	a.prompt = env.String("prompt", conf.CLIPrompt)
	if a.prompt == "" {
		a.prompt = defaultPrompt
	}
	return nil
}

// Listen picks the mode. Interactive needs the flag and a terminal; otherwise
// process arguments run once and exit the process; with neither the usage is
// printed and the process exits with a failure code.
func (a *Adapter) Listen(ctx context.Context) error {
	if a.dispatcher == nil {
		return errspkg.ErrAdapterNotReady
	}
	switch {
	case a.interactive && a.opts.IsTerminal():
		a.setState(StateInteractive)
		err := a.repl(ctx)
		a.setState(StateTerminated)
		return err
	case len(a.opts.Args) > 0:
		a.setState(StateOneShot)
		code := a.Run(ctx, a.opts.Args)
		a.setState(StateTerminated)
		a.opts.Exit(code)
		return nil
	default:
		a.printUsage(a.opts.Stderr)
		a.setState(StateTerminated)
		a.opts.Exit(ExitFailure)
		return nil
	}
}

func (a *Adapter) Close(context.Context) error {
	a.setState(StateTerminated)
	return nil
}

// Run executes one tokenized command line and returns its exit code.
func (a *Adapter) Run(ctx context.Context, tokens []string) int {
	inv := Parse(tokens)
	line := strings.Join(tokens, " ")

	switch {
	case inv.Command == "":
		a.printUsage(a.opts.Stderr)
		return ExitFailure
	case inv.Command == "help":
		if len(inv.Positionals) == 0 {
			a.printUsage(a.opts.Stdout)
			return ExitOK
		}
		if !a.printCommandHelp(a.opts.Stdout, inv.Positionals[0]) {
			a.unknown(inv.Positionals[0])
			return ExitFailure
		}
		return ExitOK
	}

	route, ok := a.lookup(inv.Command)
	if !ok {
		a.unknown(inv.Command)
		return ExitFailure
	}
	if inv.Help {
		a.printCommandHelp(a.opts.Stdout, inv.Command)
		return ExitOK
	}

	result, err := a.dispatcher.Invoke(ctx, route, dispatch.Request{
		Tag:       route.Tag,
		Target:    route.Target,
		Transport: Name,
		View: dispatch.RequestView{
			Body:      inv.Flags,
			Query:     inv.Query(),
			Args:      inv.Args(),
			Context:   ctx,
			Supported: supportedSources,
		},
		Metadata: metadatapkg.New(metadatapkg.KeyTransport, Name),
		Values:   map[string]any{ValueLine: line},
	})
	if err != nil {
		a.printError(err)
		return ExitFailure
	}
	a.printResult(result)
	return ExitOK
}

func (a *Adapter) repl(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.opts.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(a.opts.Stdout, a.prompt)
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "exit", "quit":
				return nil
			}
			tokens, err := shlex.Split(line)
			if err != nil {
				fmt.Fprintf(a.opts.Stderr, "Error: %v\n", err)
				continue
			}
			a.Run(ctx, tokens)
		}
	}
}

// lookup prefers command bindings over tool bindings of the same name.
func (a *Adapter) lookup(name string) (dispatch.Route, bool) {
	if r, ok := a.dispatcher.Lookup(binding.TagCommand, name); ok {
		return r, true
	}
	return a.dispatcher.Lookup(binding.TagTool, name)
}

func (a *Adapter) routes() []dispatch.Route {
	seen := map[string]bool{}
	var out []dispatch.Route
	for _, tag := range []binding.Tag{binding.TagCommand, binding.TagTool} {
		for _, r := range a.dispatcher.Routes(tag) {
			if seen[r.Target] {
				continue
			}
			seen[r.Target] = true
			out = append(out, r)
		}
	}
	return out
}

func (a *Adapter) unknown(name string) {
	fmt.Fprintf(a.opts.Stderr, "Unknown command '%s'. Run 'help' to list commands.\n", name)
}

func (a *Adapter) printError(err error) {
	if verr := adapter.AsValidation(err); verr != nil {
		fmt.Fprintln(a.opts.Stderr, "Validation failed:")
		for _, field := range verr.FieldNames() {
			for _, msg := range verr.Fields[field] {
				fmt.Fprintf(a.opts.Stderr, "  %s: %s\n", field, msg)
			}
		}
		return
	}
	fmt.Fprintf(a.opts.Stderr, "Error: %s\n", errspkg.Message(err))
	a.log.Debug("Command failed", loggingpkg.LogFields{"error": err.Error()})
}

func (a *Adapter) printResult(result any) {
	switch typed := result.(type) {
	case nil:
	case string:
		fmt.Fprintln(a.opts.Stdout, typed)
	default:
		out, err := jsoncodec.MarshalIndent(typed, "", "  ")
		if err != nil {
			fmt.Fprintf(a.opts.Stdout, "%v\n", typed)
			return
		}
		fmt.Fprintln(a.opts.Stdout, string(out))
	}
}
