package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/adshub/adshub-go/pkg/bindings"
	"github.com/adshub/adshub-go/pkg/codec"
	"github.com/adshub/adshub-go/pkg/config"
	"github.com/adshub/adshub-go/pkg/hub"
	"github.com/adshub/adshub-go/pkg/subscription"
)

func newShellCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "adshub> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()

			logger, err := g.logger(rl.Stderr())
			if err != nil {
				return err
			}
			s, err := g.openSession(logger, nil)
			if err != nil {
				return err
			}
			defer s.close()

			c := newConsole(s, rl.Stdout())
			if _, err := c.set.Apply(cmd.Context(), s.config); err != nil {
				fmt.Fprintf(c.out, "Warning: %v\n", err)
			}
			if err := s.hub.Connect(cmd.Context()); err != nil {
				fmt.Fprintf(c.out, "Connect failed, retrying in the background: %v\n", err)
			}
			c.run(cmd.Context(), rl)
			return nil
		},
	}
}

// console executes shell commands against one session.
type console struct {
	hub     *hub.Hub
	session *session
	set     *bindings.Set
	out     io.Writer
	watch   atomic.Bool
}

func newConsole(s *session, out io.Writer) *console {
	c := &console{hub: s.hub, session: s, out: out}
	c.set = bindings.NewSet(bindings.SetConfig{
		Hub:      s.hub,
		OnUpdate: c.printUpdate,
	})
	return c
}

func (c *console) run(ctx context.Context, rl *readline.Instance) {
	c.printHelp()
	for {
		if ctx.Err() != nil {
			return
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			fmt.Fprintln(c.out, "Exiting...")
			return
		}
		if quit := c.exec(ctx, line); quit {
			return
		}
	}
}

// exec runs one command line. It reports whether the shell should exit.
func (c *console) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "state", "s":
		c.cmdState()
	case "diag":
		err = c.cmdDiag(args)
	case "read", "r":
		err = c.cmdRead(ctx, args)
	case "write", "w":
		err = c.cmdWrite(ctx, args)
	case "vars", "v":
		c.cmdVars()
	case "get":
		err = c.cmdGet(args)
	case "set":
		err = c.cmdSet(ctx, args)
	case "watch":
		err = c.cmdWatch(args)
	case "connect":
		err = c.hub.Connect(ctx)
	case "disconnect":
		c.hub.Disconnect()
	case "reconnect":
		err = c.hub.ForceReconnect()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `
adshub Commands:
  Session:
    state                      - Show connection state and health
    diag [redacted]            - Print diagnostics as JSON
    connect                    - Connect (after disconnect)
    disconnect                 - Close the session without retrying
    reconnect                  - Drop the session and reconnect now

  Values:
    read <addr> <type>         - Read a variable
    write <addr> <type> <val>  - Write a variable
    vars                       - List configured variables
    get <name>                 - Show the last value of a variable
    set <name> <val>           - Write a configured variable
    watch on|off               - Print updates as they arrive

  Other:
    help                       - Show this help
    quit                       - Exit`)
}

func (c *console) cmdState() {
	h := c.hub.Health()
	fmt.Fprintf(c.out, "State:      %s\n", c.hub.State())
	fmt.Fprintf(c.out, "Endpoint:   %s\n", c.hub.Endpoint())
	fmt.Fprintf(c.out, "Failures:   %d (operations %d, timeouts %d)\n",
		h.ConsecutiveFailures, h.OperationFailures, h.ConsecutiveTimeouts)
	fmt.Fprintf(c.out, "Backoff:    %s\n", h.CurrentBackoff)
	fmt.Fprintf(c.out, "Reconnects: %d\n", h.Reconnects)
	if !h.LastSuccessAt.IsZero() {
		fmt.Fprintf(c.out, "Last OK:    %s\n", h.LastSuccessAt.Format(time.RFC3339))
	}
	if h.LastError != "" {
		fmt.Fprintf(c.out, "Last error: %s\n", h.LastError)
	}
}

func (c *console) cmdDiag(args []string) error {
	d := c.hub.Diagnostics()
	if len(args) > 0 && args[0] == "redacted" {
		d = d.Redacted()
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

func (c *console) cmdRead(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: read <addr> <type>")
	}
	t, err := codec.ParseDataType(args[1])
	if err != nil {
		return err
	}
	if err := define(c.session.transport, args[0], t); err != nil {
		return err
	}
	v, err := c.hub.Read(ctx, args[0], t)
	if err != nil {
		return err
	}
	return printValue(c.out, false, readResult{Address: args[0], Type: t.String(), Value: v})
}

func (c *console) cmdWrite(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: write <addr> <type> <val>")
	}
	t, err := codec.ParseDataType(args[1])
	if err != nil {
		return err
	}
	if err := define(c.session.transport, args[0], t); err != nil {
		return err
	}
	value := strings.Join(args[2:], " ")
	if err := c.hub.Write(ctx, args[0], t, value); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s = %s\n", args[0], value)
	return nil
}

func (c *console) cmdVars() {
	bound := c.set.Bindings()
	if len(bound) == 0 {
		fmt.Fprintln(c.out, "No variables configured.")
		return
	}
	for _, b := range bound {
		v, at, err := c.hub.LastValue(b.Handle)
		status := "available"
		if !c.hub.Available(b.Handle) {
			status = "unavailable"
		}
		switch {
		case err != nil:
			fmt.Fprintf(c.out, "  %-24s %-20s %s\n", b.Variable.Name, b.Variable.Address, err)
		case at.IsZero():
			fmt.Fprintf(c.out, "  %-24s %-20s -  (%s)\n", b.Variable.Name, b.Variable.Address, status)
		default:
			fmt.Fprintf(c.out, "  %-24s %-20s %v  (%s, %s)\n", b.Variable.Name, b.Variable.Address, v, status, at.Format(time.TimeOnly))
		}
	}
}

func (c *console) cmdGet(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: get <name>")
	}
	b, err := c.set.Lookup(strings.Join(args, " "))
	if err != nil {
		return err
	}
	v, at, err := c.hub.LastValue(b.Handle)
	if err != nil {
		return err
	}
	if at.IsZero() {
		fmt.Fprintf(c.out, "%s: no value yet\n", b.Variable.Name)
		return nil
	}
	fmt.Fprintf(c.out, "%s = %v%s\n", b.Variable.Name, v, unitSuffix(b.Variable))
	return nil
}

func (c *console) cmdSet(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: set <name> <val>")
	}
	name, value := strings.Join(args[:len(args)-1], " "), args[len(args)-1]
	b, err := c.set.Lookup(name)
	if err != nil {
		return err
	}
	if err := c.hub.Write(ctx, b.Variable.Address, b.Variable.DataType(), value, b.CodecOptions()...); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s = %s%s\n", b.Variable.Name, value, unitSuffix(b.Variable))
	return nil
}

func (c *console) cmdWatch(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: watch on|off")
	}
	switch args[0] {
	case "on":
		c.watch.Store(true)
	case "off":
		c.watch.Store(false)
	default:
		return errors.New("usage: watch on|off")
	}
	return nil
}

func (c *console) printUpdate(v config.Variable, u subscription.Update) {
	if !c.watch.Load() {
		return
	}
	fmt.Fprintf(c.out, "[%s] %s = %v%s (%s)\n",
		u.Timestamp.Format(time.TimeOnly), v.Name, u.Value, unitSuffix(v), strings.ToLower(u.Source.String()))
}

func unitSuffix(v config.Variable) string {
	if v.Unit == "" {
		return ""
	}
	return " " + v.Unit
}
