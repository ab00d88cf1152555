// Package console provides a small interactive shell running as a scheduler
// task. A reader goroutine feeds complete lines into a channel; the console
// task drains whatever is available without ever blocking the loop, so the
// shell rides on the same cooperative scheduler it inspects.
package console

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/muloop/pkg/sched"
)

// Originator labels bus publications issued from the shell.
const Originator = "console"

const pollInterval = 60 * time.Millisecond

// Command is an extension command. args is the remainder of the input line
// after the command word.
type Command func(out io.Writer, args string)

// Console is a line-oriented shell bound to a scheduler engine.
type Console struct {
	name   string
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	eng      *sched.Engine
	taskID   int
	lines    chan string
	commands map[string]Command
	names    []string
	spies    map[string]int // pattern to subscription handle
	start    time.Time
}

// New creates a console reading commands from in and printing to out.
func New(name string, in io.Reader, out io.Writer, logger *slog.Logger) *Console {
	return &Console{
		name:     name,
		in:       in,
		out:      out,
		logger:   logger.With("component", "console"),
		commands: map[string]Command{},
		spies:    map[string]int{},
	}
}

// Extend registers an additional command under the given word. Extensions
// run on the engine goroutine like every other task callback.
func (c *Console) Extend(name string, fn Command) {
	if _, exists := c.commands[name]; !exists {
		c.names = append(c.names, name)
		sort.Strings(c.names)
	}
	c.commands[name] = fn
}

// Begin starts the reader goroutine and registers the console task.
func (c *Console) Begin(e *sched.Engine) {
	c.eng = e
	c.start = time.Now()
	c.lines = make(chan string, 8)
	go c.readLoop()
	c.taskID = e.Add(c.poll, "console", pollInterval, sched.PrioLow)
	fmt.Fprintf(c.out, "%s> ", c.name)
}

func (c *Console) readLoop() {
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		c.lines <- sc.Text()
	}
	close(c.lines)
}

// poll drains all complete lines without blocking. Once the input reaches
// EOF the console task suspends itself.
func (c *Console) poll() {
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				c.eng.Reschedule(c.taskID, 0, sched.PrioLow)
				return
			}
			c.execute(line)
			fmt.Fprintf(c.out, "%s> ", c.name)
		default:
			return
		}
	}
}

func (c *Console) execute(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	cmd, args, _ := strings.Cut(line, " ")
	args = strings.TrimSpace(args)

	switch cmd {
	case "help":
		c.cmdHelp()
	case "ps":
		c.cmdPS()
	case "pub":
		c.cmdPub(args)
	case "spy":
		c.cmdSpy(args)
	case "stat":
		c.cmdStat(args)
	case "uptime":
		c.cmdUptime()
	case "info":
		c.cmdInfo()
	case "date":
		fmt.Fprintln(c.out, time.Now().Format(time.RFC1123))
	default:
		if fn, ok := c.commands[cmd]; ok {
			fn(c.out, args)
			return
		}
		fmt.Fprintf(c.out, "unknown command %q, try help\n", cmd)
	}
}

func (c *Console) cmdHelp() {
	fmt.Fprintln(c.out, "commands:")
	fmt.Fprintln(c.out, "  help                 show this help")
	fmt.Fprintln(c.out, "  ps                   list scheduler tasks")
	fmt.Fprintln(c.out, "  pub <topic> [msg]    publish a message")
	fmt.Fprintln(c.out, "  spy <pattern>|off    print matching messages, off clears")
	fmt.Fprintln(c.out, "  stat <ms>|off        set stats publishing interval")
	fmt.Fprintln(c.out, "  uptime               scheduler uptime")
	fmt.Fprintln(c.out, "  info                 runtime information")
	fmt.Fprintln(c.out, "  date                 current date and time")
	for _, name := range c.names {
		fmt.Fprintf(c.out, "  %s\n", name)
	}
}

func (c *Console) cmdPS() {
	tw := tabwriter.NewWriter(c.out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRIO\tINTERVAL\tCALLS\tCPU\tLATE")
	for _, t := range c.eng.Tasks() {
		name := t.Name
		if name == "" {
			name = "<null>"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, name, t.Priority, t.Interval,
			humanize.Comma(int64(t.CallCount)), t.CPUTime, t.LateTime)
	}
	tw.Flush()
}

func (c *Console) cmdPub(args string) {
	if args == "" {
		fmt.Fprintln(c.out, "usage: pub <topic> [msg]")
		return
	}
	topic, msg, _ := strings.Cut(args, " ")
	if !c.eng.PublishFrom(topic, msg, Originator) {
		fmt.Fprintln(c.out, "queue full, message dropped")
	}
}

func (c *Console) cmdSpy(args string) {
	switch args {
	case "":
		fmt.Fprintln(c.out, "usage: spy <pattern>|off")
	case "off":
		for pattern, handle := range c.spies {
			c.eng.Unsubscribe(handle)
			delete(c.spies, pattern)
		}
		fmt.Fprintln(c.out, "all spies removed")
	default:
		if handle, ok := c.spies[args]; ok {
			c.eng.Unsubscribe(handle)
			delete(c.spies, args)
			fmt.Fprintf(c.out, "spy on %s removed\n", args)
			return
		}
		pattern := args
		c.spies[pattern] = c.eng.Subscribe(c.taskID, pattern, func(topic, msg, originator string) {
			if originator == "" {
				originator = "-"
			}
			fmt.Fprintf(c.out, "[%s] %s %s\n", originator, topic, msg)
		}, "")
	}
}

func (c *Console) cmdStat(args string) {
	switch args {
	case "":
		fmt.Fprintln(c.out, "usage: stat <ms>|off")
	case "off":
		c.eng.Publish(sched.StatControlTopic, "0")
	default:
		c.eng.Publish(sched.StatControlTopic, args)
	}
}

func (c *Console) cmdUptime() {
	up := c.eng.Uptime()
	fmt.Fprintf(c.out, "up %s (%s seconds)\n",
		time.Duration(up)*time.Second, humanize.Comma(int64(up)))
}

func (c *Console) cmdInfo() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	fmt.Fprintf(c.out, "name:       %s\n", c.name)
	fmt.Fprintf(c.out, "go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(c.out, "goroutines: %d\n", runtime.NumGoroutine())
	fmt.Fprintf(c.out, "heap alloc: %s\n", humanize.Bytes(m.HeapAlloc))
	fmt.Fprintf(c.out, "free heap:  %s\n", humanize.Bytes(m.HeapIdle-m.HeapReleased))
	fmt.Fprintf(c.out, "tasks:      %d\n", c.eng.TaskCount())
	fmt.Fprintf(c.out, "queue:      %d\n", c.eng.QueueLen())
	fmt.Fprintf(c.out, "started:    %s\n", c.start.Format(time.RFC1123))
}
