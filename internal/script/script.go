// Package script runs user-defined JavaScript tasks on the scheduler using
// the goja runtime. Each script gets its own VM and is registered as one
// cooperative task: the script's global loop function becomes the task
// callback, and the host exposes publish, subscribe and log so scripts are
// first-class bus participants.
//
// Scripts run on the engine's goroutine, so they need no locking and must
// not block.
package script

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dop251/goja"

	"github.com/me/muloop/internal/config"
	"github.com/me/muloop/pkg/sched"
)

// Task is one JavaScript program bound to a scheduler task.
type Task struct {
	name     string
	interval time.Duration
	source   string
	logger   *slog.Logger

	vm      *goja.Runtime
	loopFn  goja.Callable
	eng     *sched.Engine
	taskID  int
	started bool
	pending []pendingSub
}

type pendingSub struct {
	pattern    string
	originator string
	fn         goja.Callable
}

// Load creates a script task from its configuration. The source comes
// either inline or from a file, exactly one of the two.
func Load(cfg config.ScriptConfig, logger *slog.Logger) (*Task, error) {
	src := cfg.Source
	if cfg.File != "" {
		raw, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", cfg.Name, err)
		}
		src = string(raw)
	}
	return &Task{
		name:     cfg.Name,
		interval: time.Duration(cfg.IntervalMs) * time.Millisecond,
		source:   src,
		logger:   logger.With("component", "script", "script", cfg.Name),
	}, nil
}

// Begin evaluates the script's top level and registers it on the engine.
// Top-level code runs once for setup; if the script defines a global loop
// function, it is invoked at the configured interval. Returns the task id.
func (t *Task) Begin(e *sched.Engine) (int, error) {
	t.eng = e
	t.vm = goja.New()

	if err := t.vm.Set("publish", t.jsPublish); err != nil {
		return -1, fmt.Errorf("script %s: set publish: %w", t.name, err)
	}
	if err := t.vm.Set("subscribe", t.jsSubscribe); err != nil {
		return -1, fmt.Errorf("script %s: set subscribe: %w", t.name, err)
	}
	if err := t.vm.Set("log", t.jsLog); err != nil {
		return -1, fmt.Errorf("script %s: set log: %w", t.name, err)
	}

	if _, err := t.vm.RunString(t.source); err != nil {
		return -1, fmt.Errorf("script %s: %w", t.name, err)
	}

	interval := t.interval
	if fn, ok := goja.AssertFunction(t.vm.Get("loop")); ok {
		t.loopFn = fn
	} else {
		// No loop function: the task exists only to own subscriptions.
		interval = 0
	}

	t.taskID = e.Add(t.run, t.name, interval, sched.PrioNormal)
	t.started = true
	for _, p := range t.pending {
		t.bind(p)
	}
	t.pending = nil
	return t.taskID, nil
}

// Name returns the script's configured name.
func (t *Task) Name() string { return t.name }

func (t *Task) run() {
	if _, err := t.loopFn(goja.Undefined()); err != nil {
		t.logger.Error("loop failed, suspending script", "error", err)
		t.eng.Reschedule(t.taskID, 0, sched.PrioNormal)
	}
}

func (t *Task) bind(p pendingSub) {
	fn := p.fn
	t.eng.Subscribe(t.taskID, p.pattern, func(topic, msg, originator string) {
		_, err := fn(goja.Undefined(),
			t.vm.ToValue(topic), t.vm.ToValue(msg), t.vm.ToValue(originator))
		if err != nil {
			t.logger.Warn("subscriber failed", "pattern", p.pattern, "error", err)
		}
	}, p.originator)
}

// jsPublish implements publish(topic, msg). Publications carry the script
// name as originator, so a script can filter out its own traffic.
func (t *Task) jsPublish(call goja.FunctionCall) goja.Value {
	topic := call.Argument(0).String()
	msg := call.Argument(1).String()
	if !t.eng.PublishFrom(topic, msg, t.name) {
		t.logger.Warn("publish refused, queue full", "topic", topic)
	}
	return goja.Undefined()
}

// jsSubscribe implements subscribe(pattern, fn [, originatorFilter]).
// Calls made before the task is registered are deferred until Begin has a
// task id to attach them to.
func (t *Task) jsSubscribe(call goja.FunctionCall) goja.Value {
	pattern := call.Argument(0).String()
	fn, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		panic(t.vm.NewTypeError("subscribe: second argument must be a function"))
	}
	originator := ""
	if len(call.Arguments) > 2 {
		originator = call.Argument(2).String()
	}
	p := pendingSub{pattern: pattern, originator: originator, fn: fn}
	if t.started {
		t.bind(p)
	} else {
		t.pending = append(t.pending, p)
	}
	return goja.Undefined()
}

// jsLog implements log(msg) and log(level, msg).
func (t *Task) jsLog(call goja.FunctionCall) goja.Value {
	level := "info"
	msg := call.Argument(0).String()
	if len(call.Arguments) > 1 {
		level = msg
		msg = call.Argument(1).String()
	}
	switch level {
	case "debug":
		t.logger.Debug(msg)
	case "warn":
		t.logger.Warn(msg)
	case "error":
		t.logger.Error(msg)
	default:
		t.logger.Info(msg)
	}
	return goja.Undefined()
}
