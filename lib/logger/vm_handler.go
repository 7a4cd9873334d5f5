package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// VMIDKey is the attribute that routes a record to a VM's log.
const VMIDKey = "vm_id"

// DefaultVMLogLines is how many lines each VM keeps.
const DefaultVMLogLines = 1000

// VMLogs keeps the most recent log lines of each tracked VM in memory.
// Only VMs registered with Track collect lines, so a "vm_id" attribute that
// does not name a live VM is ignored.
type VMLogs struct {
	mu    sync.Mutex
	max   int
	lines map[string][]string
}

// NewVMLogs creates a store keeping up to max lines per VM.
func NewVMLogs(max int) *VMLogs {
	if max <= 0 {
		max = DefaultVMLogLines
	}
	return &VMLogs{max: max, lines: make(map[string][]string)}
}

// Track starts collecting lines for id.
func (l *VMLogs) Track(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.lines[id]; !ok {
		l.lines[id] = []string{}
	}
}

// Forget drops the lines of id and stops collecting them.
func (l *VMLogs) Forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.lines, id)
}

// Tail returns up to n of the newest lines of id, oldest first. n <= 0
// returns everything kept. The bool is false when id is not tracked.
func (l *VMLogs) Tail(id string, n int) ([]string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lines, ok := l.lines[id]
	if !ok {
		return nil, false
	}
	if n > 0 && n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, len(lines))
	copy(out, lines)
	return out, true
}

func (l *VMLogs) append(id, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lines, ok := l.lines[id]
	if !ok {
		return
	}
	lines = append(lines, line)
	if len(lines) > l.max {
		lines = lines[len(lines)-l.max:]
	}
	l.lines[id] = lines
}

// VMLogHandler wraps an slog.Handler and additionally copies records that
// carry a "vm_id" attribute into that VM's log.
//
// Implementation follows the slog handler guide for shared state across
// WithAttrs/WithGroup: https://pkg.go.dev/golang.org/x/example/slog-handler-guide
type VMLogHandler struct {
	slog.Handler
	logs     *VMLogs
	preAttrs []slog.Attr // attrs added via WithAttrs (needed to find vm_id)
}

// NewVMLogHandler wraps the given handler, copying VM records into logs.
func NewVMLogHandler(wrapped slog.Handler, logs *VMLogs) *VMLogHandler {
	return &VMLogHandler{
		Handler: wrapped,
		logs:    logs,
	}
}

// Handle passes the record to the wrapped handler, then to the VM's log if
// a vm_id is bound.
func (h *VMLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}

	var vmID string
	for _, a := range h.preAttrs {
		if a.Key == VMIDKey {
			vmID = a.Value.String()
			break
		}
	}
	// Record attrs override pre-bound ones.
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == VMIDKey {
			vmID = a.Value.String()
			return false
		}
		return true
	})

	if vmID != "" {
		h.logs.append(vmID, h.format(r))
	}
	return nil
}

// format renders: timestamp LEVEL message key=value key=value...
// The vm_id itself is implicit and omitted.
func (h *VMLogHandler) format(r slog.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", r.Time.Format(time.RFC3339), r.Level, r.Message)
	write := func(a slog.Attr) {
		if a.Key != VMIDKey {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		}
	}
	for _, a := range h.preAttrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})
	return b.String()
}

// WithAttrs tracks attrs locally so vm_id is found even when bound via With().
func (h *VMLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	pre := make([]slog.Attr, len(h.preAttrs), len(h.preAttrs)+len(attrs))
	copy(pre, h.preAttrs)
	pre = append(pre, attrs...)

	return &VMLogHandler{
		Handler:  h.Handler.WithAttrs(attrs),
		logs:     h.logs,
		preAttrs: pre,
	}
}

// WithGroup returns a new handler with the given group name. VM ids are
// only looked up at the top level.
func (h *VMLogHandler) WithGroup(name string) slog.Handler {
	return &VMLogHandler{
		Handler:  h.Handler.WithGroup(name),
		logs:     h.logs,
		preAttrs: h.preAttrs,
	}
}
