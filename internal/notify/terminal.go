package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// TerminalNotifier prints notifications to a terminal. Send never blocks:
// notifications are queued and written by the goroutine started with Start.
type TerminalNotifier struct {
	out           io.Writer
	notifications chan Notification
	mu            sync.RWMutex
	enabled       bool
	bellEnabled   bool
}

// NewTerminalNotifier creates a TerminalNotifier writing to out.
func NewTerminalNotifier(out io.Writer, bufferSize int) *TerminalNotifier {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &TerminalNotifier{
		out:           out,
		notifications: make(chan Notification, bufferSize),
		enabled:       true,
		bellEnabled:   true,
	}
}

// SetBellEnabled enables or disables the terminal bell on halts.
func (tn *TerminalNotifier) SetBellEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.bellEnabled = enabled
}

// SetEnabled enables or disables the notifier.
func (tn *TerminalNotifier) SetEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.enabled = enabled
}

// Name returns the name of the notifier.
func (tn *TerminalNotifier) Name() string {
	return "terminal"
}

// IsEnabled returns whether the notifier is enabled.
func (tn *TerminalNotifier) IsEnabled() bool {
	tn.mu.RLock()
	defer tn.mu.RUnlock()
	return tn.enabled
}

// Send queues a notification for printing.
func (tn *TerminalNotifier) Send(ctx context.Context, n Notification) error {
	if !tn.IsEnabled() {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	select {
	case tn.notifications <- n:
	default:
		// Buffer full, drop oldest notification
		select {
		case <-tn.notifications:
		default:
		}
		tn.notifications <- n
	}
	return nil
}

// Start prints queued notifications until ctx is cancelled.
func (tn *TerminalNotifier) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-tn.notifications:
				tn.write(n)
			}
		}
	}()
}

// Flush prints everything currently queued.
func (tn *TerminalNotifier) Flush() {
	for {
		select {
		case n := <-tn.notifications:
			tn.write(n)
		default:
			return
		}
	}
}

func (tn *TerminalNotifier) write(n Notification) {
	tn.mu.RLock()
	bell := tn.bellEnabled
	tn.mu.RUnlock()

	if bell && n.Kind == KindHalt {
		fmt.Fprint(tn.out, "\a")
	}
	fmt.Fprintln(tn.out, FormatNotification(n))
}

// FormatNotification renders n as a single coloured block.
func FormatNotification(n Notification) string {
	var paint *color.Color
	switch n.Kind {
	case KindHalt, KindError:
		paint = color.New(color.FgRed, color.Bold)
	case KindWarning:
		paint = color.New(color.FgYellow, color.Bold)
	case KindFill:
		paint = color.New(color.FgGreen, color.Bold)
	case KindSummary:
		paint = color.New(color.FgCyan, color.Bold)
	default:
		paint = color.New(color.FgWhite)
	}
	dim := color.New(color.Faint)

	var sb strings.Builder
	sb.WriteString(dim.Sprintf("[%s] ", n.Timestamp.Format("15:04:05")))
	sb.WriteString(paint.Sprint(n.Title))
	for _, line := range strings.Split(n.Message, "\n") {
		if line == "" {
			continue
		}
		sb.WriteString("\n    ")
		sb.WriteString(line)
	}
	return sb.String()
}

var _ Channel = (*TerminalNotifier)(nil)
