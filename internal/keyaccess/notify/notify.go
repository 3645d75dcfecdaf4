// Package notify delivers guest and staff notifications. Delivery is fire
// and forget from the caller's point of view: errors are returned for
// logging, never escalated.
package notify

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	TemplateCheckoutOverdueGuest = "checkout_overdue_guest"
	TemplateCheckoutOverdueStaff = "checkout_overdue_staff"
)

type Notifier interface {
	Send(ctx context.Context, address, template string, data map[string]any) error
}

// LogNotifier writes notifications to the service log. It is the default
// when no webhook is configured.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, address, template string, data map[string]any) error {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(formatValue(data[k]))
	}
	n.logger.Printf("notify to=%s template=%s%s", address, template, b.String())
	return nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return strings.ReplaceAll(fmt.Sprint(t), "\n", " ")
	}
}

// Sent is one delivery captured by a Recorder.
type Sent struct {
	Address  string
	Template string
	Data     map[string]any
}

// Recorder keeps every notification in memory. Fail, when set, decides
// per message whether delivery errors.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	Fail func(address, template string) error
}

func (r *Recorder) Send(_ context.Context, address, template string, data map[string]any) error {
	if r.Fail != nil {
		if err := r.Fail(address, template); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{Address: address, Template: template, Data: data})
	return nil
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}
