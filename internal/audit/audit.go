package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

// Category groups audit events by the subsystem that produced them.
type Category uint16

const (
	CategorySystem Category = iota
	CategoryEngine
	CategoryNetwork
	CategoryExec
	CategorySecure
)

func (c Category) String() string {
	switch c {
	case CategorySystem:
		return "SYSTEM"
	case CategoryEngine:
		return "ENGINE"
	case CategoryNetwork:
		return "NETWORK"
	case CategoryExec:
		return "EXEC"
	case CategorySecure:
		return "SECURE"
	default:
		return "UNKNOWN"
	}
}

// Level marks the severity of an audit event.
type Level uint16

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Event is one entry of the outbound audit stream.
type Event struct {
	Time     time.Time
	Category Category
	Message  string
	Level    Level
}

// Sink receives every recorded event. Sink failures are logged and never
// propagate back into the engine.
type Sink interface {
	Write(Event) error
}

const defaultRingSize = 40

// Log keeps the most recent audit events in a ring, fans them out to
// subscribers, and forwards them to attached sinks. Every settlement outcome
// in the engine produces exactly one event here.
type Log struct {
	mu    sync.Mutex
	ring  []Event
	size  int
	subs  map[int]chan Event
	next  int
	sinks []Sink
}

// NewLog creates an audit log retaining up to size events.
func NewLog(size int) *Log {
	if size <= 0 {
		size = defaultRingSize
	}
	return &Log{
		size: size,
		subs: make(map[int]chan Event),
	}
}

// Attach adds a sink for recorded events.
func (l *Log) Attach(sink Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, sink)
}

// Subscribe returns a channel receiving future events. Slow subscribers drop
// events instead of blocking the engine.
func (l *Log) Subscribe() (<-chan Event, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.next
	l.next++
	ch := make(chan Event, l.size)
	l.subs[id] = ch
	return ch, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if sub, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(sub)
		}
	}
}

// Record formats and stores one event.
func (l *Log) Record(category Category, level Level, format string, args ...any) {
	event := Event{
		Time:     time.Now(),
		Category: category,
		Message:  fmt.Sprintf(format, args...),
		Level:    level,
	}

	switch level {
	case LevelError:
		logs.Errorf("[%s] %s", category, event.Message)
	default:
		logs.Infof("[%s] %s", category, event.Message)
	}

	l.mu.Lock()
	l.ring = append(l.ring, event)
	if len(l.ring) > l.size {
		l.ring = l.ring[len(l.ring)-l.size:]
	}
	sinks := make([]Sink, len(l.sinks))
	copy(sinks, l.sinks)
	for _, sub := range l.subs {
		select {
		case sub <- event:
		default:
		}
	}
	l.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Write(event); err != nil {
			logs.Errorf("audit sink write failed: %v", err)
		}
	}
}

// Events returns the retained events, newest first.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.ring))
	for i, event := range l.ring {
		out[len(l.ring)-1-i] = event
	}
	return out
}
