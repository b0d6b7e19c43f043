package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the Quarry engine.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Rule is the associated rule name, if applicable.
	Rule string `json:"rule,omitempty"`

	// Target is the associated target address, if applicable.
	Target string `json:"target,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted       = "run.started"
	EventTypeRunCompleted     = "run.completed"
	EventTypeRunFailed        = "run.failed"
	EventTypeRuleStarted      = "rule.started"
	EventTypeRuleCompleted    = "rule.completed"
	EventTypeRuleFailed       = "rule.failed"
	EventTypeMemoHit          = "memo.hit"
	EventTypeProcessStarted   = "process.started"
	EventTypeProcessCompleted = "process.completed"
	EventTypePolicyViolation  = "policy.violation"
	EventTypeError            = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventPublisher fans events out to subscribers, optionally asynchronously
// through a bounded buffer.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []EventSubscriber
	wg          sync.WaitGroup
	mu          sync.RWMutex
	cancel      context.CancelFunc
}

// NewEventPublisher creates a new event publisher with the given
// configuration. A disabled publisher accepts and drops everything.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.drain(ctx)
	}

	return ep
}

// Subscribe registers a subscriber for all events.
func (ep *EventPublisher) Subscribe(sub EventSubscriber) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, sub)
}

// Publish delivers an event to all subscribers. With async delivery enabled
// the event is buffered; a full buffer drops the event rather than blocking
// the engine.
func (ep *EventPublisher) Publish(event Event) {
	if !ep.config.Enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
		default:
		}
		return
	}
	ep.deliver(event)
}

func (ep *EventPublisher) drain(ctx context.Context) {
	defer ep.wg.Done()
	for {
		select {
		case event := <-ep.buffer:
			ep.deliver(event)
		case <-ctx.Done():
			// Flush whatever is left.
			for {
				select {
				case event := <-ep.buffer:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	subs := make([]EventSubscriber, len(ep.subscribers))
	copy(subs, ep.subscribers)
	ep.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
}

// Close stops the publisher and flushes buffered events.
func (ep *EventPublisher) Close() {
	if ep.cancel != nil {
		ep.cancel()
		ep.wg.Wait()
	}
}

// PublishRunStarted publishes a run-started event.
func (ep *EventPublisher) PublishRunStarted(runID, goal string) {
	ep.Publish(Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Message: "run started",
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"goal": goal},
	})
}

// PublishRunCompleted publishes a run-completed event.
func (ep *EventPublisher) PublishRunCompleted(runID string, exitCode int, duration time.Duration) {
	level := EventLevelInfo
	eventType := EventTypeRunCompleted
	if exitCode != 0 {
		level = EventLevelError
		eventType = EventTypeRunFailed
	}
	ep.Publish(Event{
		Type:    eventType,
		RunID:   runID,
		Message: "run completed",
		Level:   level,
		Data: map[string]interface{}{
			"exit_code": exitCode,
			"duration":  duration.String(),
		},
	})
}

// PublishRuleCompleted publishes a rule lifecycle event.
func (ep *EventPublisher) PublishRuleCompleted(runID, rule string, err error, duration time.Duration) {
	event := Event{
		Type:    EventTypeRuleCompleted,
		RunID:   runID,
		Rule:    rule,
		Message: "rule completed",
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"duration": duration.String()},
	}
	if err != nil {
		event.Type = EventTypeRuleFailed
		event.Level = EventLevelError
		event.Message = err.Error()
	}
	ep.Publish(event)
}

// PublishProcessCompleted publishes a sandboxed-process event.
func (ep *EventPublisher) PublishProcessCompleted(runID, description string, exitCode int, duration time.Duration) {
	ep.Publish(Event{
		Type:    EventTypeProcessCompleted,
		RunID:   runID,
		Message: description,
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"exit_code": exitCode,
			"duration":  duration.String(),
		},
	})
}
