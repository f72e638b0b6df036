package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arraydb/tilestore/core"
	"github.com/arraydb/tilestore/namespace"
)

// EventType defines the type of a hook event.
type EventType string

const (
	// Namespace lifecycle events.
	EventPreEntityCreate  EventType = "PreEntityCreate"
	EventPostEntityCreate EventType = "PostEntityCreate"
	EventPreEntityMove    EventType = "PreEntityMove"
	EventPostEntityMove   EventType = "PostEntityMove"
	EventPreEntityDelete  EventType = "PreEntityDelete"
	EventPostEntityDelete EventType = "PostEntityDelete"

	// Array lifecycle events.
	EventPreArrayOpen   EventType = "PreArrayOpen"
	EventPostArrayOpen  EventType = "PostArrayOpen"
	EventPostArrayClose EventType = "PostArrayClose"

	// Consolidation events.
	EventPreConsolidation  EventType = "PreConsolidation"
	EventPostConsolidation EventType = "PostConsolidation"
)

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	// Pre-events run synchronously and may cancel the operation.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// EntityCreatePayload carries the target of a create operation.
type EntityCreatePayload struct {
	Path string
	Kind namespace.Kind
}

// NewPreEntityCreateEvent creates an event for before an entity is created.
func NewPreEntityCreateEvent(payload EntityCreatePayload) HookEvent {
	return &BaseEvent{eventType: EventPreEntityCreate, payload: payload}
}

// PostEntityCreatePayload carries the outcome of a create operation.
type PostEntityCreatePayload struct {
	Path  string
	Kind  namespace.Kind
	Error error
}

// NewPostEntityCreateEvent creates an event for after an entity create finished.
func NewPostEntityCreateEvent(payload PostEntityCreatePayload) HookEvent {
	return &BaseEvent{eventType: EventPostEntityCreate, payload: payload}
}

// EntityMovePayload carries the endpoints of a move operation.
type EntityMovePayload struct {
	Src  string
	Dst  string
	Kind namespace.Kind
}

// NewPreEntityMoveEvent creates an event for before an entity is moved.
func NewPreEntityMoveEvent(payload EntityMovePayload) HookEvent {
	return &BaseEvent{eventType: EventPreEntityMove, payload: payload}
}

// PostEntityMovePayload carries the outcome of a move operation.
type PostEntityMovePayload struct {
	Src   string
	Dst   string
	Kind  namespace.Kind
	Error error
}

// NewPostEntityMoveEvent creates an event for after an entity move finished.
func NewPostEntityMoveEvent(payload PostEntityMovePayload) HookEvent {
	return &BaseEvent{eventType: EventPostEntityMove, payload: payload}
}

// EntityDeletePayload carries the target of a clear or delete operation.
type EntityDeletePayload struct {
	Path string
	Kind namespace.Kind
}

// NewPreEntityDeleteEvent creates an event for before an entity is deleted.
func NewPreEntityDeleteEvent(payload EntityDeletePayload) HookEvent {
	return &BaseEvent{eventType: EventPreEntityDelete, payload: payload}
}

// PostEntityDeletePayload carries the outcome of a delete operation.
type PostEntityDeletePayload struct {
	Path  string
	Kind  namespace.Kind
	Error error
}

// NewPostEntityDeleteEvent creates an event for after an entity delete finished.
func NewPostEntityDeleteEvent(payload PostEntityDeletePayload) HookEvent {
	return &BaseEvent{eventType: EventPostEntityDelete, payload: payload}
}

// ArrayOpenPayload carries the target of an array open.
type ArrayOpenPayload struct {
	Path string
	Mode core.Mode
}

// NewPreArrayOpenEvent creates an event for before an array is opened.
func NewPreArrayOpenEvent(payload ArrayOpenPayload) HookEvent {
	return &BaseEvent{eventType: EventPreArrayOpen, payload: payload}
}

// PostArrayOpenPayload carries the outcome of an array open, including
// the fragment count visible to the new handle.
type PostArrayOpenPayload struct {
	Path        string
	Mode        core.Mode
	FragmentNum int
	Error       error
}

// NewPostArrayOpenEvent creates an event for after an array open finished.
func NewPostArrayOpenEvent(payload PostArrayOpenPayload) HookEvent {
	return &BaseEvent{eventType: EventPostArrayOpen, payload: payload}
}

// ArrayClosePayload carries the target of an array close.
type ArrayClosePayload struct {
	Path string
}

// NewPostArrayCloseEvent creates an event for after an array handle closed.
func NewPostArrayCloseEvent(payload ArrayClosePayload) HookEvent {
	return &BaseEvent{eventType: EventPostArrayClose, payload: payload}
}

// ConsolidationPayload carries the target of a consolidation.
type ConsolidationPayload struct {
	Path string
}

// NewPreConsolidationEvent creates an event for before a consolidation starts.
func NewPreConsolidationEvent(payload ConsolidationPayload) HookEvent {
	return &BaseEvent{eventType: EventPreConsolidation, payload: payload}
}

// PostConsolidationPayload carries the outcome of a consolidation.
type PostConsolidationPayload struct {
	Path         string
	NewFragment  string
	OldFragments []string
	Duration     time.Duration
	Error        error
}

// NewPostConsolidationEvent creates an event for after a consolidation finished.
func NewPostConsolidationEvent(payload PostConsolidationPayload) HookEvent {
	return &BaseEvent{eventType: EventPostConsolidation, payload: payload}
}

// HookListener defines the interface for components that want to listen
// to events.
type HookListener interface {
	// OnEvent is called by the HookManager when a registered event is
	// triggered. Returning an error from a "Pre" hook cancels the
	// operation; errors from "Post" hooks are logged and ignored.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority returns the listener's priority. Lower numbers are
	// executed first.
	Priority() int

	// IsAsync indicates if the listener should be called asynchronously
	// for Post-events.
	IsAsync() bool
}

// listenerWithPriority wraps a listener with its priority for ordered
// insertion.
type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// The map stores slices of listeners, kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup // tracks async listeners
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener for a specific event type, maintaining
// priority order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{
		listener: listener,
		priority: listener.Priority(),
	}

	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority >= item.priority
	})
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item

	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority
// order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners, ok := m.listeners[event.Type()]
	m.mu.RUnlock()

	if !ok || len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		isListenerAsync := item.listener.IsAsync()

		// Pre-hooks MUST be synchronous to allow for cancellation.
		if isPreHook || !isListenerAsync {
			if isPreHook && isListenerAsync {
				m.logger.Warn("Listener for Pre-hook requested async execution, but Pre-hooks are always synchronous.",
					"event", event.Type(), "priority", item.priority)
			}

			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener",
					"event", event.Type(), "priority", item.priority, "error", err)
			}
		} else {
			m.wg.Add(1)
			go func(currentItem *listenerWithPriority) {
				defer m.wg.Done()
				if err := currentItem.listener.OnEvent(ctx, event); err != nil {
					m.logger.Error("Error from asynchronous post-hook listener",
						"event", event.Type(), "priority", currentItem.priority, "error", err)
				}
			}(item)
		}
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
