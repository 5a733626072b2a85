package mailbox

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EventKind enumerates the observer event kinds the core emits (design
// §4.9).
type EventKind int

const (
	EventMessageAdd EventKind = iota
	EventProgress
	EventCorrupt
	EventMessageAppend
	EventMessageExpunge
	EventFolderDestroy
)

func (k EventKind) String() string {
	switch k {
	case EventMessageAdd:
		return "message_add"
	case EventProgress:
		return "progress"
	case EventCorrupt:
		return "corrupt"
	case EventMessageAppend:
		return "message_append"
	case EventMessageExpunge:
		return "message_expunge"
	case EventFolderDestroy:
		return "folder_destroy"
	default:
		return "unknown"
	}
}

// Event carries an event kind plus kind-specific payload, matching the
// observer event ABI in design §6: ADD carries an ordinal, EXPUNGE
// carries {ordinal, expunge_count}, APPEND carries a byte offset.
type Event struct {
	Kind      EventKind
	Ordinal   int
	ExpungeN  int
	Offset    int64
}

// Observer is called synchronously for each matching event. Returning
// false tells the dispatcher to stop iterating further observers for
// this event (used for progress cancellation); it is not an error.
type Observer func(Event) bool

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailutils",
			Subsystem: "mailbox",
			Name:      "events_total",
			Help:      "Total mailbox observer events dispatched, by kind and scheme",
		},
		[]string{"event", "scheme"},
	)
	openMailboxes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mailutils",
			Subsystem: "mailbox",
			Name:      "open",
			Help:      "Number of currently open mailboxes, by scheme",
		},
		[]string{"scheme"},
	)
)

func init() {
	prometheus.MustRegister(eventsTotal, openMailboxes)
}

// Observable is the event hub each mailbox owns: subscription plus
// synchronous fan-out, and the reader/writer monitor guarding mutation
// (design §4.9, §5).
type Observable struct {
	scheme string

	mu        sync.RWMutex // monitor: wrlock for mutators, rlock for read-only APIs
	obsMu     sync.Mutex
	observers []Observer
}

func NewObservable(scheme string) *Observable {
	return &Observable{scheme: scheme}
}

// Subscribe registers an observer and returns an unsubscribe function.
func (o *Observable) Subscribe(fn Observer) (unsubscribe func()) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	o.observers = append(o.observers, fn)
	idx := len(o.observers) - 1
	return func() {
		o.obsMu.Lock()
		defer o.obsMu.Unlock()
		if idx < len(o.observers) {
			o.observers[idx] = nil
		}
	}
}

// Notify fans the event out to every subscriber, incrementing the
// Prometheus counter regardless of whether any observer is subscribed.
// Callers must not hold the monitor's write lock when calling Notify —
// observers are allowed to call back into the mailbox (design §4.9).
func (o *Observable) Notify(ev Event) {
	eventsTotal.WithLabelValues(ev.Kind.String(), o.scheme).Inc()

	o.obsMu.Lock()
	observers := make([]Observer, len(o.observers))
	copy(observers, o.observers)
	o.obsMu.Unlock()

	for _, fn := range observers {
		if fn == nil {
			continue
		}
		if !fn(ev) {
			return
		}
	}
}

// Opened/Closed track the open-mailbox gauge.
func (o *Observable) Opened() { openMailboxes.WithLabelValues(o.scheme).Inc() }
func (o *Observable) Closed() { openMailboxes.WithLabelValues(o.scheme).Dec() }

// RLock/RUnlock/Lock/Unlock expose the reader/writer monitor to engine
// code: read-only API methods take RLock, mutators take Lock, and both
// release it before calling Notify.
func (o *Observable) RLock()   { o.mu.RLock() }
func (o *Observable) RUnlock() { o.mu.RUnlock() }
func (o *Observable) Lock()    { o.mu.Lock() }
func (o *Observable) Unlock()  { o.mu.Unlock() }
