package order

// Event is an input to the order state machine.
type Event string

const (
	EventPaymentCompleted Event = "payment-completed"
	EventPaymentExpired   Event = "payment-expired"
	EventPaymentFailed    Event = "payment-failed"
)

func (s OrderStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

var transitions = map[OrderStatus]map[Event]OrderStatus{
	StatusPending: {
		EventPaymentCompleted: StatusConfirmed,
		EventPaymentExpired:   StatusCancelled,
		EventPaymentFailed:    StatusCancelled,
	},
}

// Transition returns the status reached from `from` on ev and whether it
// differs from `from`. Terminal states absorb every event, so replays and
// late deliveries are no-ops rather than errors.
func Transition(from OrderStatus, ev Event) (OrderStatus, bool) {
	to, ok := transitions[from][ev]
	if !ok {
		return from, false
	}
	return to, to != from
}

// SessionStatusFor is the checkout session status recorded alongside a
// transition caused by ev.
func SessionStatusFor(ev Event) CheckoutSessionStatus {
	if ev == EventPaymentCompleted {
		return CheckoutSessionStatusComplete
	}
	return CheckoutSessionStatusExpired
}

func (e Event) Valid() bool {
	switch e {
	case EventPaymentCompleted, EventPaymentExpired, EventPaymentFailed:
		return true
	}
	return false
}
