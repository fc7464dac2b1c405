package bus

import "github.com/nats-io/nats.go"

// natsSubscription adapts a nats.Subscription to the bus Subscription
// interface so callers can unsubscribe without knowing the backend.
type natsSubscription struct {
	inner *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	if s.inner == nil {
		return nil
	}
	return s.inner.Unsubscribe()
}

func (s *natsSubscription) IsValid() bool {
	return s.inner != nil && s.inner.IsValid()
}
