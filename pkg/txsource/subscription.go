package txsource

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xOucan/PAYVVM/pkg/chainclient"
)

// ErrSubscriptionClosed is returned when the node ends a subscription without an error
var ErrSubscriptionClosed = errors.New("subscription closed by node")

// SubscriptionSource streams pending transaction hashes over a push subscription
type SubscriptionSource struct {
	subscriber chainclient.PendingSubscriber
	buffer     int
	// onEstablished runs each time a subscription becomes active
	onEstablished func()
}

var _ Source = (*SubscriptionSource)(nil)

// NewSubscriptionSource creates a push source
func NewSubscriptionSource(subscriber chainclient.PendingSubscriber) *SubscriptionSource {
	return &SubscriptionSource{subscriber: subscriber, buffer: 256}
}

// OnEstablished registers a callback run each time a subscription becomes active
func (s *SubscriptionSource) OnEstablished(fn func()) {
	s.onEstablished = fn
}

func (s *SubscriptionSource) Name() string {
	return PushSourceName
}

// Run subscribes and forwards hashes until the subscription drops or ctx ends
func (s *SubscriptionSource) Run(ctx context.Context, sink chan<- common.Hash) error {
	ch := make(chan common.Hash, s.buffer)
	sub, err := s.subscriber.SubscribePendingTransactions(ctx, ch)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	if s.onEstablished != nil {
		s.onEstablished()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = ErrSubscriptionClosed
			}
			return err
		case hash := <-ch:
			if err := send(ctx, sink, hash); err != nil {
				return err
			}
		}
	}
}
