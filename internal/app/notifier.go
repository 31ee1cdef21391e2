package app

import (
	"context"
	"sync"
	"time"

	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/neonplay/ledger-service/pkg/rabbitmq"
	"github.com/sirupsen/logrus"
)

const notifyTimeout = 5 * time.Second

// Notifier emits post-commit notification triggers. Implementations must never
// block or fail the settlement that produced them.
type Notifier interface {
	TierUpgraded(n domain.TierUpgradedNotification)
	RewardCredited(n domain.RewardCreditedNotification)
}

// EventNotifier publishes notifications on the events exchange in the background.
type EventNotifier struct {
	publisher rabbitmq.Publisher
	exchange  string
	log       *logrus.Entry
	wg        sync.WaitGroup
}

func NewEventNotifier(publisher rabbitmq.Publisher, exchange string, log *logrus.Entry) *EventNotifier {
	return &EventNotifier{publisher: publisher, exchange: exchange, log: log}
}

func (n *EventNotifier) TierUpgraded(event domain.TierUpgradedNotification) {
	n.publish(domain.RoutingKeyTierUpgraded, event, logrus.Fields{"user_id": event.UserID, "new_tier": event.NewTier})
}

func (n *EventNotifier) RewardCredited(event domain.RewardCreditedNotification) {
	n.publish(domain.RoutingKeyRewardCredited, event, logrus.Fields{"user_id": event.UserID, "transaction_id": event.TransactionID})
}

func (n *EventNotifier) publish(routingKey string, body interface{}, fields logrus.Fields) {
	if n == nil || n.publisher == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := n.publisher.Publish(ctx, n.exchange, routingKey, body); err != nil {
			n.log.WithFields(fields).WithField("routing_key", routingKey).WithError(err).Warn("failed to publish notification")
		}
	}()
}

// Wait blocks until in-flight publishes have finished. Used on shutdown.
func (n *EventNotifier) Wait() {
	n.wg.Wait()
}

type noopNotifier struct{}

func (noopNotifier) TierUpgraded(domain.TierUpgradedNotification)     {}
func (noopNotifier) RewardCredited(domain.RewardCreditedNotification) {}
