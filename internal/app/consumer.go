package app

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/neonplay/ledger-service/pkg/rabbitmq"
	"github.com/sirupsen/logrus"
)

const handlerTimeout = 15 * time.Second

// TriggerConsumer turns inbound broker events into reward settlements.
type TriggerConsumer struct {
	svc    *Service
	dedupe EventDeduper
	log    *logrus.Entry
}

func NewTriggerConsumer(svc *Service, dedupe EventDeduper, log *logrus.Entry) *TriggerConsumer {
	return &TriggerConsumer{svc: svc, dedupe: dedupe, log: log}
}

// Bindings maps every inbound routing key to its handler.
func (c *TriggerConsumer) Bindings() map[string]rabbitmq.Handler {
	return map[string]rabbitmq.Handler{
		domain.RoutingKeyPurchaseCompleted: c.HandlePurchaseCompleted,
		domain.RoutingKeyGameRoundSettled:  c.HandleGameRoundSettled,
		domain.RoutingKeyXpEarned:          c.HandleXpEarned,
		domain.RoutingKeyAmoeApproved:      c.HandleAmoeApproved,
		domain.RoutingKeyUserCreated:       c.HandleUserCreated,
	}
}

func (c *TriggerConsumer) HandlePurchaseCompleted(body []byte) bool {
	var event domain.PurchaseCompletedEvent
	return c.handle(domain.RoutingKeyPurchaseCompleted, body, &event, func() string { return event.EventID }, func(ctx context.Context) error {
		if !event.Amount.IsPositive() {
			return domain.ErrInvalidAmount.WithMessage("purchase amount must be positive")
		}
		result, err := c.svc.CheckAndProcessReferralQualification(ctx, event.UserID, event.Amount)
		if err == nil && result != nil {
			c.log.WithFields(logrus.Fields{"referral_id": result.Referral.ID, "user_id": event.UserID}).Info("referral qualified and rewarded")
		}
		return err
	})
}

func (c *TriggerConsumer) HandleGameRoundSettled(body []byte) bool {
	var event domain.GameRoundSettledEvent
	return c.handle(domain.RoutingKeyGameRoundSettled, body, &event, func() string { return event.EventID }, func(ctx context.Context) error {
		if !event.LossAmount.IsPositive() {
			return nil
		}
		reference := strings.TrimSpace(event.RoundID)
		if reference == "" {
			reference = event.EventID
		}
		_, err := c.svc.AccumulateCashback(ctx, event.UserID, event.LossAmount, reference)
		return err
	})
}

func (c *TriggerConsumer) HandleXpEarned(body []byte) bool {
	var event domain.XpEarnedEvent
	return c.handle(domain.RoutingKeyXpEarned, body, &event, func() string { return event.EventID }, func(ctx context.Context) error {
		amount, ok := new(big.Int).SetString(strings.TrimSpace(event.Amount), 10)
		if !ok {
			return domain.ErrInvalidXpAmount.WithMessage("xp amount %q is not an integer", event.Amount)
		}
		referenceID := event.ReferenceID
		if strings.TrimSpace(referenceID) == "" {
			referenceID = event.EventID
		}
		_, err := c.svc.AwardXp(ctx, event.UserID, amount, event.Source, referenceID)
		return err
	})
}

func (c *TriggerConsumer) HandleAmoeApproved(body []byte) bool {
	var event domain.AmoeEntryApprovedEvent
	return c.handle(domain.RoutingKeyAmoeApproved, body, &event, func() string { return event.EventID }, func(ctx context.Context) error {
		_, err := c.svc.ApproveEntry(ctx, event.EntryID)
		return err
	})
}

func (c *TriggerConsumer) HandleUserCreated(body []byte) bool {
	var event domain.UserCreatedEvent
	return c.handle(domain.RoutingKeyUserCreated, body, &event, func() string { return event.EventID }, func(ctx context.Context) error {
		if _, err := c.svc.OpenWallet(ctx, event.UserID); err != nil {
			return err
		}
		_, err := c.svc.EnsureReferralCode(ctx, event.UserID)
		return err
	})
}

// handle decodes body into event and runs process under the handler timeout.
// It returns false only for failures worth redelivering.
func (c *TriggerConsumer) handle(routingKey string, body []byte, event interface{}, eventID func() string, process func(ctx context.Context) error) bool {
	log := c.log.WithField("routing_key", routingKey)
	if err := json.Unmarshal(body, event); err != nil {
		log.WithError(err).Warn("failed to unmarshal payload; dropping")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	dedupeKey := ""
	if id := strings.TrimSpace(eventID()); id != "" {
		dedupeKey = routingKey + ":" + id
		log = log.WithField("event_id", id)
	}
	if c.dedupe != nil && dedupeKey != "" {
		first, err := c.dedupe.Claim(ctx, dedupeKey)
		if err != nil {
			log.WithError(err).Warn("event dedupe unavailable; processing anyway")
		} else if !first {
			log.Info("duplicate event; acknowledging")
			return true
		}
	}

	err := process(ctx)
	if err == nil {
		return true
	}

	switch {
	case domain.IsAlreadySettled(err):
		log.WithError(err).Info("event already settled; acknowledging")
		return true
	case domain.IsRetryable(err) || domain.KindOf(err) == domain.KindUnknown:
		log.WithError(err).Error("transient failure; re-queuing")
		if c.dedupe != nil && dedupeKey != "" {
			if relErr := c.dedupe.Release(context.Background(), dedupeKey); relErr != nil {
				log.WithError(relErr).Warn("failed to release dedupe claim")
			}
		}
		return false
	default:
		log.WithError(err).Warn("event rejected; acknowledging")
		return true
	}
}
