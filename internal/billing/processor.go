package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wordgate/apiserver/types"
)

// Billing event types.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

var (
	// ErrUnknownPlan is returned for an event naming a plan that is not configured.
	ErrUnknownPlan = errors.New("unknown billing plan")
	// ErrMalformedEvent is returned for an event missing the fields its type requires.
	ErrMalformedEvent = errors.New("malformed billing event")
)

// Accounts resolves and links payment provider customers.
type Accounts interface {
	GetByCustomerRef(ctx context.Context, ref string) (types.Account, error)
	LinkCustomer(ctx context.Context, id, customerRef string) error
}

// Lifecycle applies tier changes.
type Lifecycle interface {
	ApplyTierChange(ctx context.Context, id string, change types.TierChange) (types.Account, error)
	DowngradeNow(ctx context.Context, id string) (types.Account, error)
}

// Processor turns billing events into tier changes.
type Processor struct {
	accounts  Accounts
	lifecycle Lifecycle
	plans     map[string]types.Plan
	logger    *slog.Logger
}

func NewProcessor(accounts Accounts, lifecycle Lifecycle, plans []types.Plan, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	byRef := make(map[string]types.Plan, len(plans))
	for _, p := range plans {
		byRef[p.Ref] = p
	}
	return &Processor{accounts: accounts, lifecycle: lifecycle, plans: byRef, logger: logger}
}

// Handle applies event. Unknown event types are ignored.
func (p *Processor) Handle(ctx context.Context, event types.BillingEvent) error {
	log := p.logger.With("event_id", event.ID, "event_type", event.Type)

	switch event.Type {
	case EventCheckoutCompleted:
		accountID := event.Data.ClientReferenceID
		if accountID == "" {
			return fmt.Errorf("%w: checkout event %s has no client reference", ErrMalformedEvent, event.ID)
		}
		if event.Data.Customer != "" {
			if err := p.accounts.LinkCustomer(ctx, accountID, event.Data.Customer); err != nil {
				return fmt.Errorf("link customer: %w", err)
			}
		}
		if event.Data.Plan == "" {
			log.Info("checkout completed without plan", "account_id", accountID)
			return nil
		}
		return p.applyPlan(ctx, accountID, event, true)

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		account, err := p.resolve(ctx, event)
		if err != nil {
			return err
		}
		return p.applyPlan(ctx, account.ID, event, event.Type == EventSubscriptionCreated)

	case EventSubscriptionDeleted:
		account, err := p.resolve(ctx, event)
		if err != nil {
			return err
		}
		if _, err := p.lifecycle.DowngradeNow(ctx, account.ID); err != nil {
			return err
		}
		log.Info("subscription deleted, downgraded to free", "account_id", account.ID)
		return nil

	default:
		log.Debug("ignoring billing event")
		return nil
	}
}

func (p *Processor) resolve(ctx context.Context, event types.BillingEvent) (types.Account, error) {
	if event.Data.Customer == "" {
		return types.Account{}, fmt.Errorf("%w: event %s has no customer", ErrMalformedEvent, event.ID)
	}
	account, err := p.accounts.GetByCustomerRef(ctx, event.Data.Customer)
	if err != nil {
		return types.Account{}, fmt.Errorf("resolve customer %s: %w", event.Data.Customer, err)
	}
	return account, nil
}

func (p *Processor) applyPlan(ctx context.Context, accountID string, event types.BillingEvent, resetUsage bool) error {
	plan, ok := p.plans[event.Data.Plan]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPlan, event.Data.Plan)
	}

	change := types.TierChange{Tier: plan.Tier, ResetUsage: resetUsage}
	if plan.Category != "" {
		category := plan.Category
		change.Category = &category
	}
	if plan.WordLimit > 0 {
		limit := plan.WordLimit
		change.WordLimit = &limit
	}
	if status, ok := MapStatus(event.Data.Status); ok {
		change.Status = &status
	} else if event.Type == EventCheckoutCompleted {
		active := types.StatusActive
		change.Status = &active
	}

	account, err := p.lifecycle.ApplyTierChange(ctx, accountID, change)
	if err != nil {
		return err
	}
	p.logger.Info("billing plan applied",
		"event_id", event.ID, "account_id", account.ID, "plan", plan.Ref, "tier", account.Tier, "status", account.Status)
	return nil
}

// MapStatus translates a payment provider subscription status.
func MapStatus(s string) (types.AccountStatus, bool) {
	switch s {
	case "active":
		return types.StatusActive, true
	case "trialing":
		return types.StatusTrial, true
	case "past_due", "unpaid":
		return types.StatusSuspended, true
	case "canceled":
		return types.StatusCanceled, true
	case "incomplete_expired":
		return types.StatusExpired, true
	default:
		return "", false
	}
}
