package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type Stripe struct {
	api           *client.API
	webhookSecret string
}

func NewStripe(secretKey, webhookSecret string) *Stripe {
	return &Stripe{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
	}
}

func (s *Stripe) CreateCustomer(ctx context.Context, email, userId string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata("userId", userId)
	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("billing: create customer failed %w", err)
	}
	return c.ID, nil
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(p.CustomerId),
		ClientReferenceID: stripe.String(p.UserId),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceId),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata("userId", p.UserId)
	session, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("billing: create checkout session failed %w", err)
	}
	return CheckoutSession{Id: session.ID, URL: session.URL}, nil
}

func (s *Stripe) CancelSubscription(ctx context.Context, subscriptionId string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := s.api.Subscriptions.Cancel(subscriptionId, params); err != nil {
		return fmt.Errorf("billing: cancel subscription failed %w", err)
	}
	return nil
}

// PauseSubscription stops invoicing without cancelling, invoices created while
// paused are voided.
func (s *Stripe) PauseSubscription(ctx context.Context, subscriptionId string) error {
	params := &stripe.SubscriptionParams{
		PauseCollection: &stripe.SubscriptionPauseCollectionParams{
			Behavior: stripe.String(PAUSE_BEHAVIOR_VOID),
		},
	}
	params.Context = ctx
	if _, err := s.api.Subscriptions.Update(subscriptionId, params); err != nil {
		return fmt.Errorf("billing: pause subscription failed %w", err)
	}
	return nil
}

func (s *Stripe) ResumeSubscription(ctx context.Context, subscriptionId string) error {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExtra("pause_collection", "")
	if _, err := s.api.Subscriptions.Update(subscriptionId, params); err != nil {
		return fmt.Errorf("billing: resume subscription failed %w", err)
	}
	return nil
}

func (s *Stripe) GetSubscription(ctx context.Context, subscriptionId string) (Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := s.api.Subscriptions.Get(subscriptionId, params)
	if err != nil {
		return Subscription{}, fmt.Errorf("billing: get subscription failed %w", err)
	}
	customerId := ""
	if sub.Customer != nil {
		customerId = sub.Customer.ID
	}
	return Subscription{
		Id:         sub.ID,
		CustomerId: customerId,
		Status:     string(sub.Status),
	}, nil
}

func (s *Stripe) ParseWebhook(payload []byte, signature string) (Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("billing: webhook verification failed %w", err)
	}
	if event.Data == nil {
		return Event{Id: event.ID, Type: string(event.Type)}, nil
	}
	parsed := ParseEventData(string(event.Type), event.Data.Raw)
	parsed.Id = event.ID
	return parsed, nil
}
