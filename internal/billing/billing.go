// Package billing talks to the payment gateway. Services depend on Gateway so
// they can be tested without network access.
package billing

import (
	"context"
	"errors"

	"github.com/tidwall/gjson"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
)

var ErrNotConfigured = errors.New("billing: payment gateway is not configured")

const (
	EVENT_CHECKOUT_COMPLETED   = "checkout.session.completed"
	EVENT_INVOICE_PAID         = "invoice.payment_succeeded"
	EVENT_INVOICE_FAILED       = "invoice.payment_failed"
	EVENT_SUBSCRIPTION_DELETED = "customer.subscription.deleted"
	EVENT_SUBSCRIPTION_UPDATED = "customer.subscription.updated"
	CHECKOUT_MODE_SUBSCRIPTION = "subscription"
)

const (
	GATEWAY_STATUS_ACTIVE   = "active"
	GATEWAY_STATUS_PAST_DUE = "past_due"
	GATEWAY_STATUS_CANCELED = "canceled"
	PAUSE_BEHAVIOR_VOID     = "void"
)

type Gateway interface {
	CreateCustomer(ctx context.Context, email, userId string) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error)
	CancelSubscription(ctx context.Context, subscriptionId string) error
	PauseSubscription(ctx context.Context, subscriptionId string) error
	ResumeSubscription(ctx context.Context, subscriptionId string) error
	GetSubscription(ctx context.Context, subscriptionId string) (Subscription, error)
	ParseWebhook(payload []byte, signature string) (Event, error)
}

type CheckoutParams struct {
	CustomerId string
	UserId     string
	PriceId    string
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	Id  string
	URL string
}

type Subscription struct {
	Id         string
	CustomerId string
	Status     string
}

// Event is the part of a gateway event the service acts on.
type Event struct {
	Id             string
	Type           string
	CustomerId     string
	SubscriptionId string
	Mode           string
	Status         string
}

// idOf reads an id that the gateway sends either as a string or as an expanded object.
func idOf(r gjson.Result) string {
	if r.IsObject() {
		return r.Get("id").String()
	}
	return r.String()
}

// ParseEventData extracts the fields of interest from the event's data.object.
func ParseEventData(eventType string, object []byte) Event {
	event := Event{
		Type:       eventType,
		CustomerId: idOf(gjson.GetBytes(object, "customer")),
	}
	switch eventType {
	case EVENT_CHECKOUT_COMPLETED:
		event.Mode = gjson.GetBytes(object, "mode").String()
		event.SubscriptionId = idOf(gjson.GetBytes(object, "subscription"))
	case EVENT_INVOICE_PAID, EVENT_INVOICE_FAILED:
		event.SubscriptionId = idOf(gjson.GetBytes(object, "subscription"))
	case EVENT_SUBSCRIPTION_DELETED, EVENT_SUBSCRIPTION_UPDATED:
		event.SubscriptionId = gjson.GetBytes(object, "id").String()
		event.Status = gjson.GetBytes(object, "status").String()
	}
	return event
}

// MapStatus converts a gateway subscription status into the stored subscription status.
func MapStatus(gatewayStatus string) string {
	switch gatewayStatus {
	case GATEWAY_STATUS_ACTIVE:
		return user.SUBSCRIPTION_ACTIVE
	case GATEWAY_STATUS_PAST_DUE:
		return user.SUBSCRIPTION_PAST_DUE
	case GATEWAY_STATUS_CANCELED:
		return user.SUBSCRIPTION_CANCELED
	}
	return user.SUBSCRIPTION_INACTIVE
}

// Disabled is wired when no gateway key is configured.
type Disabled struct{}

func (Disabled) CreateCustomer(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) CreateCheckoutSession(context.Context, CheckoutParams) (CheckoutSession, error) {
	return CheckoutSession{}, ErrNotConfigured
}

func (Disabled) CancelSubscription(context.Context, string) error { return ErrNotConfigured }
func (Disabled) PauseSubscription(context.Context, string) error { return ErrNotConfigured }
func (Disabled) ResumeSubscription(context.Context, string) error { return ErrNotConfigured }

func (Disabled) GetSubscription(context.Context, string) (Subscription, error) {
	return Subscription{}, ErrNotConfigured
}

func (Disabled) ParseWebhook([]byte, string) (Event, error) {
	return Event{}, ErrNotConfigured
}
