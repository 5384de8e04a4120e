package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/billing"
	"github.com/zulfikarrosadi/opentrellis/internal/metrics"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type repository interface {
	loadUser(context.Context, string) (user.User, error)
	loadByCustomer(context.Context, string) (user.User, error)
	setCustomer(context.Context, string, string) error
	applyStatus(context.Context, statusChange) error
	pastDue(context.Context) ([]user.User, error)
}

type Options struct {
	PriceId string
	BaseURL string
}

type ServiceImpl struct {
	repo    repository
	gateway billing.Gateway
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewService(
	repo repository,
	gateway billing.Gateway,
	opts Options,
	logger *slog.Logger,
	m *metrics.Metrics,
) *ServiceImpl {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &ServiceImpl{
		repo:    repo,
		gateway: gateway,
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
}

type checkoutResponse struct {
	SessionId string `json:"session_id"`
	URL       string `json:"url"`
}

type statusResponse struct {
	UserType           string `json:"user_type"`
	SubscriptionStatus string `json:"subscription_status"`
}

type webhookResponse struct {
	Received bool `json:"received"`
	Handled  bool `json:"handled"`
}

// gatewayFailure maps a gateway error to 503 when billing is switched off and 502 otherwise.
func gatewayFailure[T any](err error, action string) (schema.Response[T], error) {
	if errors.Is(err, billing.ErrNotConfigured) {
		return apperror.Fail[T](http.StatusServiceUnavailable, "Billing is not available"), err
	}
	return apperror.Fail[T](http.StatusBadGateway, "Payment provider error, please try again later"),
		fmt.Errorf("service: fail to %s %w", action, err)
}

func (service *ServiceImpl) createCheckout(ctx context.Context, userId string) (schema.Response[checkoutResponse], error) {
	member, err := service.repo.loadUser(ctx, userId)
	if err != nil {
		return apperror.Response[checkoutResponse](err, ""), err
	}
	if member.UserType == user.TYPE_MENTOR {
		return apperror.Fail[checkoutResponse](http.StatusBadRequest, "Mentors do not need to pay for subscriptions"),
			errors.New("service: checkout requested by mentor")
	}
	if member.SubscriptionStatus == user.SUBSCRIPTION_ACTIVE && member.StripeSubscriptionId.Valid {
		return apperror.Fail[checkoutResponse](http.StatusBadRequest, "You already have an active subscription"),
			errors.New("service: checkout requested with active subscription")
	}

	customerId := member.StripeCustomerId.String
	if !member.StripeCustomerId.Valid {
		customerId, err = service.gateway.CreateCustomer(ctx, member.Email, member.Id)
		if err != nil {
			return gatewayFailure[checkoutResponse](err, "create billing customer")
		}
		if err := service.repo.setCustomer(ctx, member.Id, customerId); err != nil {
			return apperror.Response[checkoutResponse](err, ""), err
		}
	}

	session, err := service.gateway.CreateCheckoutSession(ctx, billing.CheckoutParams{
		CustomerId: customerId,
		UserId:     member.Id,
		PriceId:    service.opts.PriceId,
		SuccessURL: service.opts.BaseURL + "/settings?success=true",
		CancelURL:  service.opts.BaseURL + "/",
	})
	if err != nil {
		return gatewayFailure[checkoutResponse](err, "create checkout session")
	}
	service.metrics.Event(metrics.EVENT_CHECKOUT_CREATED)

	return schema.Response[checkoutResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data: checkoutResponse{
			SessionId: session.Id,
			URL:       session.URL,
		},
	}, nil
}

// cancel always leaves the member FREE. An exempted mentor only gives up the
// exemption at the gateway side when a paused subscription is still attached.
func (service *ServiceImpl) cancel(ctx context.Context, userId string) (schema.Response[statusResponse], error) {
	member, err := service.repo.loadUser(ctx, userId)
	if err != nil {
		return apperror.Response[statusResponse](err, ""), err
	}

	change := statusChange{
		userId:   member.Id,
		userType: user.TYPE_FREE,
		status:   user.SUBSCRIPTION_INACTIVE,
	}
	switch {
	case member.UserType == user.TYPE_MENTOR && member.MentorExemptionActive:
		change.clearExemption = true
		if member.StripeSubscriptionId.Valid {
			if err := service.gateway.CancelSubscription(ctx, member.StripeSubscriptionId.String); err != nil {
				return gatewayFailure[statusResponse](err, "cancel subscription")
			}
			change.status = user.SUBSCRIPTION_CANCELED
		}
	case member.SubscriptionStatus != user.SUBSCRIPTION_ACTIVE || !member.StripeSubscriptionId.Valid:
		// nothing to cancel at the gateway
	default:
		if err := service.gateway.CancelSubscription(ctx, member.StripeSubscriptionId.String); err != nil {
			return gatewayFailure[statusResponse](err, "cancel subscription")
		}
		change.status = user.SUBSCRIPTION_CANCELED
	}

	if err := service.repo.applyStatus(ctx, change); err != nil {
		return apperror.Response[statusResponse](err, ""), err
	}
	service.metrics.Event(metrics.EVENT_SUBSCRIPTION_CANCELED)

	return schema.Response[statusResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data: statusResponse{
			UserType:           change.userType,
			SubscriptionStatus: change.status,
		},
	}, nil
}

// changeFor maps a gateway event onto member. ok is false when the event does
// not concern the member's current subscription.
func changeFor(event billing.Event, member user.User) (statusChange, bool) {
	change := statusChange{userId: member.Id}
	switch event.Type {
	case billing.EVENT_CHECKOUT_COMPLETED:
		if event.Mode != billing.CHECKOUT_MODE_SUBSCRIPTION {
			return statusChange{}, false
		}
		change.status = user.SUBSCRIPTION_ACTIVE
		change.userType = user.TYPE_PAID
		change.subscriptionId = event.SubscriptionId
	case billing.EVENT_INVOICE_PAID:
		change.status = user.SUBSCRIPTION_ACTIVE
		change.userType = user.TYPE_PAID
	case billing.EVENT_INVOICE_FAILED:
		change.status = user.SUBSCRIPTION_PAST_DUE
	case billing.EVENT_SUBSCRIPTION_DELETED:
		change.status = user.SUBSCRIPTION_CANCELED
		change.userType = user.TYPE_FREE
	case billing.EVENT_SUBSCRIPTION_UPDATED:
		change.status = billing.MapStatus(event.Status)
		change.userType = typeForStatus(change.status)
	default:
		return statusChange{}, false
	}

	if event.Type != billing.EVENT_CHECKOUT_COMPLETED && event.SubscriptionId != "" &&
		member.StripeSubscriptionId.String != event.SubscriptionId {
		return statusChange{}, false
	}
	return forMentor(change, member)
}

func typeForStatus(status string) string {
	if status == user.SUBSCRIPTION_ACTIVE {
		return user.TYPE_PAID
	}
	return user.TYPE_FREE
}

// forMentor keeps a mentor's userType. While the exemption is active the
// subscription is paused on purpose, so only a cancellation is recorded.
func forMentor(change statusChange, member user.User) (statusChange, bool) {
	if member.UserType != user.TYPE_MENTOR {
		return change, true
	}
	change.userType = ""
	if member.MentorExemptionActive && change.status != user.SUBSCRIPTION_CANCELED {
		return statusChange{}, false
	}
	return change, true
}

func isNotFound(err error) bool {
	var appError *apperror.AppError
	return errors.As(err, &appError) && appError.Code == http.StatusNotFound
}

func (service *ServiceImpl) webhook(ctx context.Context, payload []byte, signature string) (schema.Response[webhookResponse], error) {
	event, err := service.gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrNotConfigured) {
			return apperror.Fail[webhookResponse](http.StatusServiceUnavailable, "Billing is not available"), err
		}
		return apperror.Fail[webhookResponse](http.StatusBadRequest, "Webhook signature verification failed"),
			fmt.Errorf("service: webhook signature %w", err)
	}

	handled, err := service.handleEvent(ctx, event)
	service.metrics.Webhook(event.Type, handled)
	if err != nil {
		return apperror.Response[webhookResponse](err, ""), err
	}
	return schema.Response[webhookResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data: webhookResponse{
			Received: true,
			Handled:  handled,
		},
	}, nil
}

func (service *ServiceImpl) handleEvent(ctx context.Context, event billing.Event) (bool, error) {
	if event.CustomerId == "" {
		return false, nil
	}
	member, err := service.repo.loadByCustomer(ctx, event.CustomerId)
	if err != nil {
		if isNotFound(err) {
			service.logger.InfoContext(ctx, "WEBHOOK_UNKNOWN_CUSTOMER",
				slog.String("event_id", event.Id),
				slog.String("event_type", event.Type),
			)
			return false, nil
		}
		return false, err
	}
	change, ok := changeFor(event, member)
	if !ok {
		return false, nil
	}
	if err := service.repo.applyStatus(ctx, change); err != nil {
		return false, err
	}
	return true, nil
}

// Reconcile re-reads every past due subscription from the gateway and applies
// its current status. A failure on one member does not stop the others.
func (service *ServiceImpl) Reconcile(ctx context.Context) error {
	members, err := service.repo.pastDue(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, member := range members {
		subscription, err := service.gateway.GetSubscription(ctx, member.StripeSubscriptionId.String)
		if err != nil {
			errs = append(errs, fmt.Errorf("service: reconcile %s %w", member.Id, err))
			continue
		}
		change := statusChange{
			userId: member.Id,
			status: billing.MapStatus(subscription.Status),
		}
		if change.status == member.SubscriptionStatus {
			continue
		}
		change.userType = typeForStatus(change.status)
		change, ok := forMentor(change, member)
		if !ok {
			continue
		}
		if err := service.repo.applyStatus(ctx, change); err != nil {
			errs = append(errs, err)
			continue
		}
		service.logger.InfoContext(ctx, "SUBSCRIPTION_RECONCILED",
			slog.String("user_id", member.Id),
			slog.String("status", change.status),
		)
	}
	return errors.Join(errs...)
}
