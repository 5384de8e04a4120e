package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/billing"
	"github.com/zulfikarrosadi/opentrellis/internal/metrics"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type repository interface {
	loadUser(context.Context, string) (user.User, error)
	listApplications(context.Context) ([]application, error)
	findApplication(context.Context, string) (application, error)
	approve(context.Context, approval) error
	reject(context.Context, rejection) error
	currentMentors(context.Context) ([]currentMentor, error)
	restorePaid(context.Context, string) error
	demote(context.Context, string) error
	setRole(context.Context, string, string) error
}

const (
	ACTION_APPROVE = "approve"
	ACTION_REJECT  = "reject"
)

type serviceImpl struct {
	repo    repository
	gateway billing.Gateway
	v       *validator.Validate
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(
	repo repository,
	gateway billing.Gateway,
	v *validator.Validate,
	logger *slog.Logger,
	m *metrics.Metrics,
) *serviceImpl {
	return &serviceImpl{
		repo:    repo,
		gateway: gateway,
		v:       v,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

type reviewRequest struct {
	applicationId string
	Action        string `json:"action" validate:"required,oneof=approve reject"`
	RemoveAttempt *bool  `json:"remove_attempt"`
}

type updateRoleRequest struct {
	adminId string
	userId  string
	Role    string `json:"role" validate:"required,oneof=USER ADMIN MODERATOR"`
}

type applicant struct {
	Id           string `json:"id"`
	Username     string `json:"username,omitempty"`
	Email        string `json:"email"`
	UserType     string `json:"user_type"`
	AttemptsLeft int    `json:"attempts_left"`
}

type applicationDetail struct {
	Id                  string    `json:"id"`
	Name                string    `json:"name"`
	Age                 int       `json:"age"`
	Experience          string    `json:"experience"`
	Motivation          string    `json:"motivation"`
	Revenue             string    `json:"revenue"`
	BusinessExplanation string    `json:"business_explanation"`
	Status              string    `json:"status"`
	User                applicant `json:"user"`
	CreatedAt           int64     `json:"created_at"`
	UpdatedAt           int64     `json:"updated_at"`
}

type applicationsResponse struct {
	Applications []applicationDetail `json:"applications"`
}

type reviewResponse struct {
	ApplicationId   string `json:"application_id"`
	Status          string `json:"status"`
	MentorExemption bool   `json:"mentor_exemption"`
}

type mentorDetail struct {
	UserId          string `json:"user_id"`
	Username        string `json:"username,omitempty"`
	Email           string `json:"email"`
	ApplicationId   string `json:"application_id"`
	ApplicationName string `json:"application_name"`
	ApprovedAt      int64  `json:"approved_at"`
}

type mentorsResponse struct {
	Mentors []mentorDetail `json:"mentors"`
}

type memberResponse struct {
	UserId             string `json:"user_id"`
	UserType           string `json:"user_type,omitempty"`
	Role               string `json:"role,omitempty"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
}

func (service *serviceImpl) listApplications(ctx context.Context) (schema.Response[applicationsResponse], error) {
	applications, err := service.repo.listApplications(ctx)
	if err != nil {
		return apperror.Response[applicationsResponse](err, ""), err
	}
	details := make([]applicationDetail, 0, len(applications))
	for _, a := range applications {
		details = append(details, applicationDetail{
			Id:                  a.id,
			Name:                a.name,
			Age:                 a.age,
			Experience:          a.experience,
			Motivation:          a.motivation,
			Revenue:             a.revenue,
			BusinessExplanation: a.businessExplanation,
			Status:              a.status,
			User: applicant{
				Id:           a.userId,
				Username:     a.username.String,
				Email:        a.email,
				UserType:     a.userType,
				AttemptsLeft: a.attemptsLeft,
			},
			CreatedAt: a.createdAt,
			UpdatedAt: a.updatedAt,
		})
	}
	return schema.Response[applicationsResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   applicationsResponse{Applications: details},
	}, nil
}

func (service *serviceImpl) review(ctx context.Context, data reviewRequest) (schema.Response[reviewResponse], error) {
	if err := service.v.Struct(data); err != nil {
		return apperror.Fail[reviewResponse](http.StatusBadRequest, "Action must be approve or reject"),
			fmt.Errorf("service: review validation error %w", err)
	}
	a, err := service.repo.findApplication(ctx, data.applicationId)
	if err != nil {
		return apperror.Response[reviewResponse](err, ""), err
	}
	if a.status != APPLICATION_PENDING {
		return apperror.Fail[reviewResponse](http.StatusBadRequest, "Application is not pending"),
			fmt.Errorf("service: review of %s application", a.status)
	}
	if data.Action == ACTION_REJECT {
		return service.reject(ctx, a, data)
	}
	return service.approve(ctx, a)
}

// approve promotes the applicant. An active paid subscription is paused at the
// gateway first so the mentor is not billed while exempt.
func (service *serviceImpl) approve(ctx context.Context, a application) (schema.Response[reviewResponse], error) {
	applicantUser, err := service.repo.loadUser(ctx, a.userId)
	if err != nil {
		return apperror.Response[reviewResponse](err, ""), err
	}
	exemption := applicantUser.SubscriptionStatus == user.SUBSCRIPTION_ACTIVE &&
		applicantUser.StripeSubscriptionId.Valid
	if exemption {
		if err := service.gateway.PauseSubscription(ctx, applicantUser.StripeSubscriptionId.String); err != nil {
			return apperror.Fail[reviewResponse](http.StatusBadGateway, "Could not pause the member's subscription"),
				fmt.Errorf("service: fail to pause subscription for mentor exemption %w", err)
		}
	}

	err = service.repo.approve(ctx, approval{
		applicationId: a.id,
		userId:        a.userId,
		exemption:     exemption,
		reviewedAt:    service.now().Unix(),
	})
	if err != nil {
		if exemption {
			if resumeErr := service.gateway.ResumeSubscription(ctx, applicantUser.StripeSubscriptionId.String); resumeErr != nil {
				service.logger.ErrorContext(ctx, "SUBSCRIPTION_RESUME_FAILED",
					slog.String("user_id", a.userId),
					slog.String("error", resumeErr.Error()),
				)
			}
		}
		return apperror.Response[reviewResponse](err, ""), err
	}
	service.metrics.Event(metrics.EVENT_MENTOR_APPROVED)

	return schema.Response[reviewResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data: reviewResponse{
			ApplicationId:   a.id,
			Status:          APPLICATION_APPROVED,
			MentorExemption: exemption,
		},
	}, nil
}

// reject closes the application. Only an explicit remove_attempt=false gives
// the attempt back.
func (service *serviceImpl) reject(ctx context.Context, a application, data reviewRequest) (schema.Response[reviewResponse], error) {
	err := service.repo.reject(ctx, rejection{
		applicationId: a.id,
		userId:        a.userId,
		returnAttempt: data.RemoveAttempt != nil && !*data.RemoveAttempt,
		reviewedAt:    service.now().Unix(),
	})
	if err != nil {
		return apperror.Response[reviewResponse](err, ""), err
	}
	service.metrics.Event(metrics.EVENT_MENTOR_REJECTED)

	return schema.Response[reviewResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data: reviewResponse{
			ApplicationId: a.id,
			Status:        APPLICATION_REJECTED,
		},
	}, nil
}

func (service *serviceImpl) currentMentors(ctx context.Context) (schema.Response[mentorsResponse], error) {
	mentors, err := service.repo.currentMentors(ctx)
	if err != nil {
		return apperror.Response[mentorsResponse](err, ""), err
	}
	details := make([]mentorDetail, 0, len(mentors))
	for _, m := range mentors {
		details = append(details, mentorDetail{
			UserId:          m.userId,
			Username:        m.username.String,
			Email:           m.email,
			ApplicationId:   m.applicationId,
			ApplicationName: m.applicationName,
			ApprovedAt:      m.approvedAt,
		})
	}
	return schema.Response[mentorsResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   mentorsResponse{Mentors: details},
	}, nil
}

// removeMentor resumes an exempted subscription when there is one, otherwise
// the user falls back to FREE. Application attempts are left alone.
func (service *serviceImpl) removeMentor(ctx context.Context, mentorId string) (schema.Response[memberResponse], error) {
	mentor, err := service.repo.loadUser(ctx, mentorId)
	if err != nil {
		return apperror.Response[memberResponse](err, ""), err
	}
	if mentor.UserType != user.TYPE_MENTOR {
		return apperror.Fail[memberResponse](http.StatusBadRequest, "User is not a mentor"),
			errors.New("service: remove mentor on non mentor")
	}

	if mentor.MentorExemptionActive && mentor.StripeSubscriptionId.Valid {
		if err := service.gateway.ResumeSubscription(ctx, mentor.StripeSubscriptionId.String); err != nil {
			return apperror.Fail[memberResponse](http.StatusBadGateway, "Could not resume the member's subscription"),
				fmt.Errorf("service: fail to resume subscription %w", err)
		}
		if err := service.repo.restorePaid(ctx, mentor.Id); err != nil {
			return apperror.Response[memberResponse](err, ""), err
		}
		service.metrics.Event(metrics.EVENT_MENTOR_REMOVED)
		return schema.Response[memberResponse]{
			Status: schema.STATUS_SUCCESS,
			Code:   http.StatusOK,
			Data: memberResponse{
				UserId:             mentor.Id,
				UserType:           user.TYPE_PAID,
				SubscriptionStatus: user.SUBSCRIPTION_ACTIVE,
			},
		}, nil
	}

	if err := service.repo.demote(ctx, mentor.Id); err != nil {
		return apperror.Response[memberResponse](err, ""), err
	}
	service.metrics.Event(metrics.EVENT_MENTOR_REMOVED)
	status := mentor.SubscriptionStatus
	if status == user.SUBSCRIPTION_SUSPENDED {
		status = user.SUBSCRIPTION_INACTIVE
	}
	return schema.Response[memberResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data: memberResponse{
			UserId:             mentor.Id,
			UserType:           user.TYPE_FREE,
			SubscriptionStatus: status,
		},
	}, nil
}

func (service *serviceImpl) setRole(ctx context.Context, data updateRoleRequest) (schema.Response[memberResponse], error) {
	if err := service.v.Struct(data); err != nil {
		return apperror.ValidationResponse[memberResponse](err, http.StatusBadRequest),
			fmt.Errorf("service: input validation error %w", err)
	}
	if !user.IsValidRole(data.Role) {
		return apperror.Fail[memberResponse](http.StatusBadRequest, "Unknown role"),
			fmt.Errorf("service: unknown role %s", data.Role)
	}
	if data.userId == data.adminId {
		return apperror.Fail[memberResponse](http.StatusBadRequest, "You cannot change your own role"),
			errors.New("service: admin changing own role")
	}
	target, err := service.repo.loadUser(ctx, data.userId)
	if err != nil {
		return apperror.Response[memberResponse](err, ""), err
	}
	if err := service.repo.setRole(ctx, target.Id, data.Role); err != nil {
		return apperror.Response[memberResponse](err, ""), err
	}
	return schema.Response[memberResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data: memberResponse{
			UserId: target.Id,
			Role:   data.Role,
		},
	}, nil
}
