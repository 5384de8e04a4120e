package mentor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/metrics"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type repository interface {
	userType(context.Context, string) (string, error)
	attemptsLeft(context.Context, string) (int, error)
	hasPending(context.Context, string) (bool, error)
	apply(context.Context, application) error
	directory(context.Context, string) ([]mentorEntry, error)
	profile(context.Context, string) (mentorEntry, error)
	upsertProfile(context.Context, profileUpdate) error
}

type serviceImpl struct {
	repo    repository
	v       *validator.Validate
	metrics *metrics.Metrics
}

func NewService(repo repository, v *validator.Validate, m *metrics.Metrics) *serviceImpl {
	return &serviceImpl{
		repo:    repo,
		v:       v,
		metrics: m,
	}
}

type applyRequest struct {
	userId              string
	Name                string `json:"name" validate:"required,max=255"`
	Age                 int    `json:"age" validate:"required,min=1,max=120"`
	Experience          string `json:"experience" validate:"required,min=10,max=500"`
	Motivation          string `json:"motivation" validate:"required,min=10,max=500"`
	Revenue             string `json:"revenue" validate:"required,max=255"`
	BusinessExplanation string `json:"business_explanation" validate:"required,min=10,max=500"`
}

type upsertProfileRequest struct {
	userId string
	Bio    string   `json:"bio" validate:"max=2000"`
	Tags   []string `json:"tags" validate:"max=10,dive,max=64"`
	Name   *string  `json:"name" validate:"omitempty,min=1,max=255"`
	Age    *int     `json:"age" validate:"omitempty,min=1,max=120"`
}

type applicationResponse struct {
	Id        string `json:"id"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type applyResponse struct {
	Application  applicationResponse `json:"application"`
	AttemptsLeft int                 `json:"attempts_left"`
}

type mentorDetail struct {
	UserId   string   `json:"user_id"`
	Username string   `json:"username,omitempty"`
	Name     string   `json:"name"`
	Image    string   `json:"image,omitempty"`
	Age      *int64   `json:"age,omitempty"`
	Bio      string   `json:"bio,omitempty"`
	Tags     []string `json:"tags"`
}

type mentorResponse struct {
	Mentor mentorDetail `json:"mentor"`
}

type directoryResponse struct {
	Mentors []mentorDetail `json:"mentors"`
}

func toDetail(m mentorEntry) mentorDetail {
	detail := mentorDetail{
		UserId:   m.userId,
		Username: m.username.String,
		Name:     m.fullname,
		Image:    m.image.String,
		Bio:      m.bio.String,
		Tags:     m.tags,
	}
	if detail.Tags == nil {
		detail.Tags = []string{}
	}
	if m.age.Valid {
		age := m.age.Int64
		detail.Age = &age
	}
	return detail
}

// normalizeTags trims, lowercases and dedupes tags, dropping blanks.
func normalizeTags(tags []string) []string {
	seen := map[string]bool{}
	normalized := []string{}
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		normalized = append(normalized, tag)
	}
	return normalized
}

func (service *serviceImpl) apply(ctx context.Context, data applyRequest) (schema.Response[applyResponse], error) {
	data.Name = strings.TrimSpace(data.Name)
	data.Experience = strings.TrimSpace(data.Experience)
	data.Motivation = strings.TrimSpace(data.Motivation)
	data.Revenue = strings.TrimSpace(data.Revenue)
	data.BusinessExplanation = strings.TrimSpace(data.BusinessExplanation)
	if err := service.v.Struct(data); err != nil {
		return apperror.ValidationResponse[applyResponse](err, http.StatusUnprocessableEntity),
			fmt.Errorf("service: mentor application validation error %w", err)
	}

	userType, err := service.repo.userType(ctx, data.userId)
	if err != nil {
		return apperror.Response[applyResponse](err, ""), err
	}
	if userType == user.TYPE_MENTOR {
		return apperror.Fail[applyResponse](http.StatusBadRequest, "You are already a mentor"),
			errors.New("service: mentor applying again")
	}
	left, err := service.repo.attemptsLeft(ctx, data.userId)
	if err != nil {
		return apperror.Response[applyResponse](err, ""), err
	}
	if left <= 0 {
		return apperror.Fail[applyResponse](http.StatusBadRequest, "No application attempts remaining"),
			errors.New("service: mentor application without attempts")
	}
	pending, err := service.repo.hasPending(ctx, data.userId)
	if err != nil {
		return apperror.Response[applyResponse](err, ""), err
	}
	if pending {
		return apperror.Fail[applyResponse](http.StatusBadRequest, "You already have a pending application"),
			errors.New("service: mentor application while pending")
	}

	applicationId, err := uuid.NewV7()
	if err != nil {
		return apperror.Fail[applyResponse](http.StatusInternalServerError, apperror.INTERNAL_ERROR),
			fmt.Errorf("service: fail to generate application uuid %w", err)
	}
	created := application{
		id:                  applicationId.String(),
		userId:              data.userId,
		name:                data.Name,
		age:                 data.Age,
		experience:          data.Experience,
		motivation:          data.Motivation,
		revenue:             data.Revenue,
		businessExplanation: data.BusinessExplanation,
		status:              STATUS_PENDING,
		createdAt:           time.Now().Unix(),
	}
	if err := service.repo.apply(ctx, created); err != nil {
		return apperror.Response[applyResponse](err, "fail to submit application, please try again later"), err
	}
	service.metrics.Event(metrics.EVENT_MENTOR_APPLIED)

	return schema.Response[applyResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusCreated,
		Data: applyResponse{
			Application: applicationResponse{
				Id:        created.id,
				Status:    created.status,
				CreatedAt: created.createdAt,
			},
			AttemptsLeft: left - 1,
		},
	}, nil
}

func (service *serviceImpl) directory(ctx context.Context, q string) (schema.Response[directoryResponse], error) {
	mentors, err := service.repo.directory(ctx, strings.TrimSpace(q))
	if err != nil {
		return apperror.Response[directoryResponse](err, ""), err
	}
	details := make([]mentorDetail, 0, len(mentors))
	for _, m := range mentors {
		details = append(details, toDetail(m))
	}
	return schema.Response[directoryResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   directoryResponse{Mentors: details},
	}, nil
}

func (service *serviceImpl) profile(ctx context.Context, userId string) (schema.Response[mentorResponse], error) {
	m, err := service.repo.profile(ctx, userId)
	if err != nil {
		return apperror.Response[mentorResponse](err, ""), err
	}
	return schema.Response[mentorResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   mentorResponse{Mentor: toDetail(m)},
	}, nil
}

func (service *serviceImpl) upsertProfile(ctx context.Context, data upsertProfileRequest) (schema.Response[mentorResponse], error) {
	userType, err := service.repo.userType(ctx, data.userId)
	if err != nil {
		return apperror.Response[mentorResponse](err, ""), err
	}
	if userType != user.TYPE_MENTOR {
		return apperror.Fail[mentorResponse](http.StatusForbidden, "Only mentors can edit a mentor profile"),
			errors.New("service: non mentor editing mentor profile")
	}
	data.Bio = strings.TrimSpace(data.Bio)
	if data.Name != nil {
		name := strings.TrimSpace(*data.Name)
		data.Name = &name
	}
	if err := service.v.Struct(data); err != nil {
		return apperror.ValidationResponse[mentorResponse](err, http.StatusBadRequest),
			fmt.Errorf("service: mentor profile validation error %w", err)
	}

	err = service.repo.upsertProfile(ctx, profileUpdate{
		userId:    data.userId,
		bio:       sql.NullString{String: data.Bio, Valid: data.Bio != ""},
		tags:      normalizeTags(data.Tags),
		name:      data.Name,
		age:       data.Age,
		updatedAt: time.Now().Unix(),
	})
	if err != nil {
		return apperror.Response[mentorResponse](err, ""), err
	}
	return service.profile(ctx, data.userId)
}
