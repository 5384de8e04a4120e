package poll

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/metrics"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type repository interface {
	userType(context.Context, string) (string, error)
	findPoll(context.Context, string) (poll, error)
	optionBelongs(context.Context, string, string) (bool, error)
	hasVoted(context.Context, string, string) (bool, error)
	vote(context.Context, vote) error
	results(context.Context, poll, string) (Results, error)
}

type serviceImpl struct {
	repo    repository
	v       *validator.Validate
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(repo repository, v *validator.Validate, m *metrics.Metrics) *serviceImpl {
	return &serviceImpl{
		repo:    repo,
		v:       v,
		metrics: m,
		now:     time.Now,
	}
}

type voteRequest struct {
	voterId  string
	pollId   string
	OptionId string `json:"option_id" validate:"required"`
}

type resultsResponse struct {
	Poll Results `json:"poll"`
}

// canSee applies the private community rule to a poll's post.
func (service *serviceImpl) canSee(ctx context.Context, p poll, viewerId string) error {
	if !p.communityPrivate {
		return nil
	}
	if viewerId == "" {
		return apperror.New(http.StatusForbidden, "This community is private", nil)
	}
	userType, err := service.repo.userType(ctx, viewerId)
	if err != nil {
		return err
	}
	if !user.IsPremium(userType) {
		return apperror.New(http.StatusForbidden, "This community is private", nil)
	}
	return nil
}

func (service *serviceImpl) vote(ctx context.Context, data voteRequest) (schema.Response[resultsResponse], error) {
	if err := service.v.Struct(data); err != nil {
		return apperror.ValidationResponse[resultsResponse](err, http.StatusBadRequest),
			fmt.Errorf("service: poll vote validation error %w", err)
	}
	p, err := service.repo.findPoll(ctx, data.pollId)
	if err != nil {
		return apperror.Response[resultsResponse](err, ""), err
	}
	if err := service.canSee(ctx, p, data.voterId); err != nil {
		return apperror.Response[resultsResponse](err, ""), err
	}
	if p.ended(service.now()) {
		return apperror.Fail[resultsResponse](http.StatusBadRequest, "Poll has ended"),
			errors.New("service: vote on ended poll")
	}
	belongs, err := service.repo.optionBelongs(ctx, data.OptionId, p.id)
	if err != nil {
		return apperror.Response[resultsResponse](err, ""), err
	}
	if !belongs {
		return apperror.Fail[resultsResponse](http.StatusBadRequest, "Invalid option"),
			fmt.Errorf("service: option %s is not part of poll %s", data.OptionId, p.id)
	}
	voted, err := service.repo.hasVoted(ctx, p.id, data.voterId)
	if err != nil {
		return apperror.Response[resultsResponse](err, ""), err
	}
	if voted {
		return apperror.Fail[resultsResponse](http.StatusBadRequest, "Already voted"),
			errors.New("service: second poll vote")
	}
	err = service.repo.vote(ctx, vote{
		pollId:    p.id,
		voterId:   data.voterId,
		optionId:  data.OptionId,
		createdAt: service.now().Unix(),
	})
	if err != nil {
		return apperror.Response[resultsResponse](err, ""), err
	}
	service.metrics.Event(metrics.EVENT_POLL_VOTE)

	result, err := service.repo.results(ctx, p, data.voterId)
	if err != nil {
		return apperror.Response[resultsResponse](err, ""), err
	}
	return schema.Response[resultsResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusCreated,
		Data:   resultsResponse{Poll: result},
	}, nil
}

func (service *serviceImpl) results(ctx context.Context, pollId, viewerId string) (schema.Response[resultsResponse], error) {
	p, err := service.repo.findPoll(ctx, pollId)
	if err != nil {
		return apperror.Response[resultsResponse](err, ""), err
	}
	if err := service.canSee(ctx, p, viewerId); err != nil {
		return apperror.Response[resultsResponse](err, ""), err
	}
	result, err := service.repo.results(ctx, p, viewerId)
	if err != nil {
		return apperror.Response[resultsResponse](err, ""), err
	}
	return schema.Response[resultsResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   resultsResponse{Poll: result},
	}, nil
}
