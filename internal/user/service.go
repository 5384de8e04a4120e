package user

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type repository interface {
	getPublic(context.Context, string) (publicUser, error)
	updateAccount(context.Context, accountUpdate) (publicUser, error)
	mentorAttempts(context.Context, string) (int, error)
	hasPendingApplication(context.Context, string) (bool, error)
}

type serviceImpl struct {
	repo repository
	v    *validator.Validate
}

func NewService(repo repository, v *validator.Validate) *serviceImpl {
	return &serviceImpl{
		repo: repo,
		v:    v,
	}
}

type updateAccountRequest struct {
	userId   string
	Name     *string `json:"name" validate:"omitempty,min=3,max=32,username"`
	UserType *string `json:"user_type"`
}

type publicUserResponse struct {
	Id       string `json:"id"`
	Username string `json:"username,omitempty"`
	UserType string `json:"user_type"`
	Image    string `json:"image,omitempty"`
}

type userResponse struct {
	User publicUserResponse `json:"user"`
}

type mentorAttemptsResponse struct {
	AttemptsLeft int `json:"attempts_left"`
}

type mentorStatusResponse struct {
	HasPendingApplication bool `json:"has_pending_application"`
}

func toPublicUserResponse(u publicUser) publicUserResponse {
	return publicUserResponse{
		Id:       u.id,
		Username: u.username.String,
		UserType: u.userType,
		Image:    u.image.String,
	}
}

func (service *serviceImpl) getPublic(ctx context.Context, userId string) (schema.Response[userResponse], error) {
	u, err := service.repo.getPublic(ctx, userId)
	if err != nil {
		return apperror.Response[userResponse](err, ""), err
	}
	return schema.Response[userResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   userResponse{User: toPublicUserResponse(u)},
	}, nil
}

// updateAccount changes the username and lets a user step down to FREE.
// Upgrades only happen through billing or mentor approval.
func (service *serviceImpl) updateAccount(ctx context.Context, data updateAccountRequest) (schema.Response[userResponse], error) {
	if data.Name != nil {
		trimmed := strings.TrimSpace(*data.Name)
		data.Name = &trimmed
	}
	if data.Name == nil && data.UserType == nil {
		return apperror.Fail[userResponse](http.StatusBadRequest, "No valid fields to update"),
			errors.New("service: update account without fields")
	}
	if err := service.v.Struct(data); err != nil {
		return apperror.ValidationResponse[userResponse](err, http.StatusBadRequest),
			fmt.Errorf("service: update account validation error %w", err)
	}
	if data.UserType != nil && *data.UserType != TYPE_FREE {
		return apperror.Fail[userResponse](http.StatusBadRequest, "User type can only be changed to FREE"),
			fmt.Errorf("service: user type %q is not allowed here", *data.UserType)
	}

	u, err := service.repo.updateAccount(ctx, accountUpdate{
		userId:   data.userId,
		username: data.Name,
		userType: data.UserType,
	})
	if err != nil {
		return apperror.Response[userResponse](err, ""), err
	}
	return schema.Response[userResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   userResponse{User: toPublicUserResponse(u)},
	}, nil
}

func (service *serviceImpl) mentorAttempts(ctx context.Context, userId string) (schema.Response[mentorAttemptsResponse], error) {
	left, err := service.repo.mentorAttempts(ctx, userId)
	if err != nil {
		return apperror.Response[mentorAttemptsResponse](err, ""), err
	}
	return schema.Response[mentorAttemptsResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   mentorAttemptsResponse{AttemptsLeft: left},
	}, nil
}

func (service *serviceImpl) mentorStatus(ctx context.Context, userId string) (schema.Response[mentorStatusResponse], error) {
	pending, err := service.repo.hasPendingApplication(ctx, userId)
	if err != nil {
		return apperror.Response[mentorStatusResponse](err, ""), err
	}
	return schema.Response[mentorStatusResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   mentorStatusResponse{HasPendingApplication: pending},
	}, nil
}
