package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
	"golang.org/x/crypto/bcrypt"
)

type Repository interface {
	register(context.Context, account, authentication, string) (account, error)
	findByEmail(context.Context, string) (account, error)
	createSession(context.Context, string, authentication) error
	findRefreshToken(context.Context, string) (account, error)
	revokeRefreshToken(context.Context, string) error
}

// column defaults of a freshly registered user
const (
	DEFAULT_USER_TYPE = "FREE"
	DEFAULT_ROLE      = "USER"
)

type Options struct {
	JWTSecret          []byte
	DefaultCommunity   string
	MentorApplications int
}

type ServiceImpl struct {
	Repository
	v    *validator.Validate
	opts Options
}

func NewUserService(repo Repository, v *validator.Validate, opts Options) *ServiceImpl {
	return &ServiceImpl{
		Repository: repo,
		v:          v,
		opts:       opts,
	}
}

type registrationRequest struct {
	Fullname             string `json:"fullname" validate:"required"`
	Email                string `json:"email" validate:"required,email"`
	Password             string `json:"password" validate:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
	Agent                string `json:"-"`
	RemoteIp             string `json:"-"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
	authentication
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Fullname string `json:"fullname"`
	Username string `json:"username,omitempty"`
	UserType string `json:"user_type"`
	Role     string `json:"role"`
}

// we need this to standarize auth resposne
type authResponse struct {
	User         userResponse `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
}

func toUserResponse(a account) userResponse {
	return userResponse{
		ID:       a.id,
		Email:    a.email,
		Fullname: a.fullname,
		Username: a.username.String,
		UserType: a.userType,
		Role:     a.role,
	}
}

// refreshToken reissues the access token with the user's current tier and role.
func (service *ServiceImpl) refreshToken(ctx context.Context, token string) (schema.Response[authResponse], error) {
	a, err := service.findRefreshToken(ctx, token)
	if err != nil {
		return apperror.Response[authResponse](err, ""), err
	}
	newAccessToken, err := newAccessToken(service.opts.JWTSecret, a)
	if err != nil {
		return apperror.Fail[authResponse](
			http.StatusInternalServerError,
			"something went wrong, generate new access token fail, please try again later",
		), fmt.Errorf("service: generate new access token fail %w", err)
	}
	return schema.Response[authResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data: authResponse{
			User:         toUserResponse(a),
			AccessToken:  newAccessToken,
			RefreshToken: token,
		},
	}, nil
}

func (service *ServiceImpl) register(
	ctx context.Context,
	newUser registrationRequest,
) (schema.Response[authResponse], error) {
	err := service.v.Struct(newUser)
	if err != nil {
		return apperror.ValidationResponse[authResponse](err, http.StatusBadRequest),
			fmt.Errorf("service: create new user validation error %w", err)
	}

	newUserId, err := uuid.NewV7()
	if err != nil {
		return apperror.Fail[authResponse](http.StatusInternalServerError, "fail to create your account, please try again later"),
			fmt.Errorf("service: fail generate new user id, %w", err)
	}
	refreshToken, err := uuid.NewV7()
	if err != nil {
		return apperror.Fail[authResponse](http.StatusInternalServerError, "fail to create your account, please try again later"),
			fmt.Errorf("service: fail generate new refresh token, %w", err)
	}
	authenticationId, err := uuid.NewV7()
	if err != nil {
		return apperror.Fail[authResponse](http.StatusInternalServerError, "fail to create your account, please try again later"),
			fmt.Errorf("service: fail generate new authentication id, %w", err)
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newUser.Password), 10)
	if err != nil {
		return apperror.Fail[authResponse](http.StatusInternalServerError, "fail to create your account, please try again later"),
			fmt.Errorf("service: fail generate hash from user password, %w", err)
	}

	now := time.Now().Unix()
	created, err := service.Repository.register(
		ctx,
		account{
			id:                     newUserId.String(),
			fullname:               newUser.Fullname,
			email:                  newUser.Email,
			password:               string(hashedPassword),
			userType:               DEFAULT_USER_TYPE,
			role:                   DEFAULT_ROLE,
			mentorApplicationsLeft: service.opts.MentorApplications,
			createdAt:              now,
		},
		authentication{
			id:           authenticationId.String(),
			refreshToken: refreshToken.String(),
			lastLogin:    now,
			userId:       newUserId.String(),
			agent:        newUser.Agent,
			remoteIP:     newUser.RemoteIp,
		},
		service.opts.DefaultCommunity,
	)
	if err != nil {
		return apperror.Response[authResponse](err, "fail to process your request, please try again later"), err
	}
	accessToken, err := newAccessToken(service.opts.JWTSecret, created)
	if err != nil {
		return apperror.Fail[authResponse](http.StatusInternalServerError, "fail to create your account, please try again later"),
			fmt.Errorf("service: fail to generate new access token, %w", err)
	}
	return schema.Response[authResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusCreated,
		Data: authResponse{
			User:         toUserResponse(created),
			AccessToken:  accessToken,
			RefreshToken: refreshToken.String(),
		},
	}, nil
}

func (service *ServiceImpl) login(
	ctx context.Context,
	credential loginRequest,
) (schema.Response[authResponse], error) {
	err := service.v.Struct(credential)
	if err != nil {
		return apperror.ValidationResponse[authResponse](err, http.StatusBadRequest),
			fmt.Errorf("service: input validation error %w", err)
	}

	result, err := service.Repository.findByEmail(ctx, credential.Email)
	if err != nil {
		return apperror.Response[authResponse](err, "fail process your request, please try again later"), err
	}
	err = bcrypt.CompareHashAndPassword([]byte(result.password), []byte(credential.Password))
	if err != nil {
		return apperror.Fail[authResponse](http.StatusBadRequest, "email or password is incorrect"),
			fmt.Errorf("service: comparing password failed, %w", err)
	}

	refreshToken, err := uuid.NewV7()
	if err != nil {
		return apperror.Fail[authResponse](http.StatusInternalServerError, "fail process your request, please try again later"),
			fmt.Errorf("service: fail generate new refresh token, %w", err)
	}
	authId, err := uuid.NewV7()
	if err != nil {
		return apperror.Fail[authResponse](http.StatusInternalServerError, "fail process your request, please try again later"),
			fmt.Errorf("service: fail generate new auth id, %w", err)
	}
	err = service.Repository.createSession(ctx, result.id, authentication{
		id:           authId.String(),
		refreshToken: refreshToken.String(),
		lastLogin:    credential.authentication.lastLogin,
		remoteIP:     credential.authentication.remoteIP,
		agent:        credential.authentication.agent,
	})
	if err != nil {
		return apperror.Response[authResponse](err, "fail process your request, please try again later"), err
	}
	accessToken, err := newAccessToken(service.opts.JWTSecret, result)
	if err != nil {
		return apperror.Fail[authResponse](http.StatusInternalServerError, "fail to process your request, please try again later"),
			fmt.Errorf("service: fail to generate new access token, %w", err)
	}
	return schema.Response[authResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data: authResponse{
			User:         toUserResponse(result),
			AccessToken:  accessToken,
			RefreshToken: refreshToken.String(),
		},
	}, nil
}

func (service *ServiceImpl) signout(ctx context.Context, token string) (schema.Response[any], error) {
	if err := service.revokeRefreshToken(ctx, token); err != nil {
		return apperror.Response[any](err, ""), err
	}
	return schema.Response[any]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusNoContent,
	}, nil
}
