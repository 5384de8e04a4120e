package mentor

import (
	"context"
	"database/sql"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) userType(ctx context.Context, userId string) (string, error) {
	args := m.Called(ctx, userId)
	return args.String(0), args.Error(1)
}

func (m *mockRepository) attemptsLeft(ctx context.Context, userId string) (int, error) {
	args := m.Called(ctx, userId)
	return args.Int(0), args.Error(1)
}

func (m *mockRepository) hasPending(ctx context.Context, userId string) (bool, error) {
	args := m.Called(ctx, userId)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) apply(ctx context.Context, data application) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

func (m *mockRepository) directory(ctx context.Context, q string) ([]mentorEntry, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]mentorEntry), args.Error(1)
}

func (m *mockRepository) profile(ctx context.Context, userId string) (mentorEntry, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(mentorEntry), args.Error(1)
}

func (m *mockRepository) upsertProfile(ctx context.Context, data profileUpdate) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

func validApplication() applyRequest {
	return applyRequest{
		userId:              "user-id",
		Name:                "Jane Founder",
		Age:                 34,
		Experience:          "Ran two bootstrapped SaaS companies",
		Motivation:          "Want to help first time founders",
		Revenue:             "$1M ARR",
		BusinessExplanation: "B2B invoicing software for agencies",
	}
}

func TestServiceImpl_apply(t *testing.T) {
	tests := []struct {
		name          string
		request       applyRequest
		userType      string
		attemptsLeft  int
		pending       bool
		expectCode    int
		expectMessage string
	}{
		{
			name:         "first application",
			request:      validApplication(),
			userType:     user.TYPE_PAID,
			attemptsLeft: 2,
			expectCode:   http.StatusCreated,
		},
		{
			name: "short experience",
			request: func() applyRequest {
				r := validApplication()
				r.Experience = "too short"
				return r
			}(),
			expectCode:    http.StatusUnprocessableEntity,
			expectMessage: apperror.VALIDATION_ERROR,
		},
		{
			name: "missing age",
			request: func() applyRequest {
				r := validApplication()
				r.Age = 0
				return r
			}(),
			expectCode:    http.StatusUnprocessableEntity,
			expectMessage: apperror.VALIDATION_ERROR,
		},
		{
			name:          "already a mentor",
			request:       validApplication(),
			userType:      user.TYPE_MENTOR,
			attemptsLeft:  1,
			expectCode:    http.StatusBadRequest,
			expectMessage: "You are already a mentor",
		},
		{
			name:          "no attempts left",
			request:       validApplication(),
			userType:      user.TYPE_FREE,
			attemptsLeft:  0,
			expectCode:    http.StatusBadRequest,
			expectMessage: "No application attempts remaining",
		},
		{
			name:          "pending application exists",
			request:       validApplication(),
			userType:      user.TYPE_FREE,
			attemptsLeft:  1,
			pending:       true,
			expectCode:    http.StatusBadRequest,
			expectMessage: "You already have a pending application",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockRepository)
			service := NewService(repo, apperror.NewValidator(), nil)
			repo.On("userType", mock.Anything, "user-id").Return(tt.userType, nil)
			repo.On("attemptsLeft", mock.Anything, "user-id").Return(tt.attemptsLeft, nil)
			repo.On("hasPending", mock.Anything, "user-id").Return(tt.pending, nil)
			repo.On("apply", mock.Anything, mock.Anything).Return(nil)

			resp, err := service.apply(context.Background(), tt.request)
			assert.Equal(t, tt.expectCode, resp.Code)
			if tt.expectCode != http.StatusCreated {
				assert.Error(t, err)
				assert.Equal(t, tt.expectMessage, resp.Error.Message)
				repo.AssertNotCalled(t, "apply", mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, STATUS_PENDING, resp.Data.Application.Status)
			assert.Equal(t, tt.attemptsLeft-1, resp.Data.AttemptsLeft)
		})
	}
}

func TestServiceImpl_directory(t *testing.T) {
	repo := new(mockRepository)
	service := NewService(repo, apperror.NewValidator(), nil)
	repo.On("directory", mock.Anything, "saas").Return([]mentorEntry{
		{userId: "m-1", username: sql.NullString{String: "alice", Valid: true}, fullname: "Alice", tags: []string{"saas"}},
		{userId: "m-2", username: sql.NullString{String: "bob", Valid: true}, fullname: "Bob"},
	}, nil)

	resp, err := service.directory(context.Background(), "  saas ")
	require.NoError(t, err)
	require.Len(t, resp.Data.Mentors, 2)
	assert.Equal(t, []string{"saas"}, resp.Data.Mentors[0].Tags)
	assert.NotNil(t, resp.Data.Mentors[1].Tags)
}

func TestServiceImpl_profileNotMentor(t *testing.T) {
	repo := new(mockRepository)
	service := NewService(repo, apperror.NewValidator(), nil)
	repo.On("profile", mock.Anything, "user-id").Return(mentorEntry{}, apperror.New(http.StatusNotFound, "Mentor not found", sql.ErrNoRows))

	resp, err := service.profile(context.Background(), "user-id")
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "Mentor not found", resp.Error.Message)
}

func TestServiceImpl_upsertProfile(t *testing.T) {
	t.Run("mentor replaces tags", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, apperror.NewValidator(), nil)
		repo.On("userType", mock.Anything, "mentor-id").Return(user.TYPE_MENTOR, nil)
		repo.On("upsertProfile", mock.Anything, mock.Anything).Return(nil)
		repo.On("profile", mock.Anything, "mentor-id").Return(mentorEntry{
			userId: "mentor-id",
			bio:    sql.NullString{String: "Operator", Valid: true},
			tags:   []string{"growth", "saas"},
		}, nil)

		resp, err := service.upsertProfile(context.Background(), upsertProfileRequest{
			userId: "mentor-id",
			Bio:    " Operator ",
			Tags:   []string{"SaaS", " growth", "saas", ""},
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Code)
		repo.AssertCalled(t, "upsertProfile", mock.Anything, mock.MatchedBy(func(data profileUpdate) bool {
			return data.bio.String == "Operator" &&
				len(data.tags) == 2 && data.tags[0] == "saas" && data.tags[1] == "growth"
		}))
	})

	t.Run("non mentor is forbidden", func(t *testing.T) {
		repo := new(mockRepository)
		service := NewService(repo, apperror.NewValidator(), nil)
		repo.On("userType", mock.Anything, "paid-id").Return(user.TYPE_PAID, nil)

		resp, err := service.upsertProfile(context.Background(), upsertProfileRequest{userId: "paid-id", Bio: "hi"})
		assert.Error(t, err)
		assert.Equal(t, http.StatusForbidden, resp.Code)
		repo.AssertNotCalled(t, "upsertProfile", mock.Anything, mock.Anything)
	})
}
