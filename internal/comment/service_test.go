package comment

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

func (m *mockRepository) findPost(ctx context.Context, postId string) (postRef, error) {
	args := m.Called(ctx, postId)
	return args.Get(0).(postRef), args.Error(1)
}

func (m *mockRepository) replyTargetPost(ctx context.Context, commentId string) (string, error) {
	args := m.Called(ctx, commentId)
	return args.String(0), args.Error(1)
}

func (m *mockRepository) create(ctx context.Context, data comment) (commentWithAuthor, error) {
	args := m.Called(ctx, data)
	if fn, ok := args.Get(0).(func(comment) commentWithAuthor); ok {
		return fn(data), args.Error(1)
	}
	return args.Get(0).(commentWithAuthor), args.Error(1)
}

func (m *mockRepository) listTopLevel(ctx context.Context, postId string) ([]commentWithAuthor, error) {
	args := m.Called(ctx, postId)
	return args.Get(0).([]commentWithAuthor), args.Error(1)
}

func TestServiceImpl_create(t *testing.T) {
	published := postRef{id: "post-id", status: "published"}
	tests := []struct {
		name          string
		request       createCommentRequest
		post          postRef
		postErr       error
		targetPost    string
		expectCode    int
		expectMessage string
	}{
		{
			name:       "top level comment",
			request:    createCommentRequest{Text: "Try annual plans"},
			post:       published,
			expectCode: http.StatusCreated,
		},
		{
			name:       "reply on the same post",
			request:    createCommentRequest{Text: "Agreed", ReplyToId: "parent-id"},
			post:       published,
			targetPost: "post-id",
			expectCode: http.StatusCreated,
		},
		{
			name:          "reply to a comment on another post",
			request:       createCommentRequest{Text: "Agreed", ReplyToId: "parent-id"},
			post:          published,
			targetPost:    "other-post",
			expectCode:    http.StatusBadRequest,
			expectMessage: "Reply target not found on this post",
		},
		{
			name:          "reply to a missing comment",
			request:       createCommentRequest{Text: "Agreed", ReplyToId: "parent-id"},
			post:          published,
			expectCode:    http.StatusBadRequest,
			expectMessage: "Reply target not found on this post",
		},
		{
			name:          "post not found",
			request:       createCommentRequest{Text: "hello"},
			postErr:       apperror.New(http.StatusNotFound, "Post not found", sql.ErrNoRows),
			expectCode:    http.StatusNotFound,
			expectMessage: "Post not found",
		},
		{
			name:          "blank text",
			request:       createCommentRequest{Text: "   "},
			post:          published,
			expectCode:    http.StatusBadRequest,
			expectMessage: apperror.VALIDATION_ERROR,
		},
		{
			name:          "private community free author",
			request:       createCommentRequest{Text: "hello"},
			post:          postRef{id: "post-id", status: "published", communityPrivate: true},
			expectCode:    http.StatusForbidden,
			expectMessage: "This community is private",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockRepository)
			service := NewService(repo, apperror.NewValidator(), nil)
			tt.request.authorId = "author-id"
			tt.request.postId = "post-id"

			repo.On("findPost", mock.Anything, "post-id").Return(tt.post, tt.postErr)
			repo.On("userType", mock.Anything, "author-id").Return(user.TYPE_FREE, nil)
			repo.On("replyTargetPost", mock.Anything, "parent-id").Return(tt.targetPost, nil)
			repo.On("create", mock.Anything, mock.Anything).Return(func(data comment) commentWithAuthor {
				return commentWithAuthor{
					comment:    data,
					username:   sql.NullString{String: "founder", Valid: true},
					authorType: user.TYPE_FREE,
				}
			}, nil)

			resp, err := service.create(context.Background(), tt.request)
			assert.Equal(t, tt.expectCode, resp.Code)
			if tt.expectCode != http.StatusCreated {
				assert.Error(t, err)
				assert.Equal(t, tt.expectMessage, resp.Error.Message)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "founder", resp.Data.Comment.Author.Username)
			assert.Equal(t, tt.request.ReplyToId, resp.Data.Comment.ReplyToId)
			assert.NotEmpty(t, resp.Data.Comment.Id)
		})
	}
}

func TestServiceImpl_listTopLevel(t *testing.T) {
	repo := new(mockRepository)
	service := NewService(repo, apperror.NewValidator(), nil)
	repo.On("findPost", mock.Anything, "post-id").Return(postRef{id: "post-id", status: "published"}, nil)
	repo.On("findPost", mock.Anything, "hidden").Return(postRef{id: "hidden", status: "take_down"}, nil)
	repo.On("listTopLevel", mock.Anything, "post-id").Return([]commentWithAuthor{
		{
			comment:    comment{id: "newest", text: "second", postId: "post-id", authorId: "a", createdAt: 20},
			username:   sql.NullString{String: "alice", Valid: true},
			authorType: user.TYPE_PAID,
			replyCount: 2,
		},
		{
			comment:    comment{id: "oldest", text: "first", postId: "post-id", authorId: "b", createdAt: 10},
			authorType: user.TYPE_FREE,
		},
	}, nil)

	resp, err := service.listTopLevel(context.Background(), "post-id", "")
	require.NoError(t, err)
	require.Len(t, resp.Data.Comments, 2)
	assert.Equal(t, "newest", resp.Data.Comments[0].Id)
	assert.Equal(t, user.TYPE_PAID, resp.Data.Comments[0].Author.UserType)
	assert.Equal(t, 2, resp.Data.Comments[0].ReplyCount)
	assert.Empty(t, resp.Data.Comments[1].Author.Username)

	resp, err = service.listTopLevel(context.Background(), "hidden", "")
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
