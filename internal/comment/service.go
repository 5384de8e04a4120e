package comment

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
	findPost(context.Context, string) (postRef, error)
	replyTargetPost(context.Context, string) (string, error)
	create(context.Context, comment) (commentWithAuthor, error)
	listTopLevel(context.Context, string) ([]commentWithAuthor, error)
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

type createCommentRequest struct {
	authorId  string
	postId    string
	Text      string `json:"text" validate:"required,max=5000"`
	ReplyToId string `json:"reply_to_id"`
}

type commentAuthor struct {
	Id       string `json:"id"`
	Username string `json:"username,omitempty"`
	UserType string `json:"user_type"`
}

type commentDetail struct {
	Id         string        `json:"id"`
	Text       string        `json:"text"`
	PostId     string        `json:"post_id"`
	ReplyToId  string        `json:"reply_to_id,omitempty"`
	Author     commentAuthor `json:"author"`
	ReplyCount int           `json:"reply_count"`
	CreatedAt  int64         `json:"created_at"`
}

type commentResponse struct {
	Comment commentDetail `json:"comment"`
}

type commentsResponse struct {
	Comments []commentDetail `json:"comments"`
}

func toDetail(c commentWithAuthor) commentDetail {
	return commentDetail{
		Id:        c.id,
		Text:      c.text,
		PostId:    c.postId,
		ReplyToId: c.replyToId.String,
		Author: commentAuthor{
			Id:       c.authorId,
			Username: c.username.String,
			UserType: c.authorType,
		},
		ReplyCount: c.replyCount,
		CreatedAt:  c.createdAt,
	}
}

// visiblePost loads a published post and applies the private community rule.
func (service *serviceImpl) visiblePost(ctx context.Context, postId, viewerId string) (postRef, error) {
	p, err := service.repo.findPost(ctx, postId)
	if err != nil {
		return postRef{}, err
	}
	if p.status != "published" {
		return postRef{}, apperror.New(http.StatusNotFound, "Post not found", nil)
	}
	if !p.communityPrivate {
		return p, nil
	}
	if viewerId == "" {
		return postRef{}, apperror.New(http.StatusForbidden, "This community is private", nil)
	}
	userType, err := service.repo.userType(ctx, viewerId)
	if err != nil {
		return postRef{}, err
	}
	if !user.IsPremium(userType) {
		return postRef{}, apperror.New(http.StatusForbidden, "This community is private", nil)
	}
	return p, nil
}

func (service *serviceImpl) create(ctx context.Context, data createCommentRequest) (schema.Response[commentResponse], error) {
	data.Text = strings.TrimSpace(data.Text)
	data.ReplyToId = strings.TrimSpace(data.ReplyToId)
	if err := service.v.Struct(data); err != nil {
		return apperror.ValidationResponse[commentResponse](err, http.StatusBadRequest),
			fmt.Errorf("service: create comment validation error %w", err)
	}
	p, err := service.visiblePost(ctx, data.postId, data.authorId)
	if err != nil {
		return apperror.Response[commentResponse](err, ""), err
	}
	if data.ReplyToId != "" {
		targetPost, err := service.repo.replyTargetPost(ctx, data.ReplyToId)
		if err != nil {
			return apperror.Response[commentResponse](err, ""), err
		}
		if targetPost != p.id {
			return apperror.Fail[commentResponse](http.StatusBadRequest, "Reply target not found on this post"),
				errors.New("service: reply target belongs to another post")
		}
	}

	commentId, err := uuid.NewV7()
	if err != nil {
		return apperror.Fail[commentResponse](http.StatusInternalServerError, apperror.INTERNAL_ERROR),
			fmt.Errorf("service: fail to generate comment uuid %w", err)
	}
	created, err := service.repo.create(ctx, comment{
		id:        commentId.String(),
		text:      data.Text,
		postId:    p.id,
		authorId:  data.authorId,
		replyToId: sql.NullString{String: data.ReplyToId, Valid: data.ReplyToId != ""},
		createdAt: time.Now().Unix(),
	})
	if err != nil {
		return apperror.Response[commentResponse](err, "fail to create new comment, please try again later"), err
	}
	service.metrics.Event(metrics.EVENT_COMMENT_CREATED)

	return schema.Response[commentResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusCreated,
		Data:   commentResponse{Comment: toDetail(created)},
	}, nil
}

func (service *serviceImpl) listTopLevel(ctx context.Context, postId, viewerId string) (schema.Response[commentsResponse], error) {
	p, err := service.visiblePost(ctx, postId, viewerId)
	if err != nil {
		return apperror.Response[commentsResponse](err, ""), err
	}
	comments, err := service.repo.listTopLevel(ctx, p.id)
	if err != nil {
		return apperror.Response[commentsResponse](err, ""), err
	}
	details := make([]commentDetail, 0, len(comments))
	for _, c := range comments {
		details = append(details, toDetail(c))
	}
	return schema.Response[commentsResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   commentsResponse{Comments: details},
	}, nil
}
