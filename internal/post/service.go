package post

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/cache"
	"github.com/zulfikarrosadi/opentrellis/internal/community"
	"github.com/zulfikarrosadi/opentrellis/internal/metrics"
	"github.com/zulfikarrosadi/opentrellis/internal/poll"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type repository interface {
	userType(context.Context, string) (string, error)
	findCommunity(context.Context, string) (communityRef, error)
	isSubscribed(context.Context, string, string) (bool, error)
	create(context.Context, post, *newPoll) error
	findRef(context.Context, string) (postRef, error)
	findDetail(context.Context, string, string) (postDetail, error)
	feed(context.Context, string, schema.Page) ([]feedItem, error)
	vote(context.Context, string, string, string, int64) (int, error)
	commentAuthor(context.Context, string, string) (sql.NullString, error)
	solve(context.Context, solution) error
	unsolve(context.Context, string, int64) error
	takeDown(context.Context, string, int64) error
	leaderboard(context.Context, string) (leaderboard, error)
}

// pollReader is satisfied by poll.RepositoryImpl.
type pollReader interface {
	ResultsByPost(ctx context.Context, postId, viewerId string) (*poll.Results, error)
}

const (
	LEADERBOARD_CACHE_KEY = "leaderboard"
	LEADERBOARD_CACHE_TTL = 5 * time.Minute
	MIN_POLL_OPTIONS      = 2
)

type ServiceImpl struct {
	repo         repository
	polls        pollReader
	v            *validator.Validate
	cache        cache.Cache
	logger       *slog.Logger
	metrics      *metrics.Metrics
	generalForum string
}

func NewService(
	repo repository,
	polls pollReader,
	v *validator.Validate,
	c cache.Cache,
	logger *slog.Logger,
	m *metrics.Metrics,
	generalForum string,
) *ServiceImpl {
	return &ServiceImpl{
		repo:         repo,
		polls:        polls,
		v:            v,
		cache:        c,
		logger:       logger,
		metrics:      m,
		generalForum: generalForum,
	}
}

type createPostRequest struct {
	authorId      string
	Title         string          `json:"title" validate:"required,min=3,max=128"`
	Content       json.RawMessage `json:"content"`
	CommunityId   string          `json:"community_id" validate:"required"`
	Category      string          `json:"category" validate:"omitempty,oneof=BUG_TECH MARKETING OPERATIONS LEGAL FUNDING HIRING OTHER"`
	BusinessStage string          `json:"business_stage" validate:"omitempty,oneof=IDEA MVP REVENUE SCALING"`
	PollQuestion  string          `json:"poll_question" validate:"max=255"`
	PollOptions   []string        `json:"poll_options" validate:"max=10,dive,max=255"`
	PollEndsAt    *int64          `json:"poll_ends_at"`
}

type voteRequest struct {
	userId string
	postId string
	Type   string `json:"type" validate:"required,oneof=UP DOWN"`
}

type solveRequest struct {
	userId           string
	postId           string
	SolvingCommentId string `json:"solving_comment_id"`
	SolutionSummary  string `json:"solution_summary" validate:"max=2000"`
}

type author struct {
	Id       string `json:"id"`
	Username string `json:"username,omitempty"`
	UserType string `json:"user_type"`
}

type communitySummary struct {
	Id        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private,omitempty"`
}

type postDetailResponse struct {
	Id               string           `json:"id"`
	Title            string           `json:"title"`
	Content          json.RawMessage  `json:"content,omitempty"`
	Author           author           `json:"author"`
	Community        communitySummary `json:"community"`
	Category         string           `json:"category,omitempty"`
	BusinessStage    string           `json:"business_stage,omitempty"`
	IsSolved         bool             `json:"is_solved"`
	SolvedAt         *int64           `json:"solved_at,omitempty"`
	SolvedById       string           `json:"solved_by_id,omitempty"`
	SolvingCommentId string           `json:"solving_comment_id,omitempty"`
	SolutionSummary  string           `json:"solution_summary,omitempty"`
	Score            int              `json:"score"`
	ViewerVote       string           `json:"viewer_vote,omitempty"`
	CommentCount     int              `json:"comment_count"`
	Poll             *poll.Results    `json:"poll,omitempty"`
	CreatedAt        int64            `json:"created_at"`
	UpdatedAt        *int64           `json:"updated_at,omitempty"`
}

type postResponse struct {
	Post postDetailResponse `json:"post"`
}

type feedPost struct {
	Id           string           `json:"id"`
	Title        string           `json:"title"`
	Author       author           `json:"author"`
	Community    communitySummary `json:"community"`
	Category     string           `json:"category,omitempty"`
	IsSolved     bool             `json:"is_solved"`
	Score        int              `json:"score"`
	CommentCount int              `json:"comment_count"`
	CreatedAt    int64            `json:"created_at"`
}

type feedResponse struct {
	Posts []feedPost  `json:"posts"`
	Page  schema.Page `json:"page"`
}

type voteResponse struct {
	PostId string `json:"post_id"`
	Score  int    `json:"score"`
}

type leaderResponse struct {
	UserId      string `json:"user_id"`
	Username    string `json:"username,omitempty"`
	SolvedCount int    `json:"solved_count"`
}

type leaderboardResponse struct {
	Leaders  []leaderResponse `json:"leaders"`
	Solved   int              `json:"solved"`
	Unsolved int              `json:"unsolved"`
}

func nullInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// canSee applies the private community rule. Anonymous viewers are never premium.
func (service *ServiceImpl) canSee(ctx context.Context, communityPrivate bool, viewerId string) error {
	if !communityPrivate {
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

// pollOptions trims every option and drops the blank ones.
func pollOptions(options []string) []string {
	kept := []string{}
	for _, option := range options {
		if option = strings.TrimSpace(option); option != "" {
			kept = append(kept, option)
		}
	}
	return kept
}

func (service *ServiceImpl) createForumPost(ctx context.Context, data createPostRequest) (schema.Response[postResponse], error) {
	data.Title = strings.TrimSpace(data.Title)
	if err := service.v.Struct(data); err != nil {
		return apperror.ValidationResponse[postResponse](err, http.StatusBadRequest),
			fmt.Errorf("service: create post validation error %w", err)
	}
	if len(data.Content) > 0 && !json.Valid(data.Content) {
		return apperror.Fail[postResponse](http.StatusBadRequest, "Content must be a valid JSON document"),
			errors.New("service: post content is not valid json")
	}

	target, err := service.repo.findCommunity(ctx, data.CommunityId)
	if err != nil {
		return apperror.Response[postResponse](err, ""), err
	}
	if target.name != service.generalForum {
		subscribed, err := service.repo.isSubscribed(ctx, data.authorId, target.id)
		if err != nil {
			return apperror.Response[postResponse](err, ""), err
		}
		if !subscribed {
			return apperror.Fail[postResponse](http.StatusForbidden, "Subscribe to post"),
				errors.New("service: post by non subscriber")
		}
	}

	postId, err := uuid.NewV7()
	if err != nil {
		return apperror.Fail[postResponse](http.StatusInternalServerError, apperror.INTERNAL_ERROR),
			fmt.Errorf("service: fail to generate post uuid %w", err)
	}
	now := time.Now().Unix()
	newPost := post{
		id:            postId.String(),
		title:         data.Title,
		content:       data.Content,
		authorId:      data.authorId,
		communityId:   target.id,
		category:      nullString(data.Category),
		businessStage: nullString(data.BusinessStage),
		createdAt:     now,
	}

	var p *newPoll
	question := strings.TrimSpace(data.PollQuestion)
	options := pollOptions(data.PollOptions)
	if question != "" && len(options) >= MIN_POLL_OPTIONS {
		pollId, err := uuid.NewV7()
		if err != nil {
			return apperror.Fail[postResponse](http.StatusInternalServerError, apperror.INTERNAL_ERROR),
				fmt.Errorf("service: fail to generate poll uuid %w", err)
		}
		p = &newPoll{
			id:        pollId.String(),
			question:  question,
			createdAt: now,
		}
		if data.PollEndsAt != nil {
			p.endsAt = sql.NullInt64{Int64: *data.PollEndsAt, Valid: true}
		}
		for _, text := range options {
			optionId, err := uuid.NewV7()
			if err != nil {
				return apperror.Fail[postResponse](http.StatusInternalServerError, apperror.INTERNAL_ERROR),
					fmt.Errorf("service: fail to generate poll option uuid %w", err)
			}
			p.options = append(p.options, pollOption{id: optionId.String(), text: text})
		}
	}

	if err := service.repo.create(ctx, newPost, p); err != nil {
		return apperror.Response[postResponse](err, "failed to create new post, enter correct information and try again"), err
	}
	service.metrics.Event(metrics.EVENT_POST_CREATED)
	if err := community.InvalidateListing(ctx, service.cache); err != nil {
		service.logger.WarnContext(ctx, "CACHE_INVALIDATE_FAILED", slog.String("key", "communities"), slog.String("error", err.Error()))
	}

	return service.get(ctx, newPost.id, data.authorId, http.StatusCreated)
}

// get returns the post detail. code is the success status to report.
func (service *ServiceImpl) get(ctx context.Context, postId, viewerId string, code int) (schema.Response[postResponse], error) {
	p, err := service.repo.findDetail(ctx, postId, viewerId)
	if err != nil {
		return apperror.Response[postResponse](err, ""), err
	}
	if p.status == POST_STATUS_TAKE_DOWN {
		return apperror.Fail[postResponse](http.StatusNotFound, "Post not found"),
			fmt.Errorf("service: post %s was taken down", postId)
	}
	if err := service.canSee(ctx, p.communityPrivate, viewerId); err != nil {
		return apperror.Response[postResponse](err, ""), err
	}
	results, err := service.polls.ResultsByPost(ctx, p.id, viewerId)
	if err != nil {
		return apperror.Response[postResponse](err, ""), err
	}

	detail := postDetailResponse{
		Id:      p.id,
		Title:   p.title,
		Content: json.RawMessage(p.content),
		Author: author{
			Id:       p.authorId,
			Username: p.authorUsername.String,
			UserType: p.authorType,
		},
		Community: communitySummary{
			Id:        p.communityId,
			Name:      p.communityName,
			IsPrivate: p.communityPrivate,
		},
		Category:         p.category.String,
		BusinessStage:    p.businessStage.String,
		IsSolved:         p.isSolved,
		SolvedAt:         nullInt64Ptr(p.solvedAt),
		SolvedById:       p.solvedById.String,
		SolvingCommentId: p.solvingCommentId.String,
		SolutionSummary:  p.solutionSummary.String,
		Score:            p.score,
		ViewerVote:       p.viewerVote.String,
		CommentCount:     p.commentCount,
		Poll:             results,
		CreatedAt:        p.createdAt,
		UpdatedAt:        nullInt64Ptr(p.updatedAt),
	}
	return schema.Response[postResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   code,
		Data:   postResponse{Post: detail},
	}, nil
}

func (service *ServiceImpl) feed(ctx context.Context, viewerId string, page schema.Page) (schema.Response[feedResponse], error) {
	items, err := service.repo.feed(ctx, viewerId, page)
	if err != nil {
		return apperror.Response[feedResponse](err, ""), err
	}
	posts := make([]feedPost, 0, len(items))
	for _, item := range items {
		posts = append(posts, feedPost{
			Id:    item.id,
			Title: item.title,
			Author: author{
				Id:       item.authorId,
				Username: item.authorUsername.String,
				UserType: item.authorType,
			},
			Community: communitySummary{
				Id:   item.communityId,
				Name: item.communityName,
			},
			Category:     item.category.String,
			IsSolved:     item.isSolved,
			Score:        item.score,
			CommentCount: item.commentCount,
			CreatedAt:    item.createdAt,
		})
	}
	return schema.Response[feedResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data: feedResponse{
			Posts: posts,
			Page:  page,
		},
	}, nil
}

func (service *ServiceImpl) vote(ctx context.Context, data voteRequest) (schema.Response[voteResponse], error) {
	if err := service.v.Struct(data); err != nil {
		return apperror.ValidationResponse[voteResponse](err, http.StatusBadRequest),
			fmt.Errorf("service: post vote validation error %w", err)
	}
	ref, err := service.repo.findRef(ctx, data.postId)
	if err != nil {
		return apperror.Response[voteResponse](err, ""), err
	}
	if ref.status == POST_STATUS_TAKE_DOWN {
		return apperror.Fail[voteResponse](http.StatusNotFound, "Post not found"),
			fmt.Errorf("service: vote on taken down post %s", data.postId)
	}
	if err := service.canSee(ctx, ref.communityPrivate, data.userId); err != nil {
		return apperror.Response[voteResponse](err, ""), err
	}
	score, err := service.repo.vote(ctx, data.userId, ref.id, data.Type, time.Now().Unix())
	if err != nil {
		return apperror.Response[voteResponse](err, ""), err
	}
	return schema.Response[voteResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   voteResponse{PostId: ref.id, Score: score},
	}, nil
}

// authorRef loads the post and makes sure userId wrote it.
func (service *ServiceImpl) authorRef(ctx context.Context, postId, userId string) (postRef, error) {
	ref, err := service.repo.findRef(ctx, postId)
	if err != nil {
		return postRef{}, err
	}
	if ref.authorId != userId {
		return postRef{}, apperror.New(http.StatusForbidden, "Only the author can change the solved state", nil)
	}
	return ref, nil
}

func (service *ServiceImpl) invalidateLeaderboard(ctx context.Context) {
	if err := service.cache.Delete(ctx, LEADERBOARD_CACHE_KEY); err != nil {
		service.logger.WarnContext(ctx, "CACHE_INVALIDATE_FAILED", slog.String("key", LEADERBOARD_CACHE_KEY), slog.String("error", err.Error()))
	}
}

// solve marks the post solved. A solving comment that is not on the post is
// ignored rather than rejected.
func (service *ServiceImpl) solve(ctx context.Context, data solveRequest) (schema.Response[postResponse], error) {
	if err := service.v.Struct(data); err != nil {
		return apperror.ValidationResponse[postResponse](err, http.StatusBadRequest),
			fmt.Errorf("service: solve post validation error %w", err)
	}
	ref, err := service.authorRef(ctx, data.postId, data.userId)
	if err != nil {
		return apperror.Response[postResponse](err, ""), err
	}

	s := solution{
		postId:          ref.id,
		solutionSummary: nullString(strings.TrimSpace(data.SolutionSummary)),
		solvedAt:        time.Now().Unix(),
	}
	if commentId := strings.TrimSpace(data.SolvingCommentId); commentId != "" {
		solvedBy, err := service.repo.commentAuthor(ctx, commentId, ref.id)
		if err != nil {
			return apperror.Response[postResponse](err, ""), err
		}
		if solvedBy.Valid {
			s.solvedById = solvedBy
			s.solvingCommentId = nullString(commentId)
		}
	}
	if err := service.repo.solve(ctx, s); err != nil {
		return apperror.Response[postResponse](err, ""), err
	}
	service.invalidateLeaderboard(ctx)
	service.metrics.Event(metrics.EVENT_POST_SOLVED)

	return service.get(ctx, ref.id, data.userId, http.StatusOK)
}

func (service *ServiceImpl) unsolve(ctx context.Context, postId, userId string) (schema.Response[postResponse], error) {
	ref, err := service.authorRef(ctx, postId, userId)
	if err != nil {
		return apperror.Response[postResponse](err, ""), err
	}
	if err := service.repo.unsolve(ctx, ref.id, time.Now().Unix()); err != nil {
		return apperror.Response[postResponse](err, ""), err
	}
	service.invalidateLeaderboard(ctx)

	return service.get(ctx, ref.id, userId, http.StatusOK)
}

func (service *ServiceImpl) takeDown(ctx context.Context, postId string) (schema.Response[voteResponse], error) {
	if err := service.repo.takeDown(ctx, postId, time.Now().Unix()); err != nil {
		return apperror.Response[voteResponse](err, ""), err
	}
	service.invalidateLeaderboard(ctx)
	return schema.Response[voteResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   voteResponse{PostId: postId},
	}, nil
}

func (service *ServiceImpl) leaderboard(ctx context.Context) (schema.Response[leaderboardResponse], error) {
	cached := leaderboardResponse{}
	found, err := service.cache.Get(ctx, LEADERBOARD_CACHE_KEY, &cached)
	if err != nil {
		service.logger.WarnContext(ctx, "CACHE_READ_FAILED", slog.String("key", LEADERBOARD_CACHE_KEY), slog.String("error", err.Error()))
	}
	if found {
		return schema.Response[leaderboardResponse]{
			Status: schema.STATUS_SUCCESS,
			Code:   http.StatusOK,
			Data:   cached,
		}, nil
	}

	board, err := service.repo.leaderboard(ctx, service.generalForum)
	if err != nil {
		return apperror.Response[leaderboardResponse](err, ""), err
	}
	response := leaderboardResponse{
		Leaders:  make([]leaderResponse, 0, len(board.leaders)),
		Solved:   board.solved,
		Unsolved: board.unsolved,
	}
	for _, l := range board.leaders {
		response.Leaders = append(response.Leaders, leaderResponse{
			UserId:      l.userId,
			Username:    l.username.String,
			SolvedCount: l.solvedCount,
		})
	}
	if err := service.cache.Set(ctx, LEADERBOARD_CACHE_KEY, response, LEADERBOARD_CACHE_TTL); err != nil {
		service.logger.WarnContext(ctx, "CACHE_WRITE_FAILED", slog.String("key", LEADERBOARD_CACHE_KEY), slog.String("error", err.Error()))
	}
	return schema.Response[leaderboardResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   response,
	}, nil
}
