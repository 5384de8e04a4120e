package community

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/cache"
	imagehelper "github.com/zulfikarrosadi/opentrellis/internal/image-helper"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type repository interface {
	userType(context.Context, string) (string, error)
	create(context.Context, community) (community, error)
	findById(context.Context, string) (community, error)
	findByName(context.Context, string) (community, error)
	setPrivacy(context.Context, string, bool, int64) error
	updateIcon(context.Context, string, string, int64) error
	search(context.Context, string, bool, int) ([]community, error)
	listPosts(context.Context, string, schema.Page) ([]postSummary, error)
	isSubscribed(context.Context, string, string) (bool, error)
	subscribe(context.Context, string, string, int64) error
	unsubscribe(context.Context, string, string) error
	subscribeByName(context.Context, string, string, int64) (bool, error)
}

const (
	SEARCH_LIMIT       = 5
	SEARCH_CACHE_TTL   = time.Minute
	ICON_FOLDER        = "community-icons"
	CACHE_KEY_ALL_FREE = "communities:all:free"
	CACHE_KEY_ALL_PAID = "communities:all:premium"
)

type ServiceImpl struct {
	repo             repository
	v                *validator.Validate
	uploader         imagehelper.Uploader
	cache            cache.Cache
	logger           *slog.Logger
	defaultCommunity string
}

func NewService(
	repo repository,
	v *validator.Validate,
	uploader imagehelper.Uploader,
	c cache.Cache,
	logger *slog.Logger,
	defaultCommunity string,
) *ServiceImpl {
	return &ServiceImpl{
		repo:             repo,
		v:                v,
		uploader:         uploader,
		cache:            c,
		logger:           logger,
		defaultCommunity: defaultCommunity,
	}
}

type createCommunityRequest struct {
	userId    string
	Name      string `json:"name" validate:"required,min=3,max=21,communityname"`
	IsPrivate bool   `json:"is_private"`
}

type setPrivacyRequest struct {
	userId      string
	communityId string
	IsPrivate   *bool `json:"is_private" validate:"required"`
}

type uploadIconRequest struct {
	userId      string
	communityId string
	icon        *multipart.FileHeader
}

type communityDetail struct {
	Id              string `json:"id"`
	Name            string `json:"name"`
	CreatorId       string `json:"creator_id,omitempty"`
	IsPrivate       bool   `json:"is_private"`
	Icon            string `json:"icon,omitempty"`
	SubscriberCount int    `json:"subscriber_count"`
	PostCount       int    `json:"post_count"`
	IsSubscribed    bool   `json:"is_subscribed"`
	CreatedAt       int64  `json:"created_at"`
}

type postItem struct {
	Id           string `json:"id"`
	Title        string `json:"title"`
	AuthorId     string `json:"author_id"`
	Username     string `json:"username,omitempty"`
	UserType     string `json:"user_type"`
	Category     string `json:"category,omitempty"`
	IsSolved     bool   `json:"is_solved"`
	Score        int    `json:"score"`
	CommentCount int    `json:"comment_count"`
	CreatedAt    int64  `json:"created_at"`
}

type communityResponse struct {
	Community communityDetail `json:"community"`
}

type communitiesResponse struct {
	Communities []communityDetail `json:"communities"`
}

type communityPageResponse struct {
	Community communityDetail `json:"community"`
	Posts     []postItem      `json:"posts"`
	Page      schema.Page     `json:"page"`
}

type subscriptionResponse struct {
	Subscribed bool   `json:"subscribed"`
	Message    string `json:"message,omitempty"`
}

func toDetail(c community) communityDetail {
	return communityDetail{
		Id:              c.id,
		Name:            c.name,
		CreatorId:       c.creatorId.String,
		IsPrivate:       c.isPrivate,
		Icon:            c.icon.String,
		SubscriberCount: c.subscriberCount,
		PostCount:       c.postCount,
		CreatedAt:       c.createdAt,
	}
}

// isPremium reads the stored tier. Anonymous viewers are never premium.
func (service *ServiceImpl) isPremium(ctx context.Context, userId string) (bool, error) {
	if userId == "" {
		return false, nil
	}
	userType, err := service.repo.userType(ctx, userId)
	if err != nil {
		return false, err
	}
	return user.IsPremium(userType), nil
}

// InvalidateListing drops the cached community listings. Anything that
// changes subscriber or post counts calls it.
func InvalidateListing(ctx context.Context, c cache.Cache) error {
	return c.Delete(ctx, CACHE_KEY_ALL_FREE, CACHE_KEY_ALL_PAID)
}

func (service *ServiceImpl) invalidateListing(ctx context.Context) {
	if err := InvalidateListing(ctx, service.cache); err != nil {
		service.logger.WarnContext(ctx, "CACHE_INVALIDATE_FAILED", slog.String("error", err.Error()))
	}
}

func (service *ServiceImpl) create(ctx context.Context, data createCommunityRequest) (schema.Response[communityResponse], error) {
	data.Name = strings.TrimSpace(data.Name)
	if err := service.v.Struct(data); err != nil {
		return apperror.ValidationResponse[communityResponse](err, http.StatusBadRequest),
			fmt.Errorf("service: create community validation error %w", err)
	}
	premium, err := service.isPremium(ctx, data.userId)
	if err != nil {
		return apperror.Response[communityResponse](err, ""), err
	}
	communityId, err := uuid.NewV7()
	if err != nil {
		return apperror.Fail[communityResponse](http.StatusInternalServerError, apperror.INTERNAL_ERROR),
			fmt.Errorf("service: fail to generate community uuid v7 %w", err)
	}

	now := time.Now().Unix()
	created, err := service.repo.create(ctx, community{
		id:        communityId.String(),
		name:      data.Name,
		creatorId: sql.NullString{String: data.userId, Valid: true},
		// only paying members can create private communities
		isPrivate: data.IsPrivate && premium,
		createdAt: now,
		updatedAt: now,
	})
	if err != nil {
		return apperror.Response[communityResponse](err, "fail to create new community, please try again later"), err
	}
	service.invalidateListing(ctx)

	detail := toDetail(created)
	detail.IsSubscribed = true
	return schema.Response[communityResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusCreated,
		Data:   communityResponse{Community: detail},
	}, nil
}

func (service *ServiceImpl) setPrivacy(ctx context.Context, data setPrivacyRequest) (schema.Response[communityResponse], error) {
	if err := service.v.Struct(data); err != nil {
		return apperror.ValidationResponse[communityResponse](err, http.StatusBadRequest),
			fmt.Errorf("service: set privacy validation error %w", err)
	}
	premium, err := service.isPremium(ctx, data.userId)
	if err != nil {
		return apperror.Response[communityResponse](err, ""), err
	}
	if !premium {
		return apperror.Fail[communityResponse](http.StatusForbidden, "Only paid members can change community privacy"),
			errors.New("service: set privacy by free user")
	}
	c, err := service.repo.findById(ctx, data.communityId)
	if err != nil {
		return apperror.Response[communityResponse](err, ""), err
	}
	if c.creatorId.String != data.userId {
		return apperror.Fail[communityResponse](http.StatusForbidden, "Only the creator can change community privacy"),
			errors.New("service: set privacy by non creator")
	}
	now := time.Now().Unix()
	if err := service.repo.setPrivacy(ctx, c.id, *data.IsPrivate, now); err != nil {
		return apperror.Response[communityResponse](err, ""), err
	}
	service.invalidateListing(ctx)

	c.isPrivate = *data.IsPrivate
	c.updatedAt = now
	detail := toDetail(c)
	detail.IsSubscribed = true
	return schema.Response[communityResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   communityResponse{Community: detail},
	}, nil
}

// search returns every visible community for an empty query, otherwise at most
// SEARCH_LIMIT name matches. The full listing is cached per visibility tier.
func (service *ServiceImpl) search(ctx context.Context, q, viewerId string) (schema.Response[communitiesResponse], error) {
	q = strings.TrimSpace(q)
	premium, err := service.isPremium(ctx, viewerId)
	if err != nil {
		return apperror.Response[communitiesResponse](err, ""), err
	}

	cacheKey := CACHE_KEY_ALL_FREE
	if premium {
		cacheKey = CACHE_KEY_ALL_PAID
	}
	details := []communityDetail{}
	if q == "" {
		found, err := service.cache.Get(ctx, cacheKey, &details)
		if err != nil {
			service.logger.WarnContext(ctx, "CACHE_READ_FAILED", slog.String("key", cacheKey), slog.String("error", err.Error()))
		}
		if found {
			return schema.Response[communitiesResponse]{
				Status: schema.STATUS_SUCCESS,
				Code:   http.StatusOK,
				Data:   communitiesResponse{Communities: details},
			}, nil
		}
	}

	limit := SEARCH_LIMIT
	if q == "" {
		limit = 0
	}
	communities, err := service.repo.search(ctx, q, premium, limit)
	if err != nil {
		return apperror.Response[communitiesResponse](err, ""), err
	}
	for _, c := range communities {
		details = append(details, toDetail(c))
	}
	if q == "" {
		if err := service.cache.Set(ctx, cacheKey, details, SEARCH_CACHE_TTL); err != nil {
			service.logger.WarnContext(ctx, "CACHE_WRITE_FAILED", slog.String("key", cacheKey), slog.String("error", err.Error()))
		}
	}
	return schema.Response[communitiesResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   communitiesResponse{Communities: details},
	}, nil
}

func (service *ServiceImpl) get(ctx context.Context, name, viewerId string, page schema.Page) (schema.Response[communityPageResponse], error) {
	c, err := service.repo.findByName(ctx, name)
	if err != nil {
		return apperror.Response[communityPageResponse](err, ""), err
	}
	if c.isPrivate {
		premium, err := service.isPremium(ctx, viewerId)
		if err != nil {
			return apperror.Response[communityPageResponse](err, ""), err
		}
		if !premium {
			return apperror.Fail[communityPageResponse](http.StatusForbidden, "This community is private"),
				errors.New("service: private community requested by free viewer")
		}
	}
	detail := toDetail(c)
	if viewerId != "" {
		subscribed, err := service.repo.isSubscribed(ctx, viewerId, c.id)
		if err != nil {
			return apperror.Response[communityPageResponse](err, ""), err
		}
		detail.IsSubscribed = subscribed
	}
	posts, err := service.repo.listPosts(ctx, c.id, page)
	if err != nil {
		return apperror.Response[communityPageResponse](err, ""), err
	}
	items := make([]postItem, 0, len(posts))
	for _, p := range posts {
		items = append(items, postItem{
			Id:           p.id,
			Title:        p.title,
			AuthorId:     p.authorId,
			Username:     p.authorUsername.String,
			UserType:     p.authorType,
			Category:     p.category.String,
			IsSolved:     p.isSolved,
			Score:        p.score,
			CommentCount: p.commentCount,
			CreatedAt:    p.createdAt,
		})
	}
	return schema.Response[communityPageResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data: communityPageResponse{
			Community: detail,
			Posts:     items,
			Page:      page,
		},
	}, nil
}

func (service *ServiceImpl) subscribe(ctx context.Context, userId, communityId string) (schema.Response[subscriptionResponse], error) {
	c, err := service.repo.findById(ctx, communityId)
	if err != nil {
		return apperror.Response[subscriptionResponse](err, ""), err
	}
	if c.isPrivate {
		premium, err := service.isPremium(ctx, userId)
		if err != nil {
			return apperror.Response[subscriptionResponse](err, ""), err
		}
		if !premium {
			return apperror.Fail[subscriptionResponse](http.StatusForbidden, "Upgrade to join private communities"),
				errors.New("service: free user subscribing to private community")
		}
	}
	if err := service.repo.subscribe(ctx, userId, c.id, time.Now().Unix()); err != nil {
		return apperror.Response[subscriptionResponse](err, ""), err
	}
	service.invalidateListing(ctx)
	return schema.Response[subscriptionResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusCreated,
		Data:   subscriptionResponse{Subscribed: true},
	}, nil
}

func (service *ServiceImpl) unsubscribe(ctx context.Context, userId, communityId string) (schema.Response[subscriptionResponse], error) {
	c, err := service.repo.findById(ctx, communityId)
	if err != nil {
		return apperror.Response[subscriptionResponse](err, ""), err
	}
	if c.creatorId.Valid && c.creatorId.String == userId {
		return apperror.Fail[subscriptionResponse](http.StatusBadRequest, "Creators cannot unsubscribe from their own community"),
			errors.New("service: creator unsubscribing")
	}
	if err := service.repo.unsubscribe(ctx, userId, c.id); err != nil {
		return apperror.Response[subscriptionResponse](err, ""), err
	}
	service.invalidateListing(ctx)
	return schema.Response[subscriptionResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   subscriptionResponse{Subscribed: false},
	}, nil
}

func (service *ServiceImpl) ensureDefaultSubscription(ctx context.Context, userId string) (schema.Response[subscriptionResponse], error) {
	created, err := service.repo.subscribeByName(ctx, userId, service.defaultCommunity, time.Now().Unix())
	if err != nil {
		return apperror.Response[subscriptionResponse](err, ""), err
	}
	if !created {
		return schema.Response[subscriptionResponse]{
			Status: schema.STATUS_SUCCESS,
			Code:   http.StatusOK,
			Data:   subscriptionResponse{Subscribed: true, Message: "Already subscribed"},
		}, nil
	}
	service.invalidateListing(ctx)
	return schema.Response[subscriptionResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusCreated,
		Data:   subscriptionResponse{Subscribed: true},
	}, nil
}

func (service *ServiceImpl) uploadIcon(ctx context.Context, data uploadIconRequest) (schema.Response[communityResponse], error) {
	if data.icon == nil {
		return apperror.Fail[communityResponse](http.StatusBadRequest, "Icon is required"),
			errors.New("service: icon file missing")
	}
	if data.icon.Size > imagehelper.MAX_IMAGE_SIZE {
		return apperror.Fail[communityResponse](http.StatusBadRequest, "Icon must be 2MB or smaller"),
			fmt.Errorf("service: icon too large (%d bytes)", data.icon.Size)
	}
	c, err := service.repo.findById(ctx, data.communityId)
	if err != nil {
		return apperror.Response[communityResponse](err, ""), err
	}
	if c.creatorId.String != data.userId {
		return apperror.Fail[communityResponse](http.StatusForbidden, "Only the creator can change the community icon"),
			errors.New("service: icon upload by non creator")
	}

	iconSrc, err := data.icon.Open()
	if err != nil {
		return apperror.Fail[communityResponse](http.StatusInternalServerError, "fail to update icon, failed to open icon file"),
			fmt.Errorf("service: failed to open icon file %w", err)
	}
	defer iconSrc.Close()
	if _, err := imagehelper.IsImage(iconSrc); err != nil {
		return apperror.Fail[communityResponse](http.StatusBadRequest, "unsupported icon file type. Only upload jpg or png file"),
			fmt.Errorf("service: icon not image %w", err)
	}
	url, err := service.uploader.UploadImage(ctx, iconSrc, ICON_FOLDER)
	if errors.Is(err, imagehelper.ErrUploadsDisabled) {
		return apperror.Fail[communityResponse](http.StatusServiceUnavailable, "Icon upload is not available"), err
	}
	if err != nil {
		return apperror.Fail[communityResponse](http.StatusInternalServerError, "fail to update icon, failed to upload icon file"),
			fmt.Errorf("service: failed to upload icon file %w", err)
	}
	now := time.Now().Unix()
	if err := service.repo.updateIcon(ctx, c.id, url, now); err != nil {
		return apperror.Response[communityResponse](err, ""), err
	}
	service.invalidateListing(ctx)

	c.icon = sql.NullString{String: url, Valid: true}
	return schema.Response[communityResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   communityResponse{Community: toDetail(c)},
	}, nil
}
