package post

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/cache"
	"github.com/zulfikarrosadi/opentrellis/internal/community"
	"github.com/zulfikarrosadi/opentrellis/internal/poll"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) userType(ctx context.Context, userId string) (string, error) {
	args := m.Called(ctx, userId)
	return args.String(0), args.Error(1)
}

func (m *mockRepository) findCommunity(ctx context.Context, communityId string) (communityRef, error) {
	args := m.Called(ctx, communityId)
	return args.Get(0).(communityRef), args.Error(1)
}

func (m *mockRepository) isSubscribed(ctx context.Context, userId, communityId string) (bool, error) {
	args := m.Called(ctx, userId, communityId)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) create(ctx context.Context, data post, p *newPoll) error {
	args := m.Called(ctx, data, p)
	return args.Error(0)
}

func (m *mockRepository) findRef(ctx context.Context, postId string) (postRef, error) {
	args := m.Called(ctx, postId)
	return args.Get(0).(postRef), args.Error(1)
}

func (m *mockRepository) findDetail(ctx context.Context, postId, viewerId string) (postDetail, error) {
	args := m.Called(ctx, postId, viewerId)
	return args.Get(0).(postDetail), args.Error(1)
}

func (m *mockRepository) feed(ctx context.Context, viewerId string, page schema.Page) ([]feedItem, error) {
	args := m.Called(ctx, viewerId, page)
	return args.Get(0).([]feedItem), args.Error(1)
}

func (m *mockRepository) vote(ctx context.Context, userId, postId, voteType string, createdAt int64) (int, error) {
	args := m.Called(ctx, userId, postId, voteType, createdAt)
	return args.Int(0), args.Error(1)
}

func (m *mockRepository) commentAuthor(ctx context.Context, commentId, postId string) (sql.NullString, error) {
	args := m.Called(ctx, commentId, postId)
	return args.Get(0).(sql.NullString), args.Error(1)
}

func (m *mockRepository) solve(ctx context.Context, data solution) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

func (m *mockRepository) unsolve(ctx context.Context, postId string, updatedAt int64) error {
	args := m.Called(ctx, postId, updatedAt)
	return args.Error(0)
}

func (m *mockRepository) takeDown(ctx context.Context, postId string, updatedAt int64) error {
	args := m.Called(ctx, postId, updatedAt)
	return args.Error(0)
}

func (m *mockRepository) leaderboard(ctx context.Context, generalForum string) (leaderboard, error) {
	args := m.Called(ctx, generalForum)
	return args.Get(0).(leaderboard), args.Error(1)
}

type mockPolls struct {
	mock.Mock
}

func (m *mockPolls) ResultsByPost(ctx context.Context, postId, viewerId string) (*poll.Results, error) {
	args := m.Called(ctx, postId, viewerId)
	result, _ := args.Get(0).(*poll.Results)
	return result, args.Error(1)
}

func newTestService(repo *mockRepository, polls *mockPolls) *ServiceImpl {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, polls, apperror.NewValidator(), cache.NewMemory(), logger, nil, "general-forum")
}

func publishedDetail(id string) postDetail {
	return postDetail{
		id:            id,
		title:         "How do I price my SaaS?",
		content:       []byte(`{"blocks":[]}`),
		authorId:      "author-id",
		authorType:    user.TYPE_FREE,
		communityId:   "community-id",
		communityName: "founders",
		status:        POST_STATUS_PUBLISHED,
		score:         3,
		createdAt:     100,
	}
}

func TestServiceImpl_createForumPost(t *testing.T) {
	tests := []struct {
		name          string
		request       createPostRequest
		community     communityRef
		communityErr  error
		subscribed    bool
		expectPoll    bool
		expectOptions int
		expectCode    int
		expectMessage string
	}{
		{
			name: "subscriber creates post",
			request: createPostRequest{
				Title:       "How do I price my SaaS?",
				Content:     json.RawMessage(`{"blocks":[]}`),
				CommunityId: "community-id",
				Category:    "MARKETING",
			},
			community:  communityRef{id: "community-id", name: "founders"},
			subscribed: true,
			expectCode: http.StatusCreated,
		},
		{
			name: "general forum does not require subscription",
			request: createPostRequest{
				Title:       "How do I price my SaaS?",
				CommunityId: "community-id",
			},
			community:  communityRef{id: "community-id", name: "general-forum"},
			expectCode: http.StatusCreated,
		},
		{
			name: "not subscribed",
			request: createPostRequest{
				Title:       "How do I price my SaaS?",
				CommunityId: "community-id",
			},
			community:     communityRef{id: "community-id", name: "founders"},
			expectCode:    http.StatusForbidden,
			expectMessage: "Subscribe to post",
		},
		{
			name: "community not found",
			request: createPostRequest{
				Title:       "How do I price my SaaS?",
				CommunityId: "missing",
			},
			communityErr:  apperror.New(http.StatusNotFound, "Community not found", sql.ErrNoRows),
			expectCode:    http.StatusNotFound,
			expectMessage: "Community not found",
		},
		{
			name: "title too short",
			request: createPostRequest{
				Title:       "  ab ",
				CommunityId: "community-id",
			},
			expectCode:    http.StatusBadRequest,
			expectMessage: apperror.VALIDATION_ERROR,
		},
		{
			name: "unknown category",
			request: createPostRequest{
				Title:       "How do I price my SaaS?",
				CommunityId: "community-id",
				Category:    "GAMING",
			},
			expectCode:    http.StatusBadRequest,
			expectMessage: apperror.VALIDATION_ERROR,
		},
		{
			name: "content is not json",
			request: createPostRequest{
				Title:       "How do I price my SaaS?",
				Content:     json.RawMessage(`{not json`),
				CommunityId: "community-id",
			},
			expectCode:    http.StatusBadRequest,
			expectMessage: "Content must be a valid JSON document",
		},
		{
			name: "poll with blank options trimmed",
			request: createPostRequest{
				Title:        "Which stack should I use?",
				CommunityId:  "community-id",
				PollQuestion: " Pick one ",
				PollOptions:  []string{" Go ", "", "   ", "Rust"},
			},
			community:     communityRef{id: "community-id", name: "founders"},
			subscribed:    true,
			expectPoll:    true,
			expectOptions: 2,
			expectCode:    http.StatusCreated,
		},
		{
			name: "poll skipped with a single usable option",
			request: createPostRequest{
				Title:        "Which stack should I use?",
				CommunityId:  "community-id",
				PollQuestion: "Pick one",
				PollOptions:  []string{"Go", " "},
			},
			community:  communityRef{id: "community-id", name: "founders"},
			subscribed: true,
			expectCode: http.StatusCreated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockRepository)
			polls := new(mockPolls)
			service := newTestService(repo, polls)
			tt.request.authorId = "author-id"

			repo.On("findCommunity", mock.Anything, tt.request.CommunityId).Return(tt.community, tt.communityErr)
			repo.On("isSubscribed", mock.Anything, "author-id", "community-id").Return(tt.subscribed, nil)
			repo.On("create", mock.Anything, mock.Anything, mock.Anything).Return(nil)
			repo.On("findDetail", mock.Anything, mock.Anything, "author-id").Return(publishedDetail("post-id"), nil)
			polls.On("ResultsByPost", mock.Anything, "post-id", "author-id").Return(nil, nil)
			listingKeys := []string{community.CACHE_KEY_ALL_FREE, community.CACHE_KEY_ALL_PAID}
			for _, key := range listingKeys {
				require.NoError(t, service.cache.Set(context.Background(), key, []string{"stale"}, time.Minute))
			}

			resp, err := service.createForumPost(context.Background(), tt.request)
			assert.Equal(t, tt.expectCode, resp.Code)
			if tt.expectCode != http.StatusCreated {
				assert.Error(t, err)
				assert.Equal(t, tt.expectMessage, resp.Error.Message)
				repo.AssertNotCalled(t, "create", mock.Anything, mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "post-id", resp.Data.Post.Id)
			for _, key := range listingKeys {
				found, err := service.cache.Get(context.Background(), key, &[]string{})
				require.NoError(t, err)
				assert.False(t, found, key)
			}

			var call mock.Call
			for _, c := range repo.Calls {
				if c.Method == "create" {
					call = c
				}
			}
			created := call.Arguments.Get(1).(post)
			assert.Equal(t, strings.TrimSpace(tt.request.Title), created.title)
			assert.Equal(t, "community-id", created.communityId)
			p := call.Arguments.Get(2).(*newPoll)
			if !tt.expectPoll {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, "Pick one", p.question)
			require.Len(t, p.options, tt.expectOptions)
			assert.Equal(t, "Go", p.options[0].text)
			assert.Equal(t, "Rust", p.options[1].text)
		})
	}
}

func TestServiceImpl_get(t *testing.T) {
	takenDown := publishedDetail("post-id")
	takenDown.status = POST_STATUS_TAKE_DOWN
	private := publishedDetail("post-id")
	private.communityPrivate = true

	tests := []struct {
		name       string
		detail     postDetail
		viewerId   string
		viewerType string
		expectCode int
	}{
		{name: "public post anonymous viewer", detail: publishedDetail("post-id"), expectCode: http.StatusOK},
		{name: "taken down post is hidden", detail: takenDown, expectCode: http.StatusNotFound},
		{name: "private post anonymous viewer", detail: private, expectCode: http.StatusForbidden},
		{name: "private post free viewer", detail: private, viewerId: "viewer-id", viewerType: user.TYPE_FREE, expectCode: http.StatusForbidden},
		{name: "private post mentor viewer", detail: private, viewerId: "viewer-id", viewerType: user.TYPE_MENTOR, expectCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockRepository)
			polls := new(mockPolls)
			service := newTestService(repo, polls)

			repo.On("findDetail", mock.Anything, "post-id", tt.viewerId).Return(tt.detail, nil)
			repo.On("userType", mock.Anything, "viewer-id").Return(tt.viewerType, nil)
			polls.On("ResultsByPost", mock.Anything, "post-id", tt.viewerId).Return(&poll.Results{PollId: "poll-id", TotalVotes: 2}, nil)

			resp, err := service.get(context.Background(), "post-id", tt.viewerId, http.StatusOK)
			assert.Equal(t, tt.expectCode, resp.Code)
			if tt.expectCode != http.StatusOK {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 3, resp.Data.Post.Score)
			require.NotNil(t, resp.Data.Post.Poll)
			assert.Equal(t, "poll-id", resp.Data.Post.Poll.PollId)
			assert.JSONEq(t, `{"blocks":[]}`, string(resp.Data.Post.Content))
		})
	}
}

func TestServiceImpl_feed(t *testing.T) {
	repo := new(mockRepository)
	service := newTestService(repo, new(mockPolls))
	page := schema.NewPage(2, 5)
	repo.On("feed", mock.Anything, "", page).Return([]feedItem{
		{id: "post-1", title: "first", authorId: "author-id", communityName: "founders", score: -1},
	}, nil)

	resp, err := service.feed(context.Background(), "", page)
	require.NoError(t, err)
	require.Len(t, resp.Data.Posts, 1)
	assert.Equal(t, "founders", resp.Data.Posts[0].Community.Name)
	assert.Equal(t, -1, resp.Data.Posts[0].Score)
	assert.Equal(t, page, resp.Data.Page)
}

func TestServiceImpl_vote(t *testing.T) {
	tests := []struct {
		name       string
		voteType   string
		ref        postRef
		refErr     error
		expectCode int
	}{
		{name: "upvote", voteType: VOTE_UP, ref: postRef{id: "post-id", status: POST_STATUS_PUBLISHED}, expectCode: http.StatusOK},
		{name: "invalid type", voteType: "SIDEWAYS", ref: postRef{id: "post-id"}, expectCode: http.StatusBadRequest},
		{name: "missing post", voteType: VOTE_DOWN, refErr: apperror.New(http.StatusNotFound, "Post not found", sql.ErrNoRows), expectCode: http.StatusNotFound},
		{name: "taken down post", voteType: VOTE_UP, ref: postRef{id: "post-id", status: POST_STATUS_TAKE_DOWN}, expectCode: http.StatusNotFound},
		{name: "private community free voter", voteType: VOTE_UP, ref: postRef{id: "post-id", status: POST_STATUS_PUBLISHED, communityPrivate: true}, expectCode: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockRepository)
			service := newTestService(repo, new(mockPolls))
			repo.On("findRef", mock.Anything, "post-id").Return(tt.ref, tt.refErr)
			repo.On("userType", mock.Anything, "user-id").Return(user.TYPE_FREE, nil)
			repo.On("vote", mock.Anything, "user-id", "post-id", tt.voteType, mock.Anything).Return(1, nil)

			resp, err := service.vote(context.Background(), voteRequest{userId: "user-id", postId: "post-id", Type: tt.voteType})
			assert.Equal(t, tt.expectCode, resp.Code)
			if tt.expectCode == http.StatusOK {
				require.NoError(t, err)
				assert.Equal(t, 1, resp.Data.Score)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestServiceImpl_solve(t *testing.T) {
	tests := []struct {
		name          string
		request       solveRequest
		commentAuthor sql.NullString
		expectSolver  sql.NullString
		expectComment sql.NullString
		expectCode    int
	}{
		{
			name:          "solved by comment on the post",
			request:       solveRequest{userId: "author-id", postId: "post-id", SolvingCommentId: "comment-id", SolutionSummary: "raised prices"},
			commentAuthor: sql.NullString{String: "helper-id", Valid: true},
			expectSolver:  sql.NullString{String: "helper-id", Valid: true},
			expectComment: sql.NullString{String: "comment-id", Valid: true},
			expectCode:    http.StatusOK,
		},
		{
			name:       "comment from another post is ignored",
			request:    solveRequest{userId: "author-id", postId: "post-id", SolvingCommentId: "other-comment"},
			expectCode: http.StatusOK,
		},
		{
			name:       "not the author",
			request:    solveRequest{userId: "someone-else", postId: "post-id"},
			expectCode: http.StatusForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockRepository)
			polls := new(mockPolls)
			service := newTestService(repo, polls)
			require.NoError(t, service.cache.Set(context.Background(), LEADERBOARD_CACHE_KEY, leaderboardResponse{Solved: 9}, LEADERBOARD_CACHE_TTL))

			repo.On("findRef", mock.Anything, "post-id").Return(postRef{id: "post-id", authorId: "author-id", status: POST_STATUS_PUBLISHED}, nil)
			repo.On("commentAuthor", mock.Anything, tt.request.SolvingCommentId, "post-id").Return(tt.commentAuthor, nil)
			repo.On("solve", mock.Anything, mock.Anything).Return(nil)
			repo.On("findDetail", mock.Anything, "post-id", tt.request.userId).Return(publishedDetail("post-id"), nil)
			polls.On("ResultsByPost", mock.Anything, "post-id", tt.request.userId).Return(nil, nil)

			resp, err := service.solve(context.Background(), tt.request)
			assert.Equal(t, tt.expectCode, resp.Code)
			if tt.expectCode != http.StatusOK {
				assert.Error(t, err)
				assert.Equal(t, "Only the author can change the solved state", resp.Error.Message)
				repo.AssertNotCalled(t, "solve", mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			var stored solution
			for _, c := range repo.Calls {
				if c.Method == "solve" {
					stored = c.Arguments.Get(1).(solution)
				}
			}
			assert.Equal(t, tt.expectSolver, stored.solvedById)
			assert.Equal(t, tt.expectComment, stored.solvingCommentId)

			found, err := service.cache.Get(context.Background(), LEADERBOARD_CACHE_KEY, &leaderboardResponse{})
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestServiceImpl_unsolve(t *testing.T) {
	repo := new(mockRepository)
	polls := new(mockPolls)
	service := newTestService(repo, polls)
	repo.On("findRef", mock.Anything, "post-id").Return(postRef{id: "post-id", authorId: "author-id"}, nil)
	repo.On("unsolve", mock.Anything, "post-id", mock.Anything).Return(nil)
	repo.On("findDetail", mock.Anything, "post-id", "author-id").Return(publishedDetail("post-id"), nil)
	polls.On("ResultsByPost", mock.Anything, "post-id", "author-id").Return(nil, nil)

	resp, err := service.unsolve(context.Background(), "post-id", "author-id")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, resp.Data.Post.IsSolved)

	resp, err = service.unsolve(context.Background(), "post-id", "intruder-id")
	assert.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestServiceImpl_takeDown(t *testing.T) {
	repo := new(mockRepository)
	service := newTestService(repo, new(mockPolls))
	repo.On("takeDown", mock.Anything, "post-id", mock.Anything).Return(nil)
	repo.On("takeDown", mock.Anything, "missing", mock.Anything).
		Return(apperror.New(http.StatusBadRequest, "failed to take down post, post id not found", nil))

	resp, err := service.takeDown(context.Background(), "post-id")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp, err = service.takeDown(context.Background(), "missing")
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestServiceImpl_leaderboardIsCached(t *testing.T) {
	repo := new(mockRepository)
	service := newTestService(repo, new(mockPolls))
	repo.On("leaderboard", mock.Anything, "general-forum").Return(leaderboard{
		leaders: []leader{
			{userId: "helper-id", username: sql.NullString{String: "helper", Valid: true}, solvedCount: 4},
		},
		solved:   4,
		unsolved: 6,
	}, nil).Once()

	first, err := service.leaderboard(context.Background())
	require.NoError(t, err)
	second, err := service.leaderboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, "helper", second.Data.Leaders[0].Username)
	assert.Equal(t, 6, second.Data.Unsolved)
	repo.AssertNumberOfCalls(t, "leaderboard", 1)
}
