package message

import (
	"context"
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
	receiverType(context.Context, string) (string, error)
	findByPair(context.Context, string) (thread, bool, error)
	findThread(context.Context, string) (thread, error)
	createThread(context.Context, thread) (thread, error)
	send(context.Context, message) error
	listThreads(context.Context, string) ([]threadSummary, error)
	setStatus(context.Context, string, string, int64) error
	deleteThread(context.Context, string) error
	threadMessages(context.Context, string) ([]message, error)
}

const (
	ACTION_ACCEPT = "accept"
	ACTION_REJECT = "reject"
)

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

type sendMessageRequest struct {
	senderId   string
	ReceiverId string `json:"receiver_id" validate:"required"`
	Content    string `json:"content" validate:"required,max=5000"`
}

type respondRequest struct {
	userId      string
	otherUserId string
	Action      string `json:"action" validate:"required,oneof=accept reject"`
}

type messageDetail struct {
	Id         string `json:"id"`
	ThreadId   string `json:"thread_id"`
	SenderId   string `json:"sender_id"`
	ReceiverId string `json:"receiver_id"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"created_at"`
}

type participantDetail struct {
	Id       string `json:"id"`
	Username string `json:"username,omitempty"`
	UserType string `json:"user_type"`
	Image    string `json:"image,omitempty"`
}

type lastMessage struct {
	Id        string `json:"id"`
	SenderId  string `json:"sender_id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

type threadDetail struct {
	Id           string              `json:"id"`
	Status       string              `json:"status"`
	InitiatorId  string              `json:"initiator_id"`
	Participants []participantDetail `json:"participants"`
	LastMessage  *lastMessage        `json:"last_message,omitempty"`
	MyId         string              `json:"my_id"`
	UpdatedAt    int64               `json:"updated_at"`
}

type sendResponse struct {
	Message      messageDetail `json:"message"`
	ThreadStatus string        `json:"thread_status"`
}

type threadsResponse struct {
	Threads []threadDetail `json:"threads"`
}

type respondResponse struct {
	ThreadId string `json:"thread_id"`
	Status   string `json:"status"`
}

type messagesResponse struct {
	ThreadId string          `json:"thread_id"`
	Messages []messageDetail `json:"messages"`
}

func toMessageDetail(m message) messageDetail {
	return messageDetail{
		Id:         m.id,
		ThreadId:   m.threadId,
		SenderId:   m.senderId,
		ReceiverId: m.receiverId,
		Content:    m.content,
		CreatedAt:  m.createdAt,
	}
}

func toParticipant(p participant) participantDetail {
	return participantDetail{
		Id:       p.id,
		Username: p.username.String,
		UserType: p.userType,
		Image:    p.image.String,
	}
}

// requirePremium gates every direct message operation on the stored user type.
func (service *serviceImpl) requirePremium(ctx context.Context, userId string) error {
	userType, err := service.repo.userType(ctx, userId)
	if err != nil {
		return err
	}
	if !user.IsPremium(userType) {
		return apperror.New(http.StatusForbidden, "Upgrade to use direct messages", nil)
	}
	return nil
}

func (service *serviceImpl) send(ctx context.Context, data sendMessageRequest) (schema.Response[sendResponse], error) {
	if err := service.requirePremium(ctx, data.senderId); err != nil {
		return apperror.Response[sendResponse](err, ""), err
	}
	data.ReceiverId = strings.TrimSpace(data.ReceiverId)
	data.Content = strings.TrimSpace(data.Content)
	if err := service.v.Struct(data); err != nil {
		return apperror.ValidationResponse[sendResponse](err, http.StatusBadRequest),
			fmt.Errorf("service: send message validation error %w", err)
	}
	if data.ReceiverId == data.senderId {
		return apperror.Fail[sendResponse](http.StatusBadRequest, "You cannot message yourself"),
			errors.New("service: message to self")
	}
	receiverType, err := service.repo.receiverType(ctx, data.ReceiverId)
	if err != nil {
		return apperror.Response[sendResponse](err, ""), err
	}
	if !user.IsPremium(receiverType) {
		return apperror.Fail[sendResponse](http.StatusBadRequest, "Recipient cannot receive direct messages"),
			fmt.Errorf("service: receiver %s is absent or free (%q)", data.ReceiverId, receiverType)
	}

	now := service.now().Unix()
	key := pairKey(data.senderId, data.ReceiverId)
	t, found, err := service.repo.findByPair(ctx, key)
	if err != nil {
		return apperror.Response[sendResponse](err, ""), err
	}
	if !found {
		threadId, err := uuid.NewV7()
		if err != nil {
			return apperror.Fail[sendResponse](http.StatusInternalServerError, apperror.INTERNAL_ERROR),
				fmt.Errorf("service: fail to generate thread uuid %w", err)
		}
		t, err = service.repo.createThread(ctx, thread{
			id:          threadId.String(),
			userAId:     data.senderId,
			userBId:     data.ReceiverId,
			pairKey:     key,
			initiatorId: data.senderId,
			status:      THREAD_PENDING,
			createdAt:   now,
			updatedAt:   now,
		})
		if err != nil {
			return apperror.Response[sendResponse](err, ""), err
		}
	}

	switch {
	case t.status == THREAD_REJECTED:
		return apperror.Fail[sendResponse](http.StatusForbidden, "This conversation was declined"),
			fmt.Errorf("service: send on rejected thread %s", t.id)
	case t.status == THREAD_PENDING && t.initiatorId != data.senderId:
		return apperror.Fail[sendResponse](http.StatusForbidden, "Waiting for recipient to accept"),
			fmt.Errorf("service: recipient sent on pending thread %s", t.id)
	}

	messageId, err := uuid.NewV7()
	if err != nil {
		return apperror.Fail[sendResponse](http.StatusInternalServerError, apperror.INTERNAL_ERROR),
			fmt.Errorf("service: fail to generate message uuid %w", err)
	}
	m := message{
		id:         messageId.String(),
		threadId:   t.id,
		senderId:   data.senderId,
		receiverId: data.ReceiverId,
		content:    data.Content,
		createdAt:  now,
	}
	if err := service.repo.send(ctx, m); err != nil {
		return apperror.Response[sendResponse](err, ""), err
	}
	service.metrics.Event(metrics.EVENT_MESSAGE_SENT)

	return schema.Response[sendResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusCreated,
		Data: sendResponse{
			Message:      toMessageDetail(m),
			ThreadStatus: t.status,
		},
	}, nil
}

func (service *serviceImpl) listThreads(ctx context.Context, userId string) (schema.Response[threadsResponse], error) {
	if err := service.requirePremium(ctx, userId); err != nil {
		return apperror.Response[threadsResponse](err, ""), err
	}
	threads, err := service.repo.listThreads(ctx, userId)
	if err != nil {
		return apperror.Response[threadsResponse](err, ""), err
	}
	details := make([]threadDetail, 0, len(threads))
	for _, t := range threads {
		detail := threadDetail{
			Id:           t.id,
			Status:       t.status,
			InitiatorId:  t.initiatorId,
			Participants: []participantDetail{toParticipant(t.userA), toParticipant(t.userB)},
			MyId:         userId,
			UpdatedAt:    t.updatedAt,
		}
		if t.lastId.Valid {
			detail.LastMessage = &lastMessage{
				Id:        t.lastId.String,
				SenderId:  t.lastSender.String,
				Content:   t.lastContent.String,
				CreatedAt: t.lastAt.Int64,
			}
		}
		details = append(details, detail)
	}
	return schema.Response[threadsResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   threadsResponse{Threads: details},
	}, nil
}

// respond lets the recipient of a pending request accept or reject it.
func (service *serviceImpl) respond(ctx context.Context, data respondRequest) (schema.Response[respondResponse], error) {
	if err := service.requirePremium(ctx, data.userId); err != nil {
		return apperror.Response[respondResponse](err, ""), err
	}
	if data.otherUserId == data.userId {
		return apperror.Fail[respondResponse](http.StatusBadRequest, "You cannot respond to yourself"),
			errors.New("service: respond to self")
	}
	t, found, err := service.repo.findByPair(ctx, pairKey(data.userId, data.otherUserId))
	if err != nil {
		return apperror.Response[respondResponse](err, ""), err
	}
	if !found || t.status != THREAD_PENDING {
		return apperror.Fail[respondResponse](http.StatusNotFound, "No pending request"),
			errors.New("service: no pending thread to respond to")
	}
	if t.initiatorId == data.userId {
		return apperror.Fail[respondResponse](http.StatusForbidden, "Only the recipient can respond"),
			errors.New("service: initiator responding to own request")
	}
	if err := service.v.Struct(data); err != nil {
		return apperror.Fail[respondResponse](http.StatusBadRequest, "Action must be accept or reject"),
			fmt.Errorf("service: respond validation error %w", err)
	}

	status := THREAD_ACCEPTED
	event := metrics.EVENT_THREAD_ACCEPTED
	if data.Action == ACTION_REJECT {
		status = THREAD_REJECTED
		event = metrics.EVENT_THREAD_REJECTED
	}
	if err := service.repo.setStatus(ctx, t.id, status, service.now().Unix()); err != nil {
		return apperror.Response[respondResponse](err, ""), err
	}
	service.metrics.Event(event)

	return schema.Response[respondResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   respondResponse{ThreadId: t.id, Status: status},
	}, nil
}

func (service *serviceImpl) delete(ctx context.Context, userId, otherUserId string) (schema.Response[respondResponse], error) {
	if err := service.requirePremium(ctx, userId); err != nil {
		return apperror.Response[respondResponse](err, ""), err
	}
	if otherUserId == userId {
		return apperror.Fail[respondResponse](http.StatusBadRequest, "You cannot delete a conversation with yourself"),
			errors.New("service: delete self thread")
	}
	t, found, err := service.repo.findByPair(ctx, pairKey(userId, otherUserId))
	if err != nil {
		return apperror.Response[respondResponse](err, ""), err
	}
	if !found {
		return apperror.Fail[respondResponse](http.StatusNotFound, "Thread not found"),
			errors.New("service: delete missing thread")
	}
	if err := service.repo.deleteThread(ctx, t.id); err != nil {
		return apperror.Response[respondResponse](err, ""), err
	}
	return schema.Response[respondResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusNoContent,
	}, nil
}

func (service *serviceImpl) threadMessages(ctx context.Context, userId, threadId string) (schema.Response[messagesResponse], error) {
	if err := service.requirePremium(ctx, userId); err != nil {
		return apperror.Response[messagesResponse](err, ""), err
	}
	t, err := service.repo.findThread(ctx, threadId)
	if err != nil {
		return apperror.Response[messagesResponse](err, ""), err
	}
	if !t.hasParticipant(userId) {
		return apperror.Fail[messagesResponse](http.StatusForbidden, "You are not part of this conversation"),
			fmt.Errorf("service: %s is not in thread %s", userId, t.id)
	}
	messages, err := service.repo.threadMessages(ctx, t.id)
	if err != nil {
		return apperror.Response[messagesResponse](err, ""), err
	}
	details := make([]messageDetail, 0, len(messages))
	for _, m := range messages {
		details = append(details, toMessageDetail(m))
	}
	return schema.Response[messagesResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data: messagesResponse{
			ThreadId: t.id,
			Messages: details,
		},
	}, nil
}
