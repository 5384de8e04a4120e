package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/database"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
)

type RepositoryImpl struct {
	DB *sql.DB
}

func NewRepository(db *sql.DB) *RepositoryImpl {
	return &RepositoryImpl{
		DB: db,
	}
}

const (
	THREAD_PENDING  = "pending"
	THREAD_ACCEPTED = "accepted"
	THREAD_REJECTED = "rejected"
)

type thread struct {
	id          string
	userAId     string
	userBId     string
	pairKey     string
	initiatorId string
	status      string
	createdAt   int64
	updatedAt   int64
}

func (t thread) hasParticipant(userId string) bool {
	return t.userAId == userId || t.userBId == userId
}

type message struct {
	id         string
	threadId   string
	senderId   string
	receiverId string
	content    string
	createdAt  int64
}

type participant struct {
	id       string
	username sql.NullString
	userType string
	image    sql.NullString
}

type threadSummary struct {
	thread
	userA       participant
	userB       participant
	lastId      sql.NullString
	lastSender  sql.NullString
	lastContent sql.NullString
	lastAt      sql.NullInt64
}

// pairKey is the same for (a, b) and (b, a).
func pairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

const threadColumns = "id, user_a_id, user_b_id, pair_key, initiator_id, status, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanThread(row scanner) (thread, error) {
	t := thread{}
	err := row.Scan(&t.id, &t.userAId, &t.userBId, &t.pairKey, &t.initiatorId, &t.status, &t.createdAt, &t.updatedAt)
	return t, err
}

func (repo *RepositoryImpl) userType(ctx context.Context, userId string) (string, error) {
	return user.LookupType(ctx, repo.DB, userId)
}

// receiverType returns an empty type when the user does not exist.
func (repo *RepositoryImpl) receiverType(ctx context.Context, userId string) (string, error) {
	var userType string
	err := repo.DB.QueryRowContext(ctx, "SELECT user_type FROM users WHERE id = ?", userId).Scan(&userType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("repository: fail to get receiver %w", err)
	}
	return userType, nil
}

// findByPair reports false when the two users have no thread yet.
func (repo *RepositoryImpl) findByPair(ctx context.Context, key string) (thread, bool, error) {
	t, err := scanThread(repo.DB.QueryRowContext(
		ctx,
		"SELECT "+threadColumns+" FROM dm_threads WHERE pair_key = ?",
		key,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return thread{}, false, nil
		}
		return thread{}, false, fmt.Errorf("repository: fail to get thread by pair %w", err)
	}
	return t, true, nil
}

func (repo *RepositoryImpl) findThread(ctx context.Context, threadId string) (thread, error) {
	t, err := scanThread(repo.DB.QueryRowContext(
		ctx,
		"SELECT "+threadColumns+" FROM dm_threads WHERE id = ?",
		threadId,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return thread{}, apperror.New(http.StatusNotFound, "Thread not found", err)
		}
		return thread{}, fmt.Errorf("repository: fail to get thread %w", err)
	}
	return t, nil
}

// createThread returns the thread stored under the pair key. When another
// request created it first, that thread is returned instead.
func (repo *RepositoryImpl) createThread(ctx context.Context, data thread) (thread, error) {
	_, err := repo.DB.ExecContext(
		ctx,
		"INSERT INTO dm_threads ("+threadColumns+") VALUES (?,?,?,?,?,?,?,?)",
		data.id, data.userAId, data.userBId, data.pairKey, data.initiatorId, data.status, data.createdAt, data.updatedAt,
	)
	if err != nil {
		if database.IsDuplicate(err) {
			existing, found, findErr := repo.findByPair(ctx, data.pairKey)
			if findErr != nil {
				return thread{}, findErr
			}
			if found {
				return existing, nil
			}
		}
		return thread{}, fmt.Errorf("repository: fail to create thread %w", err)
	}
	return data, nil
}

// send stores the message and bumps the thread's activity time.
func (repo *RepositoryImpl) send(ctx context.Context, data message) error {
	return database.WithTx(ctx, repo.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			"INSERT INTO messages (id, thread_id, sender_id, receiver_id, content, created_at) VALUES (?,?,?,?,?,?)",
			data.id, data.threadId, data.senderId, data.receiverId, data.content, data.createdAt,
		)
		if err != nil {
			return fmt.Errorf("repository: fail to store message %w", err)
		}
		_, err = tx.ExecContext(
			ctx,
			"UPDATE dm_threads SET updated_at = ? WHERE id = ?",
			data.createdAt, data.threadId,
		)
		if err != nil {
			return fmt.Errorf("repository: fail to bump thread %w", err)
		}
		return nil
	})
}

func (repo *RepositoryImpl) listThreads(ctx context.Context, userId string) ([]threadSummary, error) {
	rows, err := repo.DB.QueryContext(
		ctx,
		`
		SELECT t.id, t.user_a_id, t.user_b_id, t.pair_key, t.initiator_id, t.status, t.created_at, t.updated_at,
			ua.username, ua.user_type, ua.image,
			ub.username, ub.user_type, ub.image,
			m.id, m.sender_id, m.content, m.created_at
		FROM dm_threads t
		JOIN users ua
		ON t.user_a_id = ua.id
		JOIN users ub
		ON t.user_b_id = ub.id
		LEFT JOIN messages m
		ON m.id = (
			SELECT lm.id FROM messages lm
			WHERE lm.thread_id = t.id
			ORDER BY lm.created_at DESC, lm.id DESC
			LIMIT 1
		)
		WHERE (t.user_a_id = ? OR t.user_b_id = ?)
			AND t.status <> 'rejected'
			AND t.user_a_id <> t.user_b_id
		ORDER BY t.updated_at DESC
		`,
		userId, userId,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: fail to list threads %w", err)
	}
	defer rows.Close()

	threads := []threadSummary{}
	for rows.Next() {
		t := threadSummary{}
		err := rows.Scan(
			&t.id, &t.userAId, &t.userBId, &t.pairKey, &t.initiatorId, &t.status, &t.createdAt, &t.updatedAt,
			&t.userA.username, &t.userA.userType, &t.userA.image,
			&t.userB.username, &t.userB.userType, &t.userB.image,
			&t.lastId, &t.lastSender, &t.lastContent, &t.lastAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: fail to scan thread %w", err)
		}
		t.userA.id = t.userAId
		t.userB.id = t.userBId
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: fail to iterate threads %w", err)
	}
	return threads, nil
}

func (repo *RepositoryImpl) setStatus(ctx context.Context, threadId, status string, updatedAt int64) error {
	result, err := repo.DB.ExecContext(
		ctx,
		"UPDATE dm_threads SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		status, updatedAt, threadId, THREAD_PENDING,
	)
	if err != nil {
		return fmt.Errorf("repository: fail to update thread status %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: fail to read affected threads %w", err)
	}
	if affected == 0 {
		return apperror.New(http.StatusNotFound, "No pending request", errors.New("repository: thread is no longer pending"))
	}
	return nil
}

func (repo *RepositoryImpl) deleteThread(ctx context.Context, threadId string) error {
	return database.WithTx(ctx, repo.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE thread_id = ?", threadId); err != nil {
			return fmt.Errorf("repository: fail to delete thread messages %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM dm_threads WHERE id = ?", threadId); err != nil {
			return fmt.Errorf("repository: fail to delete thread %w", err)
		}
		return nil
	})
}

func (repo *RepositoryImpl) threadMessages(ctx context.Context, threadId string) ([]message, error) {
	rows, err := repo.DB.QueryContext(
		ctx,
		`
		SELECT id, thread_id, sender_id, receiver_id, content, created_at
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at ASC, id ASC
		`,
		threadId,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: fail to list messages %w", err)
	}
	defer rows.Close()

	messages := []message{}
	for rows.Next() {
		m := message{}
		if err := rows.Scan(&m.id, &m.threadId, &m.senderId, &m.receiverId, &m.content, &m.createdAt); err != nil {
			return nil, fmt.Errorf("repository: fail to scan message %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: fail to iterate messages %w", err)
	}
	return messages, nil
}
