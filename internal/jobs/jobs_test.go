package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulfikarrosadi/opentrellis/internal/metrics"
)

func newTestScheduler(buf *bytes.Buffer) *Scheduler {
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(logger, metrics.New())
}

func TestScheduler_Add(t *testing.T) {
	s := newTestScheduler(&bytes.Buffer{})

	err := s.Add(Job{Name: "reconcile", Spec: "@every 1h", Run: func(context.Context) error { return nil }})
	assert.NoError(t, err)

	err = s.Add(Job{Name: "broken", Spec: "every hour", Run: func(context.Context) error { return nil }})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Len(t, s.cron.Entries(), 1)
}

func TestScheduler_run(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		buf := &bytes.Buffer{}
		s := newTestScheduler(buf)
		var gotDeadline bool
		s.run(Job{Name: "sweep", Run: func(ctx context.Context) error {
			_, gotDeadline = ctx.Deadline()
			return nil
		}})
		assert.True(t, gotDeadline)
		assert.Contains(t, buf.String(), "JOB_DONE")
	})

	t.Run("failure is logged", func(t *testing.T) {
		buf := &bytes.Buffer{}
		s := newTestScheduler(buf)
		s.run(Job{Name: "reconcile", Run: func(context.Context) error {
			return errors.New("gateway unavailable")
		}})
		assert.Contains(t, buf.String(), "JOB_FAILED")
		assert.Contains(t, buf.String(), "gateway unavailable")
	})
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestScheduler(&bytes.Buffer{})
	require.NoError(t, s.Add(Job{Name: "noop", Spec: "@every 1h", Run: func(context.Context) error { return nil }}))
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err())
}
