package taskqueue

import (
	"context"

	"homerules/internal/utils"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Queue enqueues audit tasks
type Queue struct {
	client *asynq.Client
	logger zerolog.Logger
}

// NewQueue connects a client to redisAddr
func NewQueue(redisAddr string) *Queue {
	return &Queue{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		logger: utils.Component("TASKQUEUE"),
	}
}

// EnqueueRuleApplied schedules a rule application for recording
func (q *Queue) EnqueueRuleApplied(ctx context.Context, p RuleAppliedPayload) error {
	task, err := NewRuleAppliedTask(p)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		q.logger.Error().Err(err).Str("rule", p.RuleID).Msg("failed to enqueue task")
		return err
	}
	q.logger.Debug().Str("task", info.ID).Str("rule", p.RuleID).Msg("enqueued")
	return nil
}

// Close releases the client connection
func (q *Queue) Close() error {
	return q.client.Close()
}

// Workers processes queued tasks
type Workers struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	logger zerolog.Logger
}

// NewWorkers builds a server whose handlers write to rec
func NewWorkers(redisAddr string, concurrency int, rec Recorder) *Workers {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRuleApplied, HandleRuleApplied(rec))
	return &Workers{
		srv:    asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{Concurrency: concurrency}),
		mux:    mux,
		logger: utils.Component("TASKQUEUE"),
	}
}

// Start begins processing in the background
func (w *Workers) Start() error {
	w.logger.Info().Msg("starting workers")
	return w.srv.Start(w.mux)
}

// Stop waits for in-flight tasks and shuts down
func (w *Workers) Stop() {
	w.logger.Info().Msg("stopping workers")
	w.srv.Shutdown()
}
