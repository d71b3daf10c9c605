package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"loyalty-service/internal/consumers"

	"github.com/hibiken/asynq"
)

type Worker struct {
	Processor *consumers.IngestProcessor
}

func NewWorker(processor *consumers.IngestProcessor) *Worker {
	return &Worker{Processor: processor}
}

func (w *Worker) HandleC2BConfirmation(ctx context.Context, t *asynq.Task) error {
	var p consumers.ConfirmationDTO
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Processor.ProcessConfirmation(p)
}

func (w *Worker) HandleLoyaltyProcess(ctx context.Context, t *asynq.Task) error {
	var p consumers.LoyaltyDTO
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Processor.ProcessLoyalty(p)
}

func (w *Worker) HandleChannelSync(ctx context.Context, t *asynq.Task) error {
	var p consumers.ChannelSyncDTO
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Processor.ProcessChannelSync(ctx, p)
}

func StartWorker(redisOpt asynq.RedisClientOpt, processor *consumers.IngestProcessor) {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	worker := NewWorker(processor)
	mux := asynq.NewServeMux()

	mux.HandleFunc(TypeC2BConfirmation, worker.HandleC2BConfirmation)
	mux.HandleFunc(TypeLoyaltyProcess, worker.HandleLoyaltyProcess)
	mux.HandleFunc(TypeChannelSync, worker.HandleChannelSync)

	if err := srv.Run(mux); err != nil {
		log.Fatalf("could not run server: %v", err)
	}
}
