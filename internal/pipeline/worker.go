package pipeline

import (
	"context"

	"github.com/pbaille/nexusdiet/internal/logger"
	"github.com/pbaille/nexusdiet/internal/messaging"
)

// Worker feeds page-visit messages from the bus into the pipeline
type Worker struct {
	pipeline *Pipeline
	messages <-chan messaging.Message
	logger   logger.Logger
}

func NewWorker(p *Pipeline, messages <-chan messaging.Message, log logger.Logger) *Worker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{pipeline: p, messages: messages, logger: log}
}

// Run processes messages one at a time until the channel closes or ctx is done
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-w.messages:
			if !ok {
				return nil
			}
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg messaging.Message) {
	if msg.Type != messaging.KindPageVisitCollected {
		w.logger.Debug("ignoring message", logger.String("type", string(msg.Type)))
		return
	}

	rec, err := messaging.DecodePageRecord(msg)
	if err != nil {
		w.logger.Error("drop malformed page visit", logger.Err(err))
		return
	}

	w.pipeline.Enrich(ctx, rec)
}
