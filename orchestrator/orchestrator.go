package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/yanolja/horoscope"
)

// Resolver turns one request into an interpretation. *failover.Controller
// implements it.
type Resolver interface {
	Resolve(ctx context.Context, credentials horoscope.Credentials, request *horoscope.InterpretationRequest) (*horoscope.Interpretation, error)
}

// QueueObserver is told the number of waiting requests whenever it changes.
type QueueObserver interface {
	QueueDepth(depth int)
}

// Job is one queued interpretation request.
type Job struct {
	Credentials horoscope.Credentials
	Request     *horoscope.InterpretationRequest
}

// Orchestrator owns one logical queue. Every resolution, including its
// provider calls and its quota bookkeeping, runs on the serializer's single
// goroutine, so the resolver's store needs no locking.
type Orchestrator struct {
	serializer *Serializer[*Job, *horoscope.Interpretation]
	logger     *zap.SugaredLogger
}

// New starts the orchestrator's loop. ctx carries values to the resolver;
// its cancellation does not abort running or queued jobs. Use Close to stop.
func New(ctx context.Context, resolver Resolver, observer QueueObserver, logger *zap.SugaredLogger) *Orchestrator {
	var onDepth func(int)
	if observer != nil {
		onDepth = observer.QueueDepth
	}
	handler := func(ctx context.Context, job *Job) (*horoscope.Interpretation, error) {
		return resolver.Resolve(ctx, job.Credentials, job.Request)
	}
	return &Orchestrator{
		serializer: NewSerializer(ctx, handler, onDepth),
		logger:     logger,
	}
}

// Submit enqueues a request and returns immediately.
func (o *Orchestrator) Submit(credentials horoscope.Credentials, request *horoscope.InterpretationRequest) *Pending[*horoscope.Interpretation] {
	return o.serializer.Submit(&Job{Credentials: credentials, Request: request})
}

// Interpret enqueues a request and waits for its result. If ctx ends first
// the request still runs; only the wait is abandoned.
func (o *Orchestrator) Interpret(ctx context.Context, credentials horoscope.Credentials, request *horoscope.InterpretationRequest) (*horoscope.Interpretation, error) {
	pending := o.Submit(credentials, request)
	result, err := pending.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		o.logger.Warnw("Caller stopped waiting for interpretation", "queued", o.serializer.Len(), "error", err)
	}
	return result, err
}

// QueueLength returns the number of requests waiting behind the running one.
func (o *Orchestrator) QueueLength() int {
	return o.serializer.Len()
}

func (o *Orchestrator) Close(ctx context.Context) error {
	o.logger.Infow("Draining interpretation queue", "queued", o.serializer.Len())
	return o.serializer.Close(ctx)
}
