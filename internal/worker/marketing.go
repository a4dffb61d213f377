package worker

import (
	"context"
	"fmt"

	"storefront/internal/bus"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"go.uber.org/zap"
)

const (
	jobPurchase   = "purchase"
	jobNewsletter = "newsletter"
)

type marketingJob struct {
	kind  string
	order models.Order
	user  models.User
}

// MarketingWorker records purchases and newsletter sign-ups off the
// publish path. Bus handlers only enqueue; a full queue drops the job.
type MarketingWorker struct {
	stopper
	marketing *service.MarketingService
	jobs      chan marketingJob
	subs      []*bus.Subscription
	logger    *zap.Logger
}

// NewMarketingWorker subscribes to ORDER_CREATED and USER_REGISTERED.
// Jobs queue up until Start is called.
func NewMarketingWorker(eventBus *bus.Bus, marketing *service.MarketingService, queueSize int, logger *zap.Logger) *MarketingWorker {
	if queueSize < 1 {
		queueSize = 1
	}
	w := &MarketingWorker{
		stopper:   newStopper(),
		marketing: marketing,
		jobs:      make(chan marketingJob, queueSize),
		logger:    util.LoggerOrDefault(logger),
	}

	w.subs = append(w.subs,
		eventBus.Subscribe(models.TopicOrderCreated, func(ctx context.Context, evt bus.Event) error {
			order, ok := evt.Payload.(models.Order)
			if !ok {
				return fmt.Errorf("unexpected %s payload %T", evt.Topic, evt.Payload)
			}
			w.enqueue(marketingJob{kind: jobPurchase, order: order})
			return nil
		}),
		eventBus.Subscribe(models.TopicUserRegistered, func(ctx context.Context, evt bus.Event) error {
			user, ok := evt.Payload.(models.User)
			if !ok {
				return fmt.Errorf("unexpected %s payload %T", evt.Topic, evt.Payload)
			}
			if !user.NewsletterOptIn {
				util.MarketingJobsTotal.WithLabelValues(jobNewsletter, "skipped").Inc()
				return nil
			}
			w.enqueue(marketingJob{kind: jobNewsletter, user: user})
			return nil
		}),
	)
	return w
}

func (w *MarketingWorker) enqueue(job marketingJob) {
	select {
	case w.jobs <- job:
	default:
		util.MarketingJobsTotal.WithLabelValues(job.kind, "dropped").Inc()
		w.logger.Warn("Marketing queue full, dropping job", zap.String("kind", job.kind))
	}
}

// Start processes queued jobs until ctx is done or Stop is called
func (w *MarketingWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting marketing worker")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case job := <-w.jobs:
			w.process(ctx, job)
		}
	}
}

func (w *MarketingWorker) process(ctx context.Context, job marketingJob) {
	var err error
	switch job.kind {
	case jobPurchase:
		err = w.marketing.TrackEvent(ctx, models.MarketingKindPurchase, job.order.UserID, map[string]string{
			"order_id": job.order.ID,
			"total":    job.order.Total.StringFixed(2),
		})
	case jobNewsletter:
		err = w.marketing.SubscribeToNewsletter(ctx, job.user.Email, job.user.ID)
	}

	if err != nil {
		util.MarketingJobsTotal.WithLabelValues(job.kind, "error").Inc()
		w.logger.Error("Marketing job failed", zap.String("kind", job.kind), zap.Error(err))
		return
	}
	util.MarketingJobsTotal.WithLabelValues(job.kind, "ok").Inc()
}

// Stop unsubscribes from the bus and ends Start
func (w *MarketingWorker) Stop() error {
	w.logger.Info("Stopping marketing worker")
	for _, sub := range w.subs {
		sub.Unsubscribe()
	}
	w.stop()
	return nil
}
