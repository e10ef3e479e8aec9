package sync_delivery_logs

import (
	"context"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"os"
	"os/signal"
	"outreach/entity"
	"outreach/handler"
	"outreach/pkg/mq"
	"outreach/pkg/service"
	"outreach/repo"
	"sync"
	"syscall"
	"time"
)

const (
	flushInterval = time.Second
	maxBatchSize  = 200
)

// SyncDeliveryLogs drains the delivery log topic into the store.
type SyncDeliveryLogs struct {
	cfg             mq.ConsumerConfig
	deliveryLogRepo repo.DeliveryLogRepo
	consumer        *mq.Consumer

	mu     sync.Mutex
	buffer []*entity.DeliveryLog
	flush  chan struct{}
}

func New(cfg mq.ConsumerConfig, deliveryLogRepo repo.DeliveryLogRepo) service.Job {
	return &SyncDeliveryLogs{
		cfg:             cfg,
		deliveryLogRepo: deliveryLogRepo,
		flush:           make(chan struct{}, 1),
	}
}

func (j *SyncDeliveryLogs) Init(_ context.Context) error {
	return nil
}

func (j *SyncDeliveryLogs) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	j.consumer, err = mq.NewConsumer(ctx, j.cfg, mq.Handlers{
		mq.PayloadDeliveryLog: j.handle,
	})
	if err != nil {
		log.Ctx(ctx).Error().Msgf("init delivery log consumer failed: %v", err)
		return err
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
			case <-j.flush:
			case <-ctx.Done():
				return nil
			}

			if err := j.flushBuffer(ctx); err != nil {
				log.Ctx(ctx).Error().Msgf("flush delivery logs failed: %v", err)
			}
		}
	})

	<-ctx.Done()

	if err := j.consumer.Close(); err != nil {
		log.Ctx(ctx).Error().Msgf("close delivery log consumer failed: %v", err)
	}

	return g.Wait()
}

func (j *SyncDeliveryLogs) CleanUp(ctx context.Context) error {
	return j.flushBuffer(ctx)
}

func (j *SyncDeliveryLogs) handle(_ context.Context, msg *mq.Message) error {
	payload := new(mq.DeliveryLog)
	if err := msg.ParseBody(payload); err != nil {
		return err
	}

	j.mu.Lock()
	j.buffer = append(j.buffer, handler.ToDeliveryLog(payload))
	full := len(j.buffer) >= maxBatchSize
	j.mu.Unlock()

	if full {
		select {
		case j.flush <- struct{}{}:
		default:
		}
	}

	return nil
}

func (j *SyncDeliveryLogs) flushBuffer(ctx context.Context) error {
	j.mu.Lock()
	batch := j.buffer
	j.buffer = nil
	j.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	// shutdown flushes run after the signal context is done
	ctx = context.WithoutCancel(ctx)

	if err := j.deliveryLogRepo.BatchCreate(ctx, batch); err != nil {
		return err
	}

	log.Ctx(ctx).Info().Msgf("delivery logs synced: %d", len(batch))

	return nil
}
