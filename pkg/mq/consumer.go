package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"outreach/pkg/goutil"
	"outreach/pkg/logutil"
	"sync"
	"time"
)

var (
	ErrEmptyConsumerGroup   = errors.New("empty consumer group")
	ErrInvalidInitialOffset = errors.New("invalid initial offset")
	ErrNoHandler            = errors.New("no handler for payload")
)

type HandlerFunc func(ctx context.Context, msg *Message) error

// Handlers routes a decoded message by its payload.
type Handlers map[Payload]HandlerFunc

func (h Handlers) Dispatch(ctx context.Context, value []byte) (*Message, error) {
	msg := new(Message)
	if err := json.Unmarshal(value, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	fn := h[msg.Payload]
	if fn == nil {
		return msg, fmt.Errorf("%w: %d", ErrNoHandler, msg.Payload)
	}

	if err := fn(ctx, msg); err != nil {
		return msg, fmt.Errorf("failed to handle message: %w", err)
	}

	return msg, nil
}

const (
	offsetNewest = "newest"
	offsetOldest = "oldest"
)

var initialOffsets = []string{offsetNewest, offsetOldest}

type ConsumerConfig struct {
	Brokers       []string `json:"brokers,omitempty"`
	Topic         string   `json:"topic,omitempty"`
	ConsumerGroup string   `json:"consumer_group,omitempty"`
	// InitialOffset applies when the group has no committed offset yet.
	InitialOffset string `json:"initial_offset,omitempty"`
}

func (c *ConsumerConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

func (c *ConsumerConfig) validate() error {
	if len(c.Brokers) == 0 {
		return ErrEmptyBrokers
	}

	if c.Topic == "" {
		return ErrEmptyTopicName
	}

	if c.ConsumerGroup == "" {
		return ErrEmptyConsumerGroup
	}

	if c.InitialOffset != "" && !goutil.ContainsStr(initialOffsets, c.InitialOffset) {
		return ErrInvalidInitialOffset
	}

	return nil
}

// Consumer reads one topic as a member of a consumer group. Messages are
// marked after their handler returns, failed or not, so a bad record never
// blocks the partition.
type Consumer struct {
	handlers Handlers
	client   sarama.ConsumerGroup
	cancel   context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

func NewConsumer(ctx context.Context, cfg ConsumerConfig, handlers Handlers) (*Consumer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if len(handlers) == 0 {
		return nil, ErrNoHandler
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	if cfg.InitialOffset == offsetOldest {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	// logs of one message share a key and so a partition, sticky keeps that
	// partition on the same member across rebalances
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	c := &Consumer{
		handlers: handlers,
		client:   client,
		cancel:   cancel,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}

	go c.consume(ctx, cfg.Topic)

	select {
	case <-c.ready:
		log.Ctx(ctx).Info().Msgf("consumer is up, topic: %s, group: %s", cfg.Topic, cfg.ConsumerGroup)
	case <-ctx.Done():
	}

	return c, nil
}

// consume rejoins the group after every rebalance until ctx is done.
func (c *Consumer) consume(ctx context.Context, topic string) {
	defer close(c.done)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	for ctx.Err() == nil {
		err := c.client.Consume(ctx, []string{topic}, c)
		if err == nil {
			b.Reset()
			continue
		}

		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return
		}

		wait := b.NextBackOff()
		log.Ctx(ctx).Error().Msgf("consume topic %s failed: %v, retry in %v", topic, err, wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) Close() error {
	c.cancel()
	<-c.done
	return c.client.Close()
}

func (c *Consumer) Setup(_ sarama.ConsumerGroupSession) error {
	c.readyOnce.Do(func() {
		close(c.ready)
	})
	return nil
}

func (c *Consumer) Cleanup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim returns once the claim's channel closes or the session ends.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case consumerMessage, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			ctx := logutil.WithLogID(session.Context(), uuid.New().String())
			c.processMessage(ctx, consumerMessage)
			session.MarkMessage(consumerMessage, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, consumerMessage *sarama.ConsumerMessage) {
	start := time.Now()

	msg, err := c.handlers.Dispatch(ctx, consumerMessage.Value)

	since := time.Since(start).Microseconds()
	if err != nil {
		log.Ctx(ctx).Error().Msgf("message dropped: topic = %s, partition = %d, offset = %d, key = %s, proctm: %vμs, err: %v",
			consumerMessage.Topic, consumerMessage.Partition, consumerMessage.Offset, string(consumerMessage.Key), since, err)
		return
	}

	log.Ctx(ctx).Debug().Msgf("message processed: topic = %s, partition = %d, offset = %d, payload = %s, proctm: %vμs",
		consumerMessage.Topic, consumerMessage.Partition, consumerMessage.Offset, Payloads[msg.Payload], since)
}
