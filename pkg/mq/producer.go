package mq

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"
	"sync"
	"time"
)

var (
	ErrEmptyBrokers       = errors.New("empty brokers")
	ErrEmptyTopics        = errors.New("empty topics")
	ErrEmptyTopicName     = errors.New("empty topic name")
	ErrUnsupportedPayload = errors.New("unsupported payload")
	ErrProducerClosed     = errors.New("producer closed")
)

const headerPayload = "payload"

type Message struct {
	Payload Payload     `json:"payload,omitempty"`
	Key     string      `json:"key,omitempty"`
	Body    interface{} `json:"body,omitempty"`
}

func (msg *Message) ParseBody(dst interface{}) error {
	b, err := json.Marshal(msg.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

type ProducerConfig struct {
	Brokers []string `json:"brokers,omitempty"`
	// Topics maps a payload number to its topic.
	Topics map[uint32]string `json:"topics,omitempty"`
}

func (c *ProducerConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

func (c *ProducerConfig) validate() error {
	if len(c.Brokers) == 0 {
		return ErrEmptyBrokers
	}

	if len(c.Topics) == 0 {
		return ErrEmptyTopics
	}

	for payload, topic := range c.Topics {
		if topic == "" {
			return ErrEmptyTopicName
		}

		if _, ok := Payloads[Payload(payload)]; !ok {
			return ErrUnsupportedPayload
		}
	}

	return nil
}

func (c *ProducerConfig) topics() map[Payload]string {
	topics := make(map[Payload]string, len(c.Topics))
	for payload, topic := range c.Topics {
		topics[Payload(payload)] = topic
	}
	return topics
}

// Producer publishes asynchronously. Delivery failures are logged, never
// returned to the caller.
type Producer struct {
	saramaProducer sarama.AsyncProducer
	topics         map[Payload]string

	mu     sync.RWMutex
	closed bool
}

func NewProducer(ctx context.Context, cfg ProducerConfig) (*Producer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Flush.Frequency = 500 * time.Millisecond
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Return.Errors = true
	// same key, same partition: logs of one message stay in order
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, err
	}

	go func() {
		for err := range producer.Errors() {
			log.Ctx(ctx).Error().Msgf("produce failed, topic: %s, key: %v, err: %v",
				err.Msg.Topic, err.Msg.Key, err.Err)
		}
	}()

	return &Producer{
		saramaProducer: producer,
		topics:         cfg.topics(),
	}, nil
}

// Close flushes buffered messages. SendMessage fails afterwards.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	return p.saramaProducer.Close()
}

func (p *Producer) SendMessage(msg *Message) error {
	saramaMsg, err := newProducerMessage(p.topics, msg)
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrProducerClosed
	}

	p.saramaProducer.Input() <- saramaMsg

	return nil
}

func newProducerMessage(topics map[Payload]string, msg *Message) (*sarama.ProducerMessage, error) {
	topic, ok := topics[msg.Payload]
	if !ok {
		return nil, ErrUnsupportedPayload
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(msg.Key),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerPayload), Value: []byte(Payloads[msg.Payload])},
		},
	}, nil
}
