package queue

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type kafkaProducer struct {
	producer sarama.SyncProducer
}

// NewKafkaProducer builds a synchronous producer that waits for full ISR
// acknowledgement, so a published envelope is never silently lost.
func NewKafkaProducer(brokers []string) (Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return &kafkaProducer{producer: p}, nil
}

func (p *kafkaProducer) Publish(ctx context.Context, topic string, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(env.TaskID),
		Value: sarama.ByteEncoder(data),
	}
	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *kafkaProducer) Close() error {
	return p.producer.Close()
}

// Consumer reads one lane topic as part of a consumer group.
type Consumer struct {
	consumer sarama.ConsumerGroup
	logger   *zap.Logger
}

func NewConsumer(brokers []string, groupID string, logger *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	c, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}
	return &Consumer{consumer: c, logger: logger}, nil
}

type consumerHandler struct {
	fn     Handler
	logger *zap.Logger
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var env Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			h.logger.Warn("dropping malformed envelope",
				zap.String("topic", msg.Topic), zap.Int64("offset", msg.Offset), zap.Error(err))
			session.MarkMessage(msg, "")
			continue
		}
		// Offsets are only committed once the handler reached a terminal
		// outcome, so a crash mid-task redelivers the envelope.
		if err := h.fn(session.Context(), &env); err != nil {
			return err
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// Consume joins the group for a topic and processes envelopes until the
// context ends. It re-enters the group on rebalances.
func (c *Consumer) Consume(ctx context.Context, topic string, handler Handler) error {
	h := &consumerHandler{fn: handler, logger: c.logger}
	for {
		if err := c.consumer.Consume(ctx, []string{topic}, h); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
