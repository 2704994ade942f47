package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/robot-puzzle-api/internal/config"
	"github.com/robot-puzzle-api/internal/domain"
)

// ScoreHandler applies validated score submissions
type ScoreHandler interface {
	SubmitScoreBatch(ctx context.Context, subs []domain.ScoreSubmission) (int, error)
}

// Consumer consumes score events from Kafka
type Consumer struct {
	config  *config.KafkaConfig
	handler ScoreHandler
	logger  *slog.Logger
	group   sarama.ConsumerGroup

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	ready     chan struct{}
	readyOnce sync.Once
}

func saramaConfig(cfg *config.KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V3_0_0_0
	sc.ClientID = "robot-puzzle-api"
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true
	sc.Consumer.Retry.Backoff = cfg.RetryDelay
	sc.Metadata.Retry.Max = cfg.RetryAttempts
	sc.Metadata.Retry.Backoff = cfg.RetryDelay
	return sc
}

// NewConsumer connects a consumer group; call Start to begin consuming
func NewConsumer(cfg *config.KafkaConfig, handler ScoreHandler, logger *slog.Logger) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}
	return &Consumer{
		config:  cfg,
		handler: handler,
		logger:  logger.With("topic", cfg.Topic, "group_id", cfg.GroupID),
		group:   group,
		ready:   make(chan struct{}),
	}, nil
}

// Start consumes in the background and waits for the first session.
// If ctx ends first the consumer is stopped and the error returned.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting Kafka consumer", "brokers", c.config.Brokers)

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(2)
	go c.consume(runCtx)
	go c.logErrors(runCtx)

	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
		return nil
	case <-ctx.Done():
		c.Stop()
		return fmt.Errorf("waiting for first consumer session: %w", ctx.Err())
	}
}

// consume rejoins the group after every rebalance until ctx ends
func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()
	topics := []string{c.config.Topic}
	for ctx.Err() == nil {
		err := c.group.Consume(ctx, topics, &consumerGroupHandler{consumer: c})
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return
		case err != nil:
			c.logger.Error("consumer session ended", "error", err)
		}
	}
}

func (c *Consumer) logErrors(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			c.logger.Error("consumer group error", "error", err)
		}
	}
}

func (c *Consumer) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// Stop ends consumption, waits for in-flight batches and closes the group
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.group.Close()
}

// DecodeScoreEvent parses and validates one message value
func DecodeScoreEvent(value []byte) (domain.ScoreSubmission, error) {
	var event domain.ScoreEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return domain.ScoreSubmission{}, fmt.Errorf("decoding score event: %w", err)
	}
	if domain.ContainsNUL(value) {
		return domain.ScoreSubmission{}, domain.Invalid("score event contains a NUL character")
	}
	return event.Submission()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler for one session
type consumerGroupHandler struct {
	consumer *Consumer
}

func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.consumer.logger.Debug("consumer session started", "generation", session.GenerationID())
	h.consumer.markReady()
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim batches valid events and hands them to the score service.
// Offsets are marked only after the batch holding them is applied; invalid
// events are logged and marked with it. When a batch fails the claim ends
// without marking, so the session restarts from the last committed offset.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	logger := h.consumer.logger.With("partition", claim.Partition())
	pending := newBatch(h.consumer.handler, cfg.BatchSize, cfg.BatchTimeout, logger)

	// last is the newest message read; marking it commits everything before it
	var last *sarama.ConsumerMessage
	flush := func() error {
		if pending.len() > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := pending.flush(ctx); err != nil {
				return err
			}
		}
		if last != nil {
			session.MarkMessage(last, "")
			last = nil
		}
		return nil
	}
	fail := func(err error) error {
		logger.Error("score batch failed, offsets left for redelivery", "error", err)
		select {
		case <-session.Context().Done():
		case <-time.After(cfg.RetryDelay):
		}
		return fmt.Errorf("applying score batch: %w", err)
	}

	tick := time.NewTicker(tickInterval(cfg.BatchTimeout))
	defer tick.Stop()

	for {
		select {
		case <-session.Context().Done():
			if err := flush(); err != nil {
				return fail(err)
			}
			return nil

		case now := <-tick.C:
			if pending.due(now) {
				if err := flush(); err != nil {
					return fail(err)
				}
			}

		case message, ok := <-claim.Messages():
			if !ok {
				if err := flush(); err != nil {
					return fail(err)
				}
				return nil
			}
			last = message

			sub, err := DecodeScoreEvent(message.Value)
			if err != nil {
				logger.Warn("skipping score event", "error", err, "offset", message.Offset)
				if pending.len() == 0 {
					session.MarkMessage(message, "")
					last = nil
				}
				continue
			}

			if pending.add(sub, time.Now()) {
				if err := flush(); err != nil {
					return fail(err)
				}
			}
		}
	}
}

// tickInterval checks for due batches a few times per timeout window
func tickInterval(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 100 * time.Millisecond
	}
	if d := timeout / 4; d > 10*time.Millisecond {
		return d
	}
	return 10 * time.Millisecond
}
