package job

import (
	"context"
	"time"

	"casinopay/internal/model"
	"casinopay/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Publisher is satisfied by *mq.Producer.
type Publisher interface {
	Publish(topic, key, value string) error
}

// OutboxSender drains settlement events written by the ledger to Kafka.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	maxRetries int
	log        *logrus.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, maxRetries int, log *logrus.Logger) *OutboxSender {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		maxRetries: maxRetries,
		log:        log,
		stopCh:     make(chan struct{}),
		interval:   500 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("[OutboxSender] started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("[OutboxSender] context cancelled, exiting")
			return
		case <-s.stopCh:
			s.log.Info("[OutboxSender] stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// processPendingMessages sends one batch and reports how many were delivered.
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("[OutboxSender] load pending messages")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	fields := logrus.Fields{"id": msg.ID, "topic": msg.Topic, "key": msg.MessageKey}

	if err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload); err != nil {
		s.log.WithFields(fields).WithError(err).Warn("[OutboxSender] publish failed")
		parked, updateErr := s.outboxRepo.RecordFailure(ctx, msg, s.maxRetries)
		if updateErr != nil {
			s.log.WithFields(fields).WithError(updateErr).Error("[OutboxSender] record failure")
		} else if parked {
			s.log.WithFields(fields).Error("[OutboxSender] retries exhausted, message parked as FAILED")
		}
		return false
	}

	if err := s.outboxRepo.MarkSent(ctx, msg.ID); err != nil {
		// the message will be sent again; consumers dedupe on transaction_id
		s.log.WithFields(fields).WithError(err).Error("[OutboxSender] mark sent")
		return false
	}
	s.log.WithFields(fields).Debug("[OutboxSender] message sent")
	return true
}
