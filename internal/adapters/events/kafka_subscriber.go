package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/pkg/config"
)

const fetchBackoff = time.Second

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSubscriber consumes booking events from a topic as part of a
// consumer group. Offsets are committed once an event is handed over.
type KafkaSubscriber struct {
	newReader func(topic string) messageReader
}

// NewKafkaSubscriber creates a new Kafka subscriber
func NewKafkaSubscriber(cfg config.KafkaConfig) (*KafkaSubscriber, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer group cannot be empty")
	}

	return &KafkaSubscriber{
		newReader: func(topic string) messageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:     cfg.Brokers,
				Topic:       topic,
				GroupID:     cfg.ConsumerGroup,
				StartOffset: kafka.LastOffset,
				Logger:      kafka.LoggerFunc(func(string, ...any) {}),
				ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
					log.Error().Msgf(msg, args...)
				}),
			})
		},
	}, nil
}

// Subscribe reads events from topic until ctx is done
func (s *KafkaSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *entities.BookingEvent, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	reader := s.newReader(topic)
	events := make(chan *entities.BookingEvent, 100)
	go s.consume(ctx, topic, reader, events)
	return events, nil
}

func (s *KafkaSubscriber) consume(ctx context.Context, topic string, reader messageReader, events chan<- *entities.BookingEvent) {
	defer close(events)
	defer func() {
		if err := reader.Close(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Failed to close kafka reader")
		}
	}()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Failed to fetch booking event")
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchBackoff):
			}
			continue
		}

		var event entities.BookingEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Warn().Err(err).Str("topic", topic).Int64("offset", msg.Offset).Msg("Skipping malformed booking event")
		} else {
			select {
			case events <- &event:
			case <-ctx.Done():
				return
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Warn().Err(err).Str("topic", topic).Int64("offset", msg.Offset).Msg("Failed to commit booking event offset")
		}
	}
}
