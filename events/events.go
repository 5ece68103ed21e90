// Package events publishes fulfillment outcomes for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"
)

const DefaultTopic = "payments.fulfillment"

type FulfillmentEvent struct {
	PaymentID    uint      `json:"paymentId"`
	TenantID     string    `json:"tenantId"`
	ResellerID   uint      `json:"resellerId"`
	ResellerType string    `json:"resellerType"`
	Credits      int       `json:"credits"`
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	Attempts     int       `json:"attempts"`
	OccurredAt   time.Time `json:"occurredAt"`
}

type Publisher interface {
	PublishFulfillment(ctx context.Context, ev FulfillmentEvent) error
	Close() error
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("could not create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

// PublishFulfillment keys messages by payment id so a payment's outcomes stay ordered.
func (p *KafkaPublisher) PublishFulfillment(_ context.Context, ev FulfillmentEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("could not marshal fulfillment event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(uint64(ev.PaymentID), 10)),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("could not send fulfillment event: %w", err)
	}

	log.Debug().
		Uint("payment_id", ev.PaymentID).
		Int32("partition", partition).
		Int64("offset", offset).
		Bool("success", ev.Success).
		Msg("published fulfillment event")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// Noop drops every event.
type Noop struct{}

func (Noop) PublishFulfillment(context.Context, FulfillmentEvent) error { return nil }
func (Noop) Close() error                                                { return nil }
