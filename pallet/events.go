package pallet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/mohans/arbridge/internal/logging"
)

// EventSink receives events after the extrinsic that produced them has committed.
type EventSink interface {
	Publish(ctx context.Context, events []Event) error
}

// LogSink writes events to a logger.
type LogSink struct {
	Log logging.Logger
}

func (s LogSink) Publish(_ context.Context, events []Event) error {
	for _, ev := range events {
		s.Log.Infof("event %s task_id=%d block=%d", ev.Kind, ev.TaskID, ev.Block)
	}
	return nil
}

// amqpChannel is the part of *amqp.Channel the sink uses.
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events as JSON messages to a durable RabbitMQ queue.
type AMQPSink struct {
	conn  *amqp.Connection
	ch    amqpChannel
	queue string
}

func DialAMQPSink(url, queue string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", queue, err)
	}
	return &AMQPSink{conn: conn, ch: ch, queue: queue}, nil
}

func (s *AMQPSink) Publish(_ context.Context, events []Event) error {
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		err = s.ch.Publish("", s.queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Type:         string(ev.Kind),
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("amqp publish %s: %w", ev.Kind, err)
		}
	}
	return nil
}

func (s *AMQPSink) Close() error {
	if s.ch != nil {
		s.ch.Close()
	}
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
