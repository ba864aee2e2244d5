// Package events announces finished story renders on a RabbitMQ topic
// exchange so downstream consumers can react without polling job status.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dunamismax/storyframe/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RoutingKeyStoryRendered = "story.rendered"
	RoutingKeyStoryFailed   = "story.failed"
)

type StoryRendered struct {
	JobID       string            `json:"job_id"`
	SubmitterID string            `json:"submitter_id,omitempty"`
	Layout      domain.Layout     `json:"layout"`
	Mode        domain.LayoutMode `json:"mode"`
	OutputKey   string            `json:"output_key"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Bytes       int               `json:"bytes"`
	RenderedAt  time.Time         `json:"rendered_at"`
}

type StoryFailed struct {
	JobID       string        `json:"job_id"`
	SubmitterID string        `json:"submitter_id,omitempty"`
	Layout      domain.Layout `json:"layout"`
	Input       string        `json:"input,omitempty"`
	Stage       string        `json:"stage,omitempty"`
	Error       string        `json:"error"`
	FailedAt    time.Time     `json:"failed_at"`
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Nop discards events. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error {
	return nil
}

func (Nop) Close() error {
	return nil
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	timeout  time.Duration
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if strings.TrimSpace(exchange) == "" {
		return nil, fmt.Errorf("exchange is required")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		timeout:  5 * time.Second,
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", routingKey, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    time.Now().UTC(),
			Type:         routingKey,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", routingKey, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	if p.channel != nil {
		firstErr = p.channel.Close()
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
