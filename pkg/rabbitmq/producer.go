/**
 * @description
 * This package provides the RabbitMQ plumbing for the analysis pipeline:
 * a producer publishing persistent messages to durable, per-planet work
 * queues via the default exchange, and a consumer with an
 * ack-on-handled acknowledgement model.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// QueueProducer holds the RabbitMQ connection and channel for publishing
// job messages to named queues.
type QueueProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel

	mu       sync.Mutex
	declared map[string]bool
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewQueueProducer creates and returns a new QueueProducer.
func NewQueueProducer(amqpURL string) (*QueueProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &QueueProducer{conn: conn, channel: ch, declared: make(map[string]bool)}, nil
}

// currentChannel snapshots the channel under the mutex; reopenChannel
// swaps it concurrently with in-flight publishes.
func (p *QueueProducer) currentChannel() *amqp091.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

func (p *QueueProducer) ensureQueue(queue string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declared[queue] {
		return nil
	}
	if _, err := p.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return err
	}
	p.declared[queue] = true
	return nil
}

// PublishToQueue sends one persistent JSON message to a durable named
// queue, declaring the queue lazily on first use.
func (p *QueueProducer) PublishToQueue(ctx context.Context, queue string, body interface{}) error {
	if err := p.ensureQueue(queue); err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"queue declare failed; reopening channel\" queue=%s err=%v", queue, err)
		if reopenErr := p.reopenChannel(); reopenErr != nil {
			return reopenErr
		}
		if err := p.ensureQueue(queue); err != nil {
			return err
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" queue=%s err=%v", queue, err)
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         jsonBody,
	}

	err = p.currentChannel().PublishWithContext(ctx, "", queue, false, false, publishing)
	if err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" queue=%s err=%v", queue, err)
		// One-shot retry: reopen channel and try again
		if reopenErr := p.reopenChannel(); reopenErr != nil {
			return err
		}
		if err := p.ensureQueue(queue); err != nil {
			return err
		}
		return p.currentChannel().PublishWithContext(ctx, "", queue, false, false, publishing)
	}
	return nil
}

func (p *QueueProducer) reopenChannel() error {
	if p.conn == nil {
		return errors.New("no AMQP connection")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.mu.Lock()
	old := p.channel
	p.channel = ch
	p.declared = make(map[string]bool)
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *QueueProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
