// Package queue wraps the durable AMQP-backed task bus: queue declaration
// with dead-letter routing and priority, envelope publish with backpressure,
// and consumer QoS/ack semantics (§4.1).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// ErrQueueFull is returned by Publish when the target queue has reached its
// configured max length — the gateway turns this into an HTTP 503.
var ErrQueueFull = errors.New("queue: target queue is full")

const maxPriority = 10

// Definition names one durable queue and its depth bound. A zero MaxLength
// means unbounded (e.g. for queues the system doesn't expect bursts on).
type Definition struct {
	Name      string
	MaxLength int
}

// DLQName returns the dead-letter queue name for a given queue.
func DLQName(queue string) string {
	return queue + "_dlq"
}

// Bus owns the AMQP connection and the channels used for publish and
// consume. One Bus per process is typical; internal/queue.Consumer opens an
// additional channel per consumer goroutine for independent QoS.
type Bus struct {
	conn *amqp.Connection
}

// Dial connects to the AMQP broker at url.
func Dial(url string) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	return &Bus{conn: conn}, nil
}

// Close shuts down the underlying AMQP connection.
func (b *Bus) Close() error {
	return b.conn.Close()
}

// DeclareQueues declares every queue in defs plus its dead-letter queue,
// wiring each main queue's dead-letter-exchange to route nacked-without-
// requeue and expired messages to <queue>_dlq, and setting x-max-priority
// and (when MaxLength > 0) x-max-length with overflow=reject-publish so a
// saturated queue rejects new publishes instead of silently dropping the
// oldest message.
func (b *Bus) DeclareQueues(defs []Definition) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open declare channel: %w", err)
	}
	defer ch.Close()

	for _, def := range defs {
		dlq := DLQName(def.Name)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, amqp.Table{
			"x-max-priority": int32(maxPriority),
		}); err != nil {
			return fmt.Errorf("declare dlq %s: %w", dlq, err)
		}

		args := amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlq,
			"x-max-priority":            int32(maxPriority),
		}
		if def.MaxLength > 0 {
			args["x-max-length"] = int32(def.MaxLength)
			args["x-overflow"] = "reject-publish"
		}
		if _, err := ch.QueueDeclare(def.Name, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", def.Name, err)
		}
	}
	return nil
}

// Publisher publishes envelopes onto a single declared queue.
type Publisher struct {
	ch    *amqp.Channel
	queue string
}

// NewPublisher opens a dedicated channel for publishing to queue.
func (b *Bus) NewPublisher(queue string) (*Publisher, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	// Confirm mode lets Publish distinguish a broker-side reject (queue full,
	// overflow=reject-publish) from a successful enqueue.
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &Publisher{ch: ch, queue: queue}, nil
}

// Close releases the publisher's channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}

// Publish sends env with persistent delivery and the given priority
// (0-10, higher is more urgent). If the queue is at its configured max
// length (x-overflow=reject-publish), the broker nacks the publisher
// confirmation and Publish returns ErrQueueFull.
func (p *Publisher) Publish(ctx context.Context, env Envelope, priority uint8) error {
	if priority > maxPriority {
		priority = maxPriority
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	confirms := p.ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	err = p.ch.Publish("", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     priority,
		MessageId:    env.TaskID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}

	select {
	case confirm := <-confirms:
		if !confirm.Ack {
			return ErrQueueFull
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("publish to %s: confirmation timed out", p.queue)
	}
}

// Delivery wraps an amqp.Delivery with the decoded Envelope already parsed,
// or ParseErr set when the body wasn't a valid Envelope / had an unknown
// task type — such deliveries must be Nack'd without requeue.
type Delivery struct {
	raw      amqp.Delivery
	Envelope Envelope
	ParseErr error
}

// Ack acknowledges successful terminal processing.
func (d Delivery) Ack() error {
	return d.raw.Ack(false)
}

// NackRequeue nacks a transient failure, asking the broker to redeliver.
func (d Delivery) NackRequeue() error {
	return d.raw.Nack(false, true)
}

// NackDiscard nacks a malformed or permanently-failed envelope without
// requeue; the dead-letter-exchange routes it to the queue's DLQ.
func (d Delivery) NackDiscard() error {
	return d.raw.Nack(false, false)
}

// Consumer reads deliveries off one queue with bounded prefetch.
type Consumer struct {
	ch  *amqp.Channel
	tag string
}

// NewConsumer opens a dedicated channel for queue with QoS prefetch set to
// the caller's configured concurrency (§4.1 "QoS prefetch <= configured
// concurrency").
func (b *Bus) NewConsumer(queue string, prefetch int, consumerTag string) (*Consumer, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &Consumer{ch: ch, tag: consumerTag}, nil
}

// Consume starts delivery of messages from queue. The returned channel's
// Envelope/ParseErr are already decoded — callers never touch raw JSON.
func (c *Consumer) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	deliveries, err := c.ch.Consume(queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-deliveries:
				if !ok {
					return
				}
				var env Envelope
				parseErr := json.Unmarshal(raw.Body, &env)
				if parseErr == nil && !env.TaskType.Valid() {
					parseErr = fmt.Errorf("unrecognized task_type %q", env.TaskType)
				}
				select {
				case out <- Delivery{raw: raw, Envelope: env, ParseErr: parseErr}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close cancels the consumer and releases its channel.
func (c *Consumer) Close() error {
	return c.ch.Close()
}

// PeekDLQ inspects (without consuming) the number of messages sitting in a
// queue's dead-letter queue — operator tooling for deciding whether a replay
// is warranted.
func (b *Bus) PeekDLQ(queue string) (int, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("open inspect channel: %w", err)
	}
	defer ch.Close()
	q, err := ch.QueueInspect(DLQName(queue))
	if err != nil {
		return 0, fmt.Errorf("inspect dlq %s: %w", DLQName(queue), err)
	}
	return q.Messages, nil
}

// RequeueFromDLQ moves up to max messages from a queue's DLQ back onto the
// live queue, preserving their original priority and body. There is no
// automatic replay policy — an operator invokes this deliberately.
func (b *Bus) RequeueFromDLQ(queue string, max int) (int, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("open requeue channel: %w", err)
	}
	defer ch.Close()

	dlq := DLQName(queue)
	moved := 0
	for moved < max {
		msg, ok, err := ch.Get(dlq, false)
		if err != nil {
			return moved, fmt.Errorf("get from dlq %s: %w", dlq, err)
		}
		if !ok {
			break
		}
		if err := ch.Publish("", queue, false, false, amqp.Publishing{
			ContentType:  msg.ContentType,
			DeliveryMode: amqp.Persistent,
			Priority:     msg.Priority,
			MessageId:    msg.MessageId,
			Body:         msg.Body,
		}); err != nil {
			_ = msg.Nack(false, true)
			return moved, fmt.Errorf("republish from dlq %s: %w", dlq, err)
		}
		_ = msg.Ack(false)
		moved++
	}
	return moved, nil
}
