// Package publish hands finished reports to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"call-review-go/internal/logger"
	"call-review-go/internal/types"
)

// Message is the envelope published for every report.
type Message struct {
	CallID        string              `json:"call_id"`
	OverallStatus types.OverallStatus `json:"overall_status"`
	OverallScore  *float64            `json:"overall_score"`
	Timestamp     time.Time           `json:"timestamp"`
	Report        types.Report        `json:"report"`
}

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes reports as persistent JSON messages on a durable
// queue through the default exchange.
type AMQPPublisher struct {
	queue string
	log   *logrus.Entry

	mu   sync.Mutex
	ch   Channel
	conn *amqp.Connection
}

func NewAMQPPublisher(ch Channel, queue string, log *logrus.Entry) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, queue: queue, log: logger.Component(log, "publish.amqp")}
}

// DialAMQP connects to url and declares queue as durable.
func DialAMQP(url, queue string, log *logrus.Entry) (*AMQPPublisher, error) {
	if url == "" || queue == "" {
		return nil, fmt.Errorf("AMQP URL or queue name not configured")
	}
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(5 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP server: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare AMQP queue: %w", err)
	}
	p := NewAMQPPublisher(ch, queue, log)
	p.conn = conn
	p.log.WithField("queue", queue).Info("Connected to AMQP server")
	return p, nil
}

// Put publishes rep. It satisfies the pipeline sink contract.
func (p *AMQPPublisher) Put(ctx context.Context, rep types.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := Message{
		CallID:        rep.CallID,
		OverallStatus: rep.OverallStatus,
		Timestamp:     time.Now().UTC(),
		Report:        rep,
	}
	if rep.Scores != nil {
		msg.OverallScore = rep.Scores.Overall
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return fmt.Errorf("AMQP channel is closed")
	}
	err = p.ch.Publish(
		"",      // default exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    rep.CallID,
			Timestamp:    msg.Timestamp,
			Headers: amqp.Table{
				"overall_status": string(rep.OverallStatus),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish report to AMQP: %w", err)
	}
	p.log.WithField("call_id", rep.CallID).Debug("report published")
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
		p.conn = nil
	}
	return err
}
