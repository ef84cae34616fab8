package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	errPublishNacked   = errors.New("broker nacked the publish")
	errPublishReturned = errors.New("broker returned the message as unroutable")
)

// connection and channel narrow amqp091 to what the dispatcher uses.
type connection interface {
	channel() (channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type channel interface {
	confirm() error
	qos(prefetch int) error
	declareQueue(name string, autoDelete bool) error
	deleteQueue(name string) error
	publish(ctx context.Context, queue string, msg amqp.Publishing) error
	consume(queue, tag string) (<-chan amqp.Delivery, error)
	cancel(tag string) error
	Close() error
}

type dialFunc func(url string) (connection, error)

func dialAMQP(url string) (connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) channel() (channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	// Publishes are serialized, so one buffered return is enough.
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	return &amqpChannel{ch: ch, returns: returns}, nil
}

func (c *amqpConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

func (c *amqpConnection) Close() error { return c.conn.Close() }

type amqpChannel struct {
	ch      *amqp.Channel
	returns chan amqp.Return
}

func (c *amqpChannel) confirm() error { return c.ch.Confirm(false) }

func (c *amqpChannel) qos(prefetch int) error { return c.ch.Qos(prefetch, 0, false) }

// declareQueue is idempotent as long as every declarer passes the same flags.
func (c *amqpChannel) declareQueue(name string, autoDelete bool) error {
	_, err := c.ch.QueueDeclare(
		name,
		true,       // durable
		autoDelete, // autoDelete
		false,      // exclusive
		false,      // noWait
		nil,
	)
	return err
}

func (c *amqpChannel) deleteQueue(name string) error {
	_, err := c.ch.QueueDelete(name, false, false, false)
	return err
}

// publish sends on the default exchange as mandatory and waits for the broker
// confirm. RabbitMQ delivers basic.return before the confirm of the same
// message, so a return is already buffered when the confirm arrives.
func (c *amqpChannel) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	c.drainReturns()
	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx,
		"",    // default exchange
		queue, // routing key = queue
		true,  // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return err
	}
	if dc == nil {
		return nil
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errPublishNacked
	}
	select {
	case r, open := <-c.returns:
		if open {
			return fmt.Errorf("%w: %d %s", errPublishReturned, r.ReplyCode, r.ReplyText)
		}
	default:
	}
	return nil
}

func (c *amqpChannel) drainReturns() {
	for {
		select {
		case _, open := <-c.returns:
			if !open {
				return
			}
		default:
			return
		}
	}
}

func (c *amqpChannel) consume(queue, tag string) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(
		queue,
		tag,
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
}

func (c *amqpChannel) cancel(tag string) error { return c.ch.Cancel(tag, false) }

func (c *amqpChannel) Close() error { return c.ch.Close() }
