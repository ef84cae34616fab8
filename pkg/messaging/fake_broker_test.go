package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeBroker is an in-memory stand-in for RabbitMQ covering the subset of
// AMQP the dispatcher uses: default-exchange publishing, durable queues,
// one consumer per queue and ack/nack/reject settlement.
type fakeBroker struct {
	mu sync.Mutex

	unreachable bool
	failDials   int
	dials       int

	queues  map[string]*fakeQueue
	deleted []string
	conns   []*fakeConn

	nextTag  uint64
	inflight map[uint64]inflightDelivery
	settled  map[uint64]string

	deleteOnPublish bool
	returned        int
}

type fakeQueue struct {
	autoDelete bool
	backlog    []amqp.Delivery
	consumer   *fakeConsumer
}

type fakeConsumer struct {
	tag    string
	queue  string
	ch     chan amqp.Delivery
	closed bool
}

type inflightDelivery struct {
	queue string
	dlv   amqp.Delivery
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		queues:   make(map[string]*fakeQueue),
		inflight: make(map[uint64]inflightDelivery),
		settled:  make(map[uint64]string),
	}
}

func (b *fakeBroker) dial(string) (connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.unreachable {
		return nil, errors.New("dial tcp: connection refused")
	}
	if b.failDials > 0 {
		b.failDials--
		return nil, errors.New("dial tcp: connection refused")
	}
	c := &fakeConn{broker: b}
	b.conns = append(b.conns, c)
	return c, nil
}

func (b *fakeBroker) setUnreachable(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unreachable = v
}

func (b *fakeBroker) deleteQueueOnNextPublish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleteOnPublish = true
}

func (b *fakeBroker) returnedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.returned
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// dropConnections simulates the broker closing every open connection.
func (b *fakeBroker) dropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		if c.closed {
			continue
		}
		for _, r := range c.notify {
			select {
			case r <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED"}:
			default:
			}
		}
		c.closeLocked()
	}
}

func (b *fakeBroker) connClosed(i int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[i].closed
}

func (b *fakeBroker) queueExists(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

func (b *fakeBroker) wasDeleted(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.deleted {
		if q == name {
			return true
		}
	}
	return false
}

func (b *fakeBroker) backlog(name string) []amqp.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	return append([]amqp.Delivery(nil), q.backlog...)
}

// outcomes returns the settlement of every delivery in tag order.
func (b *fakeBroker) outcomes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for tag := uint64(1); tag <= b.nextTag; tag++ {
		if s, ok := b.settled[tag]; ok {
			out = append(out, s)
		}
	}
	return out
}

// publishRaw bypasses the dispatcher, as a foreign producer would.
func (b *fakeBroker) publishRaw(queue string, msg amqp.Publishing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		q = &fakeQueue{}
		b.queues[queue] = q
	}
	b.deliverLocked(queue, q, msg.Headers, msg, false)
}

func (b *fakeBroker) deliverLocked(queue string, q *fakeQueue, headers amqp.Table, msg amqp.Publishing, redelivered bool) {
	b.nextTag++
	dlv := amqp.Delivery{
		Acknowledger: b,
		Headers:      headers,
		ContentType:  msg.ContentType,
		DeliveryMode: msg.DeliveryMode,
		MessageId:    msg.MessageId,
		Timestamp:    msg.Timestamp,
		Type:         msg.Type,
		AppId:        msg.AppId,
		DeliveryTag:  b.nextTag,
		Redelivered:  redelivered,
		RoutingKey:   queue,
		Body:         msg.Body,
	}
	b.inflight[dlv.DeliveryTag] = inflightDelivery{queue: queue, dlv: dlv}
	if q.consumer != nil && !q.consumer.closed {
		q.consumer.ch <- dlv
		return
	}
	q.backlog = append(q.backlog, dlv)
}

func (b *fakeBroker) Ack(tag uint64, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settleLocked(tag, "ack", false)
}

func (b *fakeBroker) Nack(tag uint64, _ bool, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if requeue {
		return b.settleLocked(tag, "requeue", true)
	}
	return b.settleLocked(tag, "nack", false)
}

func (b *fakeBroker) Reject(tag uint64, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settleLocked(tag, "reject", requeue)
}

func (b *fakeBroker) settleLocked(tag uint64, outcome string, requeue bool) error {
	in, ok := b.inflight[tag]
	if !ok {
		return fmt.Errorf("unknown delivery tag %d", tag)
	}
	delete(b.inflight, tag)
	b.settled[tag] = outcome
	if requeue {
		if q, ok := b.queues[in.queue]; ok {
			msg := amqp.Publishing{
				ContentType:  in.dlv.ContentType,
				DeliveryMode: in.dlv.DeliveryMode,
				MessageId:    in.dlv.MessageId,
				Timestamp:    in.dlv.Timestamp,
				Type:         in.dlv.Type,
				AppId:        in.dlv.AppId,
				Body:         in.dlv.Body,
			}
			b.deliverLocked(in.queue, q, in.dlv.Headers, msg, true)
		}
	}
	return nil
}

type fakeConn struct {
	broker   *fakeBroker
	closed   bool
	notify   []chan *amqp.Error
	channels []*fakeChannel
}

func (c *fakeConn) channel() (channel, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &fakeChannel{conn: c}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeConn) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closeLocked()
	return nil
}

func (c *fakeConn) closeLocked() {
	c.closed = true
	for _, ch := range c.channels {
		ch.closeLocked()
	}
	for _, r := range c.notify {
		close(r)
	}
	c.notify = nil
}

type fakeChannel struct {
	conn      *fakeConn
	closed    bool
	confirms  bool
	prefetch  int
	consumers []*fakeConsumer
}

func (ch *fakeChannel) broker() *fakeBroker { return ch.conn.broker }

func (ch *fakeChannel) closeLocked() {
	if ch.closed {
		return
	}
	ch.closed = true
	for _, c := range ch.consumers {
		ch.closeConsumerLocked(c)
	}
}

func (ch *fakeChannel) closeConsumerLocked(c *fakeConsumer) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
	if q, ok := ch.broker().queues[c.queue]; ok && q.consumer == c {
		q.consumer = nil
	}
}

func (ch *fakeChannel) confirm() error {
	ch.broker().mu.Lock()
	defer ch.broker().mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.confirms = true
	return nil
}

func (ch *fakeChannel) qos(prefetch int) error {
	ch.broker().mu.Lock()
	defer ch.broker().mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetch
	return nil
}

func (ch *fakeChannel) declareQueue(name string, autoDelete bool) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if q, ok := b.queues[name]; ok {
		if q.autoDelete != autoDelete {
			return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg 'auto_delete'"}
		}
		return nil
	}
	b.queues[name] = &fakeQueue{autoDelete: autoDelete}
	return nil
}

func (ch *fakeChannel) deleteQueue(name string) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	if q.consumer != nil {
		ch.closeConsumerLocked(q.consumer)
	}
	delete(b.queues, name)
	b.deleted = append(b.deleted, name)
	return nil
}

func (ch *fakeChannel) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if b.deleteOnPublish {
		// the queue vanishes between declare and publish
		b.deleteOnPublish = false
		delete(b.queues, queue)
		b.deleted = append(b.deleted, queue)
	}
	q, ok := b.queues[queue]
	if !ok {
		// mandatory publish with no route: returned, as amqpChannel reports it
		b.returned++
		return fmt.Errorf("%w: %d NO_ROUTE", errPublishReturned, amqp.NoRoute)
	}
	b.deliverLocked(queue, q, msg.Headers, msg, false)
	return nil
}

func (ch *fakeChannel) consume(queue, tag string) (<-chan amqp.Delivery, error) {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := b.queues[queue]
	if !ok {
		return nil, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + queue + "'"}
	}
	c := &fakeConsumer{tag: tag, queue: queue, ch: make(chan amqp.Delivery, 64)}
	q.consumer = c
	ch.consumers = append(ch.consumers, c)
	for _, dlv := range q.backlog {
		c.ch <- dlv
	}
	q.backlog = nil
	return c.ch, nil
}

func (ch *fakeChannel) cancel(tag string) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	for _, c := range ch.consumers {
		if c.tag == tag {
			ch.closeConsumerLocked(c)
		}
	}
	return nil
}

func (ch *fakeChannel) Close() error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.closeLocked()
	return nil
}
