package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/emailme/config"
)

// Start connects, declares the queue and consumes it, routing every message
// to its registered handler. With a blocking configuration Start returns when
// the loop ends: nil after Stop or ctx cancellation, ErrConnection when the
// broker connection is lost. Otherwise it returns once consuming has begun;
// use Done and Err to observe termination.
//
// A failed Start leaves the dispatcher STOPPED with no goroutine running.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	switch {
	case d.started:
		d.mu.Unlock()
		return fmt.Errorf("%w: dispatcher already started", ErrConfiguration)
	case d.state != StateConfigured && d.state != StateConnected:
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("%w: cannot start in state %s", ErrConfiguration, state)
	case len(d.routes) == 0:
		d.mu.Unlock()
		return fmt.Errorf("%w: no command handlers registered", ErrConfiguration)
	}
	d.started = true
	cfg := d.cfg
	d.mu.Unlock()

	log := d.logger.WithFields(logrus.Fields{"queue": cfg.Queue, "broker": cfg.Addr()})
	log.Info("Starting application")

	deliveries, err := d.openConsumer(ctx, cfg)
	if err != nil {
		if d.stopRequested() {
			d.finish(nil, true)
			return nil
		}
		log.WithError(err).Error("failed to start consumer")
		d.finish(err, false)
		return err
	}
	log.WithField("ack_mode", d.opts.ackMode.String()).Info("consuming commands")

	if !cfg.Blocking {
		go d.consume(ctx, deliveries)
		return nil
	}
	d.consume(ctx, deliveries)
	return d.Err()
}

// Stop ends consumption and closes the connection. A handler that is running
// finishes first. When the queue was configured auto-delete and this
// dispatcher consumed it, the queue is deleted. Stop is idempotent; it only
// fails if ctx expires before the in-flight handler returns.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	switch {
	case d.state == StateStopped:
		d.mu.Unlock()
		return nil
	case d.started:
		d.mu.Unlock()
		d.stopOnce.Do(func() { close(d.stopping) })
		select {
		case <-d.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.teardownLocked(true)
	d.state = StateStopped
	d.mu.Unlock()
	d.doneOnce.Do(func() { close(d.done) })
	d.logger.Info("dispatcher stopped")
	return nil
}

func (d *Dispatcher) stopRequested() bool {
	select {
	case <-d.stopping:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) openConsumer(ctx context.Context, cfg config.Broker) (<-chan amqp.Delivery, error) {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.stopping:
			cancel()
		case <-dialCtx.Done():
		}
	}()

	conn, err := d.connection(dialCtx)
	if err != nil {
		return nil, err
	}
	ch, err := conn.channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %w", ErrConnection, err)
	}
	fail := func(step string, err error) (<-chan amqp.Delivery, error) {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, step, err)
	}
	// one message at a time
	if err := ch.qos(1); err != nil {
		return fail("set qos", err)
	}
	if err := ch.declareQueue(cfg.Queue, cfg.AutoDelete); err != nil {
		return fail("declare queue "+cfg.Queue, err)
	}
	deliveries, err := ch.consume(cfg.Queue, d.tag)
	if err != nil {
		return fail("consume "+cfg.Queue, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != conn {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: connection closed while starting", ErrConnection)
	}
	d.consumeCh = ch
	d.state = StateConsuming
	return deliveries, nil
}

func (d *Dispatcher) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	// Handlers run to completion even when ctx is cancelled mid-message.
	hctx := context.WithoutCancel(ctx)
	for {
		if d.stopRequested() {
			d.finish(nil, true)
			return
		}
		select {
		case <-d.stopping:
			d.finish(nil, true)
			return
		case <-ctx.Done():
			d.logger.Info("context cancelled, stopping consumer")
			d.finish(nil, true)
			return
		case dlv, ok := <-deliveries:
			if !ok {
				if d.stopRequested() {
					d.finish(nil, true)
					return
				}
				err := fmt.Errorf("%w: delivery channel closed%s", ErrConnection, d.closeReason())
				d.logger.WithError(err).Error("consume loop terminated")
				d.finish(err, false)
				return
			}
			d.dispatch(hctx, dlv)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, dlv amqp.Delivery) {
	name := commandTypeOf(dlv)
	fields := logrus.Fields{
		"command_type": name,
		"message_id":   dlv.MessageId,
		"delivery_tag": dlv.DeliveryTag,
	}

	r, ok := d.routes[name]
	if !ok {
		err := fmt.Errorf("%w: no handler registered for command type %q", ErrDeserialization, name)
		d.logger.WithFields(fields).WithError(err).Error("unroutable message")
		d.settle(dlv, err, true, fields)
		return
	}

	f, err := DecodeFields(dlv.Body)
	if err != nil {
		d.logger.WithFields(fields).WithError(err).Error("malformed message body")
		d.settle(dlv, err, true, fields)
		return
	}
	cmd, err := r.decode(f)
	if err != nil {
		if !errors.Is(err, ErrDeserialization) {
			err = fmt.Errorf("%w: %w", ErrDeserialization, err)
		}
		d.logger.WithFields(fields).WithError(err).Error("cannot decode command")
		d.settle(dlv, err, true, fields)
		return
	}
	if lf, ok := cmd.(LogFielder); ok {
		for k, v := range lf.LogFields() {
			fields[k] = v
		}
	}

	if err := d.callHandler(name, func() error { return r.handle(ctx, cmd) }); err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrHandler, name, err)
		d.logger.WithFields(fields).WithError(err).Error("command handler failed")
		d.settle(dlv, err, false, fields)
		return
	}
	d.logger.WithFields(fields).Debug("command handled")
	d.settle(dlv, nil, false, fields)
}

// settle acks or rejects dlv according to the ack mode. Poison messages
// (unroutable or undecodable) are never requeued.
func (d *Dispatcher) settle(dlv amqp.Delivery, failure error, poison bool, fields logrus.Fields) {
	var err error
	action := "ack"
	switch {
	case failure == nil || d.opts.ackMode == AckAlways:
		err = dlv.Ack(false)
	case d.opts.ackMode == RequeueOnFailure && !poison:
		action = "requeue"
		err = dlv.Nack(false, true)
	default:
		action = "reject"
		err = dlv.Reject(false)
	}
	if err != nil {
		d.logger.WithFields(fields).WithError(err).Warnf("failed to %s message", action)
	}
}

func (d *Dispatcher) callHandler(commandType string, fn func() error) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			d.logger.WithFields(logrus.Fields{
				"command_type": commandType,
				"panic":        rvr,
				"stack":        string(debug.Stack()),
			}).Error("panic in command handler")
			err = fmt.Errorf("panic: %v", rvr)
		}
	}()
	return fn()
}

func commandTypeOf(dlv amqp.Delivery) string {
	if v, ok := dlv.Headers[HeaderCommandType].(string); ok && v != "" {
		return v
	}
	return dlv.Type
}

// finish tears the dispatcher down and marks it STOPPED. A non-nil err is
// kept as the fatal error reported by Err.
func (d *Dispatcher) finish(err error, graceful bool) {
	d.mu.Lock()
	d.teardownLocked(graceful)
	d.state = StateStopped
	if err != nil && d.err == nil {
		d.err = err
	}
	d.mu.Unlock()
	d.doneOnce.Do(func() { close(d.done) })
	if err == nil {
		d.logger.Info("dispatcher stopped")
	}
}

func (d *Dispatcher) teardownLocked(graceful bool) {
	if d.consumeCh != nil {
		if graceful {
			if err := d.consumeCh.cancel(d.tag); err != nil {
				d.logger.WithError(err).Warn("failed to cancel consumer")
			}
			if d.cfg.AutoDelete {
				if err := d.consumeCh.deleteQueue(d.cfg.Queue); err != nil {
					d.logger.WithError(err).WithField("queue", d.cfg.Queue).Warn("failed to delete queue")
				} else {
					d.logger.WithField("queue", d.cfg.Queue).Info("queue deleted")
				}
			}
		}
		_ = d.consumeCh.Close()
		d.consumeCh = nil
	}
	if d.pubCh != nil {
		_ = d.pubCh.Close()
		d.pubCh = nil
	}
	if d.conn != nil {
		if err := d.conn.Close(); err != nil && graceful {
			d.logger.WithError(err).Debug("connection close")
		}
		d.conn = nil
		d.closed = nil
	}
}
