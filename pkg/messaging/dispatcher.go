package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/emailme/config"
)

type route struct {
	decode func(Fields) (Command, error)
	handle func(context.Context, Command) error
}

// Dispatcher owns one broker connection, the table of registered command
// handlers, and the publish and consume paths built on them.
//
// A Dispatcher is safe for concurrent PublishMessage calls. Its connection is
// never shared with another Dispatcher.
type Dispatcher struct {
	logger *logrus.Logger
	opts   options
	dial   dialFunc
	tag    string

	mu        sync.Mutex
	state     State
	cfg       config.Broker
	routes    map[string]route
	started   bool
	conn      connection
	closed    chan *amqp.Error
	pubCh     channel
	consumeCh channel
	err       error

	// pubMu serializes publishes on the shared publish channel.
	pubMu sync.Mutex

	stopping chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// NewDispatcher returns an unconfigured Dispatcher.
func NewDispatcher(logger *logrus.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	o := newOptions(opts...)
	return &Dispatcher{
		logger:   logger,
		opts:     o,
		dial:     dialAMQP,
		tag:      o.appName + "-" + uuid.NewString(),
		state:    StateUnconfigured,
		routes:   make(map[string]route),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Configure validates the broker parameters. It does not connect.
func (d *Dispatcher) Configure(cfg config.Broker) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateUnconfigured && d.state != StateConfigured {
		return fmt.Errorf("%w: cannot configure in state %s", ErrConfiguration, d.state)
	}
	d.cfg = cfg
	d.state = StateConfigured
	d.logger.WithFields(logrus.Fields{
		"broker":      cfg.Addr(),
		"queue":       cfg.Queue,
		"auto_delete": cfg.AutoDelete,
		"blocking":    cfg.Blocking,
	}).Debug("dispatcher configured")
	return nil
}

// Register binds handler h to the command type C. Routing uses the
// CommandType of C's zero value. Only one handler per command type is
// accepted, and registration is closed once Start has been called.
func Register[C Command](d *Dispatcher, decode DecodeFunc[C], h Handler[C]) error {
	if decode == nil || h == nil {
		return fmt.Errorf("%w: decoder and handler are required", ErrConfiguration)
	}
	var zero C
	name := zero.CommandType()
	return d.addRoute(name, route{
		decode: func(f Fields) (Command, error) {
			c, err := decode(f)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		handle: func(ctx context.Context, cmd Command) error {
			c, ok := cmd.(C)
			if !ok {
				return fmt.Errorf("%w: handler for %s received %T", ErrDeserialization, name, cmd)
			}
			return h.Handle(ctx, c)
		},
	})
}

func (d *Dispatcher) addRoute(name string, r route) error {
	if name == "" {
		return fmt.Errorf("%w: command type must not be empty", ErrConfiguration)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.state == StateConsuming || d.state == StateStopped {
		return fmt.Errorf("%w: cannot register %s after start", ErrConfiguration, name)
	}
	if _, dup := d.routes[name]; dup {
		return fmt.Errorf("%w: handler already registered for %s", ErrConfiguration, name)
	}
	d.routes[name] = r
	d.logger.WithField("command_type", name).Debug("command handler registered")
	return nil
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Done is closed once the dispatcher reaches STOPPED.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Err returns the fatal error that stopped the dispatcher, if any.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// PublishMessage encodes cmd and publishes it to the configured queue,
// connecting first if needed. It returns once the broker has confirmed the
// message; a message the broker could not route to the queue is an error.
// Failures are reported as ErrPublish and are not retried.
func (d *Dispatcher) PublishMessage(ctx context.Context, cmd Command) error {
	if cmd == nil {
		return fmt.Errorf("%w: nil command", ErrPublish)
	}
	name := cmd.CommandType()
	body, err := EncodeFields(cmd.Fields())
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrPublish, name, err)
	}

	d.pubMu.Lock()
	defer d.pubMu.Unlock()

	ch, cfg, err := d.publishChannel(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublish, name, err)
	}
	queue := cfg.Queue
	// An auto-delete queue disappears when its consumer stops, so it is
	// declared again before every publish.
	if err := ch.declareQueue(queue, cfg.AutoDelete); err != nil {
		d.discardPublishChannel(ch)
		return fmt.Errorf("%w: %s: %w: declare queue %s: %w", ErrPublish, name, ErrConnection, queue, err)
	}

	msg := amqp.Publishing{
		Headers:      amqp.Table{HeaderCommandType: name},
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         name,
		AppId:        d.opts.appName,
		Body:         body,
	}
	if err := ch.publish(ctx, queue, msg); err != nil {
		d.discardPublishChannel(ch)
		return fmt.Errorf("%w: %s: %w", ErrPublish, name, err)
	}

	d.logger.WithFields(logrus.Fields{
		"command_type": name,
		"message_id":   msg.MessageId,
		"queue":        queue,
	}).Debug("command published")
	return nil
}

func (d *Dispatcher) publishChannel(ctx context.Context) (channel, config.Broker, error) {
	conn, err := d.connection(ctx)
	if err != nil {
		return nil, config.Broker{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pubCh != nil {
		return d.pubCh, d.cfg, nil
	}
	if d.conn != conn {
		return nil, config.Broker{}, fmt.Errorf("%w: connection closed", ErrConnection)
	}

	ch, err := conn.channel()
	if err != nil {
		d.releaseIdleConnLocked()
		return nil, config.Broker{}, fmt.Errorf("%w: open channel: %w", ErrConnection, err)
	}
	if err := ch.confirm(); err != nil {
		_ = ch.Close()
		d.releaseIdleConnLocked()
		return nil, config.Broker{}, fmt.Errorf("%w: enable confirms: %w", ErrConnection, err)
	}
	d.pubCh = ch
	return ch, d.cfg, nil
}

// discardPublishChannel drops a publish channel after a failed publish so the
// next call opens a fresh one.
func (d *Dispatcher) discardPublishChannel(ch channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pubCh != ch {
		return
	}
	_ = ch.Close()
	d.pubCh = nil
	d.releaseIdleConnLocked()
}

// releaseIdleConnLocked closes a connection that only served publishes, so a
// broken one is re-dialed by the next publish.
func (d *Dispatcher) releaseIdleConnLocked() {
	if d.state != StateConnected || d.started || d.conn == nil {
		return
	}
	if d.pubCh != nil {
		_ = d.pubCh.Close()
		d.pubCh = nil
	}
	_ = d.conn.Close()
	d.conn = nil
	d.closed = nil
	d.state = StateConfigured
}

// connection returns the dispatcher's connection, dialing it on first use.
func (d *Dispatcher) connection(ctx context.Context) (connection, error) {
	d.mu.Lock()
	if d.conn != nil {
		conn := d.conn
		d.mu.Unlock()
		return conn, nil
	}
	switch d.state {
	case StateUnconfigured:
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: dispatcher is not configured", ErrConfiguration)
	case StateStopped:
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: dispatcher is stopped", ErrConnection)
	}
	cfg := d.cfg
	d.mu.Unlock()

	conn, err := d.dialWithRetry(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, cfg.Addr(), err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateStopped {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: dispatcher is stopped", ErrConnection)
	}
	if d.conn != nil {
		_ = conn.Close()
		return d.conn, nil
	}
	d.conn = conn
	d.closed = conn.NotifyClose(make(chan *amqp.Error, 1))
	if d.state == StateConfigured {
		d.state = StateConnected
	}
	d.logger.WithField("broker", cfg.Addr()).Info("connected to broker")
	return conn, nil
}

func (d *Dispatcher) dialWithRetry(ctx context.Context, cfg config.Broker) (connection, error) {
	if d.opts.dialRetries == 0 {
		return d.dial(cfg.URL())
	}

	b := retry.NewExponential(d.opts.dialBackoff)
	b = retry.WithCappedDuration(d.opts.maxBackoff, b)
	b = retry.WithMaxRetries(d.opts.dialRetries, b)

	var conn connection
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		c, err := d.dial(cfg.URL())
		if err != nil {
			d.logger.WithFields(logrus.Fields{
				"broker":  cfg.Addr(),
				"attempt": attempt,
			}).WithError(err).Warn("broker dial failed")
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// closeReason returns the broker's close error, if one was delivered.
func (d *Dispatcher) closeReason() string {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed == nil {
		return ""
	}
	select {
	case amqpErr, ok := <-closed:
		if ok && amqpErr != nil {
			return ": " + amqpErr.Error()
		}
	default:
	}
	return ""
}
