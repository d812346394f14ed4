package amqp

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"billtrack/internal/log"
	"billtrack/internal/storage"
)

// Broker is the transport used by the relay; *Client implements it.
type Broker interface {
	Publish(ctx context.Context, msg *StorageChangeMessage) error
	Consume(ctx context.Context, handler func(*StorageChangeMessage) error) error
}

// ChangeSource is the local state store.
type ChangeSource interface {
	Subscribe(fn func(storage.Change)) func()
	Notify(c storage.Change)
}

const outboxSize = 64

// Relay forwards local writes to other processes and replays their writes
// as remote changes on the local store.
type Relay struct {
	broker Broker
	store  ChangeSource
	origin string
	logger *log.Logger
	outbox chan string
}

func NewRelay(broker Broker, store ChangeSource, logger *log.Logger) *Relay {
	return &Relay{
		broker: broker,
		store:  store,
		origin: uuid.NewString(),
		logger: logger.WithComponent(log.ComponentAMQP),
		outbox: make(chan string, outboxSize),
	}
}

// Origin identifies this process in published messages.
func (r *Relay) Origin() string { return r.origin }

// Run relays in both directions until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	unsubscribe := r.store.Subscribe(r.enqueue)
	defer unsubscribe()

	errc := make(chan error, 1)
	go func() { errc <- r.broker.Consume(ctx, r.handle) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return ctx.Err()
		case key := <-r.outbox:
			msg := NewStorageChangeMessage(key, r.origin)
			if err := r.broker.Publish(ctx, msg); err != nil {
				r.logger.WarnContext(ctx, "Relaying storage change failed",
					log.FieldOperation, log.OpPublish, log.FieldKey, key, log.FieldError, err)
			}
		}
	}
}

// enqueue runs inside store writes and must not block them.
func (r *Relay) enqueue(c storage.Change) {
	if c.Remote {
		return
	}
	select {
	case r.outbox <- c.Key:
	default:
		r.logger.Warn("Relay outbox full, dropping storage change", log.FieldKey, c.Key)
	}
}

func (r *Relay) handle(msg *StorageChangeMessage) error {
	if msg.Origin == r.origin {
		return nil
	}
	r.logger.Debug("Remote storage change", log.FieldKey, msg.Key)
	r.store.Notify(storage.Change{Key: msg.Key, Remote: true})
	return nil
}
