package hub

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/adshub/adshub-go/pkg/log"
	"github.com/adshub/adshub-go/pkg/subscription"
	"github.com/adshub/adshub-go/pkg/transport"
)

// notifier registers device notifications through the serializer.
type notifier struct {
	hub *Hub
}

// AddNotification implements subscription.Notifier.
func (n *notifier) AddNotification(ctx context.Context, spec subscription.Spec, handler transport.NotificationHandler) (uint32, error) {
	attrs := transport.NotificationAttributes{
		Length:    spec.Size(),
		Mode:      transport.NotifyOnChange,
		CycleTime: spec.CycleTime,
	}

	// Samples can arrive before the handle is known.
	var handle atomic.Uint32
	capture := n.hub.capture
	wrapped := func(data []byte, at time.Time) {
		capture.sample(handle.Load(), spec.Address, data, at)
		handler(data, at)
	}

	var id uint32
	op := &log.OperationEvent{Kind: log.OpAddNotification, Address: spec.Address, DataType: typeName(spec.Type), Size: attrs.Length}
	_, err := n.hub.exec(ctx, op, func(ctx context.Context, sess transport.Session) ([]byte, error) {
		var err error
		id, err = sess.AddDeviceNotification(ctx, spec.Address, attrs, wrapped)
		if err == nil {
			handle.Store(id)
		}
		return nil, err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RemoveNotification implements subscription.Notifier.
func (n *notifier) RemoveNotification(ctx context.Context, id uint32) error {
	op := &log.OperationEvent{Kind: log.OpRemoveNotification, Handle: id}
	_, err := n.hub.exec(ctx, op, func(ctx context.Context, sess transport.Session) ([]byte, error) {
		return nil, sess.RemoveDeviceNotification(ctx, id)
	})
	return err
}

var _ subscription.Notifier = (*notifier)(nil)
