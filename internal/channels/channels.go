// Package channels delivers rendered messages over email and WhatsApp.
package channels

import (
	"context"
	"fmt"

	"invoice-automation-backend/internal/apperr"
	"invoice-automation-backend/internal/models"

	"go.uber.org/zap"
)

type Message struct {
	Subject string
	Body    string
}

// Sender delivers msg to recipient over one concrete channel. Provider
// failures come back as apperr delivery errors.
type Sender interface {
	Send(ctx context.Context, channel models.Channel, recipient string, msg Message) error
}

// Transport is one provider integration.
type Transport interface {
	Deliver(ctx context.Context, recipient string, msg Message) error
}

// Router picks the transport registered for a channel.
type Router struct {
	transports map[models.Channel]Transport
	log        *zap.Logger
}

func NewRouter(log *zap.Logger) *Router {
	return &Router{
		transports: make(map[models.Channel]Transport),
		log:        log.Named("channels"),
	}
}

func (r *Router) Register(channel models.Channel, t Transport) *Router {
	r.transports[channel] = t
	return r
}

func (r *Router) Send(ctx context.Context, channel models.Channel, recipient string, msg Message) error {
	if channel == models.ChannelBoth {
		return apperr.Validation("channel both must be expanded before sending")
	}
	t, ok := r.transports[channel]
	if !ok {
		return apperr.Delivery(fmt.Errorf("no transport for %s", channel), fmt.Sprintf("%s delivery is not configured", channel))
	}

	if err := t.Deliver(ctx, recipient, msg); err != nil {
		r.log.Warn("delivery failed",
			zap.String("channel", string(channel)),
			zap.String("recipient", recipient),
			zap.Error(err),
		)
		if apperr.Is(err, apperr.KindDelivery) {
			return err
		}
		return apperr.Delivery(err, fmt.Sprintf("%s delivery failed", channel))
	}
	return nil
}

// Recipient returns the address client uses on channel, or "" when it
// has none.
func Recipient(client *models.Client, channel models.Channel) string {
	if client == nil {
		return ""
	}
	switch channel {
	case models.ChannelEmail:
		return client.Email
	case models.ChannelWhatsApp:
		return client.Phone
	}
	return ""
}
