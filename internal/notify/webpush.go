package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/coding-cat0-0/streaming-site/internal/storage"
)

// WebPushConfig carries the VAPID credentials for web push delivery.
type WebPushConfig struct {
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTLSeconds      int
}

// WebPushSender delivers payloads to stored push subscriptions.
type WebPushSender struct {
	store  storage.Repository
	cfg    WebPushConfig
	logger *slog.Logger
}

func NewWebPushSender(store storage.Repository, cfg WebPushConfig, logger *slog.Logger) (*WebPushSender, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, fmt.Errorf("webpush: VAPID key pair is required")
	}
	if cfg.TTLSeconds <= 0 {
		cfg.TTLSeconds = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebPushSender{store: store, cfg: cfg, logger: logger}, nil
}

// Push sends the payload to the user's registered subscription. Users without
// a subscription are skipped silently.
func (s *WebPushSender) Push(ctx context.Context, userID string, payload []byte) error {
	sub, err := s.store.GetPushSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load push subscription: %w", err)
	}

	response, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTLSeconds,
	})
	if err != nil {
		return fmt.Errorf("send web push: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode >= 400 {
		return fmt.Errorf("web push rejected: status %d", response.StatusCode)
	}
	return nil
}

var _ PushSender = (*WebPushSender)(nil)
