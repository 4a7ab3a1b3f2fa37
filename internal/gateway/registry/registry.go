// Package registry builds the configured rail.
package registry

import (
	"fmt"

	"lexpay/internal/config"
	"lexpay/internal/gateway"
	"lexpay/internal/gateway/hosted"
	"lexpay/internal/gateway/stripegw"
)

// Rail bundles both sides of a rail; every rail supports collection and payout.
type Rail interface {
	gateway.PaymentGateway
	gateway.TransferClient
}

func New(cfg config.RailConfig) (Rail, error) {
	switch cfg.Provider {
	case stripegw.Name:
		return stripegw.New(stripegw.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			BaseURL:       cfg.Stripe.BaseURL,
			Timeout:       cfg.Timeout,
			MaxRetries:    cfg.Stripe.MaxRetries,
		}), nil
	case hosted.Name:
		return hosted.New(hosted.Config{
			BaseURL:            cfg.Hosted.BaseURL,
			AccessToken:        cfg.Hosted.AccessToken,
			WebhookSecret:      cfg.Hosted.WebhookSecret,
			NotificationURL:    cfg.Hosted.NotificationURL,
			Timeout:            cfg.Timeout,
			SignatureTolerance: cfg.Hosted.SignatureTolerance,
		}), nil
	default:
		return nil, fmt.Errorf("unknown rail provider %q", cfg.Provider)
	}
}
