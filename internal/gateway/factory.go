package gateway

import (
	"fmt"
	"strings"

	"github.com/prohmpiriya/campus-ticketing/pkg/config"
)

// New builds the gateway selected by cfg.Provider
func New(cfg *config.GatewayConfig) (PaymentGateway, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "mock":
		return NewMockGateway(nil), nil
	case "paypal":
		gw, err := NewPayPalGateway(PayPalConfig{
			BaseURL:      cfg.PayPalBaseURL,
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalSecret,
			ReturnURL:    cfg.PayPalReturnURL,
			CancelURL:    cfg.PayPalCancelURL,
			BrandName:    "Campus Ticketing",
			Timeout:      cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return gw, nil
	case "stripe":
		gw, err := NewStripeGateway(StripeConfig{SecretKey: cfg.StripeSecretKey})
		if err != nil {
			return nil, err
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unknown payment gateway provider %q", cfg.Provider)
	}
}
