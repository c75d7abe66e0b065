// services/stripe.go
package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeService holds one Stripe client per product. Each product may
// bill through a distinct Stripe account, so credentials are looked up
// as STRIPE_SECRET_KEY_<SLUG>.
type StripeService struct {
	mu      sync.Mutex
	clients map[string]*client.API
}

func NewStripeService() *StripeService {
	return &StripeService{clients: make(map[string]*client.API)}
}

func envSuffix(productSlug string) string {
	return strings.ToUpper(strings.ReplaceAll(productSlug, "-", "_"))
}

func (s *StripeService) clientFor(productSlug string) (*client.API, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc, ok := s.clients[productSlug]; ok {
		return sc, nil
	}

	secretKey := os.Getenv("STRIPE_SECRET_KEY_" + envSuffix(productSlug))
	if secretKey == "" {
		return nil, fmt.Errorf("missing stripe secret key for product %s", productSlug)
	}

	sc := &client.API{}
	sc.Init(secretKey, nil)
	s.clients[productSlug] = sc
	return sc, nil
}

// WebhookSecret returns the signing secret for a product's webhook
// endpoint, or "" when not configured.
func (s *StripeService) WebhookSecret(productSlug string) string {
	return os.Getenv("STRIPE_WEBHOOK_SECRET_" + envSuffix(productSlug))
}

// ApplyReferralCredit posts a negative invoice item against the
// customer, which Stripe folds into their next invoice as a credit.
func (s *StripeService) ApplyReferralCredit(ctx context.Context, productSlug, stripeCustomerID string, amountCents int64, description string) error {
	sc, err := s.clientFor(productSlug)
	if err != nil {
		return err
	}

	params := &stripe.InvoiceItemParams{
		Params:      stripe.Params{Context: ctx},
		Customer:    stripe.String(stripeCustomerID),
		Amount:      stripe.Int64(-amountCents), // negative = credit
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Description: stripe.String(description),
	}

	if _, err := sc.InvoiceItems.New(params); err != nil {
		return fmt.Errorf("create credit invoice item: %w", err)
	}

	log.Printf("💳 [STRIPE] credited %d cents to customer %s (%s)", amountCents, stripeCustomerID, productSlug)
	return nil
}
