// services/webhook_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"invitation-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
)

// WebhookService receives per-product Stripe webhooks and translates
// them into member state changes. Successful subscription invoices feed
// the referral engine.
type WebhookService struct {
	DB        *gorm.DB
	Stripe    *StripeService
	Referrals *ReferralService
}

func NewWebhookService(db *gorm.DB, stripeSvc *StripeService, referrals *ReferralService) *WebhookService {
	return &WebhookService{DB: db, Stripe: stripeSvc, Referrals: referrals}
}

// StripeHandler handles POST /api/v1/webhooks/stripe/:productSlug
func (s *WebhookService) StripeHandler(c *fiber.Ctx) error {
	productSlug := c.Params("productSlug")

	secret := s.Stripe.WebhookSecret(productSlug)
	if secret == "" {
		log.Printf("❌ [WEBHOOK] no webhook secret configured for product %s", productSlug)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Webhook not configured"})
	}

	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing stripe-signature header"})
	}

	event, err := webhook.ConstructEvent(c.Body(), signature, secret)
	if err != nil {
		log.Printf("❌ [WEBHOOK] signature verification failed for %s: %v", productSlug, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid signature"})
	}

	var product models.Product
	if err := s.DB.First(&product, "slug = ?", productSlug).Error; err != nil {
		log.Printf("❌ [WEBHOOK] product not found: %s", productSlug)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Product not found"})
	}

	if err := s.dispatch(c.Context(), &product, event); err != nil {
		log.Printf("❌ [WEBHOOK] handler failed for %s event %s: %v", productSlug, event.Type, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Webhook handler failed"})
	}

	return c.JSON(fiber.Map{"received": true})
}

func (s *WebhookService) dispatch(ctx context.Context, product *models.Product, event stripe.Event) error {
	switch event.Type {
	case "customer.subscription.created":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return err
		}
		return s.handleSubscriptionCreated(product, &sub)

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return err
		}
		return s.handleSubscriptionUpdated(product, &sub)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return err
		}
		return s.setMemberStatusByCustomer(product, customerID(sub.Customer), models.MemberStatusChurned)

	case "invoice.payment_succeeded":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return err
		}
		return s.handlePaymentSucceeded(ctx, product, &invoice)

	case "invoice.payment_failed":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return err
		}
		log.Printf("⚠️ [WEBHOOK] payment failed for customer %s on %s (invoice %s)",
			customerID(invoice.Customer), product.Slug, invoice.ID)
		return nil

	default:
		log.Printf("ℹ️ [WEBHOOK] unhandled event type: %s", event.Type)
		return nil
	}
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func (s *WebhookService) findMemberByCustomer(product *models.Product, stripeCustomerID string) (*models.Member, error) {
	if stripeCustomerID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var member models.Member
	err := s.DB.First(&member, "product_id = ? AND stripe_customer_id = ?", product.ID, stripeCustomerID).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *WebhookService) handleSubscriptionCreated(product *models.Product, sub *stripe.Subscription) error {
	member, err := s.findMemberByCustomer(product, customerID(sub.Customer))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("ℹ️ [WEBHOOK] no member for stripe customer %s", customerID(sub.Customer))
			return nil
		}
		return err
	}

	updates := map[string]interface{}{}
	if sub.Status == stripe.SubscriptionStatusTrialing {
		updates["status"] = models.MemberStatusTrial
	} else {
		updates["status"] = models.MemberStatusActive
	}
	if sub.TrialEnd > 0 {
		updates["trial_ends_at"] = time.Unix(sub.TrialEnd, 0)
	}

	return s.DB.Model(&models.Member{}).Where("id = ?", member.ID).Updates(updates).Error
}

func (s *WebhookService) handleSubscriptionUpdated(product *models.Product, sub *stripe.Subscription) error {
	member, err := s.findMemberByCustomer(product, customerID(sub.Customer))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	status := member.Status
	switch sub.Status {
	case stripe.SubscriptionStatusTrialing:
		status = models.MemberStatusTrial
	case stripe.SubscriptionStatusActive:
		status = models.MemberStatusActive
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid:
		status = models.MemberStatusChurned
	case stripe.SubscriptionStatusPastDue:
		status = models.MemberStatusSuspended
	}

	return s.DB.Model(&models.Member{}).Where("id = ?", member.ID).Update("status", status).Error
}

func (s *WebhookService) setMemberStatusByCustomer(product *models.Product, stripeCustomerID string, status models.MemberStatus) error {
	member, err := s.findMemberByCustomer(product, stripeCustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	return s.DB.Model(&models.Member{}).Where("id = ?", member.ID).Update("status", status).Error
}

func (s *WebhookService) handlePaymentSucceeded(ctx context.Context, product *models.Product, invoice *stripe.Invoice) error {
	// Only subscription invoices count toward qualification.
	switch invoice.BillingReason {
	case stripe.InvoiceBillingReasonSubscriptionCycle,
		stripe.InvoiceBillingReasonSubscriptionCreate,
		stripe.InvoiceBillingReasonSubscriptionUpdate:
	default:
		return nil
	}

	member, err := s.findMemberByCustomer(product, customerID(invoice.Customer))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	// first_paid_at is set once; the IS NULL guard keeps redelivered or
	// parallel invoices from moving it to a later timestamp.
	err = s.DB.Model(&models.Member{}).
		Where("id = ? AND first_paid_at IS NULL", member.ID).
		Update("first_paid_at", time.Now()).Error
	if err != nil {
		return err
	}
	err = s.DB.Model(&models.Member{}).
		Where("id = ? AND status = ?", member.ID, models.MemberStatusTrial).
		Update("status", models.MemberStatusActive).Error
	if err != nil {
		return err
	}

	// Surface engine failures to the webhook response for logging, but
	// a data inconsistency should not trigger Stripe redelivery storms.
	if err := s.Referrals.OnPaymentSucceeded(ctx, member.ID); err != nil {
		log.Printf("⚠️ [WEBHOOK] referral check failed for member %s: %v", member.ID, err)
	}
	return nil
}

// CronHandler handles POST /api/cron/process-referrals, for external
// schedulers. Guarded by CRON_SECRET when set.
func (s *WebhookService) CronHandler(c *fiber.Ctx) error {
	if secret := os.Getenv("CRON_SECRET"); secret != "" {
		auth := c.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != secret {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}
	}

	if err := s.Referrals.SweepPendingRewards(c.Context()); err != nil {
		log.Printf("❌ [CRON] sweep failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process referral rewards"})
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"message":   "Referral rewards processed",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
