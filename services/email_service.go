// services/email_service.go
package services

import (
	"fmt"
	"log"
	"os"

	"invitation-service/models"

	"github.com/resend/resend-go/v2"
)

// EmailService sends member-facing notifications through Resend.
// Delivery is fire-and-forget: a missing API key or a send failure is
// logged, never propagated.
type EmailService struct {
	client *resend.Client
	from   string
}

func NewEmailService() *EmailService {
	svc := &EmailService{
		from: os.Getenv("EMAIL_FROM"),
	}
	if svc.from == "" {
		svc.from = "Velorum <noreply@velorumsoftware.com>"
	}

	apiKey := os.Getenv("RESEND_API_KEY")
	if apiKey == "" {
		log.Println("⚠️ RESEND_API_KEY not configured - emails will not be sent")
		return svc
	}
	svc.client = resend.NewClient(apiKey)
	return svc
}

func (s *EmailService) send(to, subject, html string) {
	if s.client == nil {
		log.Printf("✉️ [EMAIL] skipped (not configured): %q to %s", subject, to)
		return
	}
	_, err := s.client.Emails.Send(&resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    html,
	})
	if err != nil {
		log.Printf("⚠️ [EMAIL] failed to send %q to %s: %v", subject, to, err)
		return
	}
	log.Printf("✉️ [EMAIL] sent %q to %s", subject, to)
}

// SendInvitationCode mails a freshly issued code to an approved
// requester.
func (s *EmailService) SendInvitationCode(to, name, productName, code string, trialDays int) {
	subject := fmt.Sprintf("Your invitation to %s", productName)
	html := fmt.Sprintf(
		`<p>Hi %s,</p><p>Your request to join %s has been approved. Your invitation code:</p><p><strong>%s</strong></p><p>Redeem it to start your %d-day trial.</p>`,
		name, productName, code, trialDays,
	)
	s.send(to, subject, html)
}

// SendRequestRejected notifies a requester that staff declined their
// signup request.
func (s *EmailService) SendRequestRejected(to, name, productName, reason string) {
	subject := fmt.Sprintf("Update on your %s request", productName)
	html := fmt.Sprintf(`<p>Hi %s,</p><p>We are unable to approve your request to join %s at this time.</p>`, name, productName)
	if reason != "" {
		html += fmt.Sprintf("<p>Reason: %s</p>", reason)
	}
	s.send(to, subject, html)
}

// SendRewardCredited tells a referrer their billing credit landed.
func (s *EmailService) SendRewardCredited(referrer *models.Member, product *models.Product, amountCents int64) {
	if referrer.Email == "" {
		return
	}
	subject := "Your referral reward has been credited"
	html := fmt.Sprintf(
		`<p>Hi %s,</p><p>A $%.2f credit has been applied to your %s billing account for a successful referral. Thanks for spreading the word!</p>`,
		referrer.Name, float64(amountCents)/100, product.Name,
	)
	s.send(referrer.Email, subject, html)
}
