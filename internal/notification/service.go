// Package notification delivers user-facing security email.
package notification

import (
	"context"
	"fmt"
	"html"
	"time"

	"trustgate/internal/domain"
	"trustgate/pkg/logger"
	"trustgate/pkg/mailer"

	"github.com/google/uuid"
)

// AuditRecorder appends security audit events.
type AuditRecorder interface {
	Create(ctx context.Context, event *domain.SecurityAuditEvent) error
}

// Service sends verification email synchronously and reports delivery as a
// boolean. A false result never invalidates the underlying token.
type Service struct {
	sender          mailer.Sender
	audit           AuditRecorder
	logger          logger.Logger
	verificationURL string
}

func NewService(sender mailer.Sender, audit AuditRecorder, log logger.Logger, verificationURL string) *Service {
	return &Service{
		sender:          sender,
		audit:           audit,
		logger:          log,
		verificationURL: verificationURL,
	}
}

// SendDeviceVerificationEmail dispatches the step-up link. Delivery failure
// is reported as false, logged, and audited; the token stays redeemable.
func (s *Service) SendDeviceVerificationEmail(ctx context.Context, email, displayName, token string, device domain.DeviceInfo) bool {
	link := fmt.Sprintf("%s?token=%s", s.verificationURL, token)
	subject := "Verify your new device"
	body := buildVerificationBody(displayName, link, device)

	err := s.sender.Send(email, subject, body)
	delivered := err == nil
	if err != nil {
		s.logger.Error("verification email delivery failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if s.audit != nil {
		event := &domain.SecurityAuditEvent{
			ID:                uuid.New(),
			EventKind:         domain.EventVerificationEmail,
			IPAddress:         &device.IPAddress,
			UserAgent:         &device.UserAgent,
			DeviceFingerprint: &device.Fingerprint,
			Success:           &delivered,
			Detail: domain.Metadata{
				"email_domain": emailDomain(email),
			},
			CreatedAt: time.Now(),
		}
		if auditErr := s.audit.Create(ctx, event); auditErr != nil {
			s.logger.Error("failed to audit verification email", map[string]interface{}{
				"error": auditErr.Error(),
			})
		}
	}

	return delivered
}

func buildVerificationBody(displayName, link string, device domain.DeviceInfo) string {
	name := html.EscapeString(displayName)
	return fmt.Sprintf(`
		<h2>New device sign-in</h2>
		<p>Hi %s,</p>
		<p>A sign-in from an unrecognized device needs your confirmation:</p>
		<ul>
			<li>Browser: %s</li>
			<li>Operating system: %s</li>
			<li>IP address: %s</li>
			<li>Location: %s, %s</li>
		</ul>
		<p><a href="%s">Verify this device</a></p>
		<p>The link expires in 15 minutes. If this wasn't you, change your password immediately.</p>`,
		name,
		html.EscapeString(device.Browser),
		html.EscapeString(device.OS),
		html.EscapeString(device.IPAddress),
		html.EscapeString(device.Location.City),
		html.EscapeString(device.Location.Country),
		link,
	)
}

func emailDomain(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return ""
}
