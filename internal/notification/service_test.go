package notification

import (
	"context"
	"errors"
	"strings"
	"testing"

	"trustgate/internal/domain"
	"trustgate/pkg/logger"

	"github.com/stretchr/testify/assert"
)

type fakeSender struct {
	err  error
	to   string
	body string
}

func (f *fakeSender) Send(to, subject, body string) error {
	f.to = to
	f.body = body
	return f.err
}

type captureAudit struct {
	events []*domain.SecurityAuditEvent
}

func (c *captureAudit) Create(_ context.Context, event *domain.SecurityAuditEvent) error {
	c.events = append(c.events, event)
	return nil
}

func testDevice() domain.DeviceInfo {
	return domain.DeviceInfo{
		Fingerprint: "abc123",
		Browser:     "Firefox",
		OS:          "Linux",
		IPAddress:   "203.0.113.7",
		UserAgent:   "Mozilla/5.0",
		Location:    domain.GeoLocation{City: "Unknown", Country: "Unknown"},
	}
}

func TestSendDeviceVerificationEmail_Delivered(t *testing.T) {
	sender := &fakeSender{}
	audit := &captureAudit{}
	s := NewService(sender, audit, logger.NewNop(), "https://app.example.com/verify-device")

	ok := s.SendDeviceVerificationEmail(context.Background(), "jamie@example.com", "Jamie", "tok123", testDevice())

	assert.True(t, ok)
	assert.Equal(t, "jamie@example.com", sender.to)
	assert.Contains(t, sender.body, "https://app.example.com/verify-device?token=tok123")
	assert.Contains(t, sender.body, "Firefox")

	assert.Len(t, audit.events, 1)
	e := audit.events[0]
	assert.Equal(t, domain.EventVerificationEmail, e.EventKind)
	assert.True(t, *e.Success)
	assert.Equal(t, "example.com", e.Detail["email_domain"])
}

func TestSendDeviceVerificationEmail_DeliveryFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp: connection refused")}
	audit := &captureAudit{}
	s := NewService(sender, audit, logger.NewNop(), "https://app.example.com/verify-device")

	ok := s.SendDeviceVerificationEmail(context.Background(), "jamie@example.com", "Jamie", "tok123", testDevice())

	// Failure is reported, not raised; the token itself stays redeemable.
	assert.False(t, ok)
	assert.Len(t, audit.events, 1)
	assert.False(t, *audit.events[0].Success)
}

func TestVerificationBodyEscapesUserContent(t *testing.T) {
	body := buildVerificationBody("<script>alert(1)</script>", "https://x/verify?token=t", testDevice())

	assert.NotContains(t, body, "<script>")
	assert.True(t, strings.Contains(body, "&lt;script&gt;"))
}
