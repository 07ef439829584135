package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"

	"github.com/MartinSeiffert/KlangFox/app/models"
)

// ListInvoices returns the user's invoices, newest first.
func (s *Service) ListInvoices(ctx context.Context, userID uint) ([]models.Invoice, error) {
	_ = ctx
	return s.repo.ListInvoicesByUser(userID)
}

// GetInvoiceForUser loads one invoice by number and enforces ownership.
// Returns gorm.ErrRecordNotFound for both a missing invoice and a foreign one
// so callers cannot probe for other users' invoice numbers.
func (s *Service) GetInvoiceForUser(ctx context.Context, userID uint, number string) (*models.Invoice, error) {
	_ = ctx
	inv, err := s.repo.GetInvoiceByNumber(number)
	if err != nil {
		return nil, err
	}
	if inv.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return inv, nil
}

// ListRecentWebhookEvents returns the most recently received webhook events.
func (s *Service) ListRecentWebhookEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	_ = ctx
	return s.repo.ListRecentWebhookEvents(limit)
}

// GetWebhookEvent loads one stored webhook event by id.
func (s *Service) GetWebhookEvent(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	_ = ctx
	return s.repo.GetWebhookEventByID(id)
}

// ReplayWebhookEvent re-dispatches a stored event through the given
// dispatcher. Safe because every handler is idempotent.
func (s *Service) ReplayWebhookEvent(ctx context.Context, d *Dispatcher, id uint) error {
	record, err := s.repo.GetWebhookEventByID(id)
	if err != nil {
		return err
	}
	if record.PayloadJSON == "" {
		return errors.New("stored event has no payload")
	}

	// Stored payloads are full provider envelopes; the dispatcher works on the
	// inner data object.
	var envelope stripe.Event
	if err := json.Unmarshal([]byte(record.PayloadJSON), &envelope); err != nil {
		return fmt.Errorf("stored event %d is not a valid envelope: %w", record.ID, err)
	}

	dispatchErr := d.Dispatch(ctx, Event{
		ID:       record.ProviderEventID,
		Type:     EventType(record.EventType),
		Payload:  envelope.Data.Raw,
		RecordID: record.ID,
	})
	if err := s.MarkWebhookProcessed(ctx, record.ID, dispatchErr); err != nil {
		return err
	}
	return dispatchErr
}

// GetUserSubscriptionRecord returns the raw local subscription row without
// provider reconciliation. Used by admin views.
func (s *Service) GetUserSubscriptionRecord(ctx context.Context, userID uint) (*models.Subscription, error) {
	_ = ctx
	return s.repo.GetSubscriptionByUserID(userID)
}
