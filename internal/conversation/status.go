package conversation

import (
	"context"
	"fmt"

	"github.com/zulandar/listingdesk/internal/apperr"
	"github.com/zulandar/listingdesk/internal/channel"
	"github.com/zulandar/listingdesk/internal/db"
	"github.com/zulandar/listingdesk/internal/models"
)

// statusTransitions lists the allowed delivery status moves. Read and
// failed are terminal.
var statusTransitions = map[string][]string{
	models.MessageStatusPending:   {models.MessageStatusDelivered, models.MessageStatusRead, models.MessageStatusFailed},
	models.MessageStatusDelivered: {models.MessageStatusRead, models.MessageStatusFailed},
}

// CanTransition reports whether a message may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateStatus applies a provider delivery receipt to the message with the
// given (channel, external id). Repeating the current status is a no-op;
// any other move not in the transition table returns ErrInvalidTransition.
func (s *Store) UpdateStatus(ctx context.Context, ch channel.Channel, externalID, status string) (*models.ConversationMessage, error) {
	if externalID == "" {
		return nil, fmt.Errorf("conversation: update status: %w", apperr.Invalid("externalId", "is required"))
	}
	var m models.ConversationMessage
	err := s.db.WithContext(ctx).Where("channel = ? AND external_id = ?", string(ch), externalID).First(&m).Error
	if db.IsNotFound(err) {
		return nil, fmt.Errorf("conversation: message %s/%s: %w", ch, externalID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: update status: %w", err)
	}
	if m.Status == status {
		return &m, nil
	}
	if !CanTransition(m.Status, status) {
		return &m, fmt.Errorf("conversation: status %s -> %s: %w", m.Status, status, apperr.ErrInvalidTransition)
	}

	result := s.db.WithContext(ctx).Model(&models.ConversationMessage{}).
		Where("id = ? AND status = ?", m.ID, m.Status).Update("status", status)
	if result.Error != nil {
		return nil, fmt.Errorf("conversation: update status %s: %w", m.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("conversation: status of %s changed concurrently: %w", m.ID, apperr.ErrInvalidTransition)
	}
	m.Status = status
	return &m, nil
}
