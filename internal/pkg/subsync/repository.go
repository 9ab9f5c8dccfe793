package subsync

import (
	"errors"
	"time"

	"github.com/refloop/refloop/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the subscription synchronizer.
type Repository interface {
	UpsertSubscription(sub *models.Subscription) error
	GetUserIDByCustomerID(customerID string) (uint, error)
	GetUserIDByEmail(email string) (uint, error)
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a synchronizer repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// UpsertSubscription writes the local mirror row keyed by the processor's
// subscription id, so replaying the same event converges to the same row.
func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"plan_id",
			"stripe_customer_id",
			"stripe_price_id",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"updated_at",
		}),
	}).Create(sub).Error
}

func (r *gormRepository) GetUserIDByCustomerID(customerID string) (uint, error) {
	var sub models.Subscription
	err := r.db.Where("stripe_customer_id = ?", customerID).Order("updated_at DESC").First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return sub.UserID, nil
}

func (r *gormRepository) GetUserIDByEmail(email string) (uint, error) {
	user, err := models.FindUserByEmail(r.db, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
