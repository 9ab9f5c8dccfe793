package referral

import (
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/refloop/refloop/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Storage-level uniqueness violations the service branches on. The store is
// the sole arbiter of create races; these sentinels tell the caller which
// constraint fired so it can reconcile instead of erroring.
var (
	ErrCodeTaken       = errors.New("referral code already taken")
	ErrUserHasCode     = errors.New("user already has a referral code")
	ErrAlreadyReferred = errors.New("user already has a referral")
)

// Repository provides DB operations used by the referral service.
type Repository interface {
	GetConfig() (*models.ReferralConfig, error)
	CreateConfig(cfg *models.ReferralConfig) error

	GetCodeByUserID(userID uint) (*models.ReferralCode, error)
	GetActiveCode(code string) (*models.ReferralCode, error)
	CreateCode(code *models.ReferralCode) error

	GetReferralByReferredID(referredID uint) (*models.Referral, error)
	GetPendingReferralByReferredID(referredID uint) (*models.Referral, error)
	CountReferralsByReferrer(referrerID uint) (int64, error)
	ListReferralsByReferrer(referrerID uint) ([]models.Referral, error)
	CreateReferral(ref *models.Referral) error
	CompletePendingReferral(id uint, creditsReferrer, creditsReferred int, completedAt time.Time) (bool, error)

	CreateCreditTransaction(tx *models.CreditTransaction) error
	AddUserCredits(userID uint, amount int) error
	GetUserCredits(userID uint) (*models.UserCredits, error)

	GetUserByID(id uint) (*models.User, error)
	GetSubscriptionCustomerID(userID uint) (string, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a referral repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetConfig() (*models.ReferralConfig, error) {
	var cfg models.ReferralConfig
	if err := r.db.First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *gormRepository) CreateConfig(cfg *models.ReferralConfig) error {
	return r.db.Create(cfg).Error
}

func (r *gormRepository) GetCodeByUserID(userID uint) (*models.ReferralCode, error) {
	var code models.ReferralCode
	if err := r.db.Where("user_id = ?", userID).First(&code).Error; err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *gormRepository) GetActiveCode(code string) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	if err := r.db.Where("code = ? AND is_active = ?", code, true).First(&rc).Error; err != nil {
		return nil, err
	}
	return &rc, nil
}

func (r *gormRepository) CreateCode(code *models.ReferralCode) error {
	err := r.db.Create(code).Error
	switch {
	case err == nil:
		return nil
	case isDuplicateOf(err, "ux_referral_codes_code"):
		return ErrCodeTaken
	case isDuplicateOf(err, "ux_referral_codes_user"):
		return ErrUserHasCode
	default:
		return err
	}
}

func (r *gormRepository) GetReferralByReferredID(referredID uint) (*models.Referral, error) {
	var ref models.Referral
	if err := r.db.Where("referred_id = ?", referredID).First(&ref).Error; err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *gormRepository) GetPendingReferralByReferredID(referredID uint) (*models.Referral, error) {
	var ref models.Referral
	err := r.db.Where("referred_id = ? AND status = ?", referredID, models.ReferralStatusPending).
		First(&ref).Error
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *gormRepository) CountReferralsByReferrer(referrerID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Referral{}).Where("referrer_id = ?", referrerID).Count(&count).Error
	return count, err
}

func (r *gormRepository) ListReferralsByReferrer(referrerID uint) ([]models.Referral, error) {
	var refs []models.Referral
	err := r.db.Where("referrer_id = ?", referrerID).Order("created_at DESC").Find(&refs).Error
	return refs, err
}

func (r *gormRepository) CreateReferral(ref *models.Referral) error {
	err := r.db.Create(ref).Error
	if isDuplicateOf(err, "ux_referrals_referred") {
		return ErrAlreadyReferred
	}
	return err
}

// CompletePendingReferral transitions a referral to completed if and only if
// it is still pending. The conditional update is the idempotency claim:
// concurrent duplicate deliveries race on it and exactly one wins.
func (r *gormRepository) CompletePendingReferral(id uint, creditsReferrer, creditsReferred int, completedAt time.Time) (bool, error) {
	tx := r.db.Model(&models.Referral{}).
		Where("id = ? AND status = ?", id, models.ReferralStatusPending).
		Updates(map[string]interface{}{
			"status":                   models.ReferralStatusCompleted,
			"credits_awarded_referrer": creditsReferrer,
			"credits_awarded_referred": creditsReferred,
			"completed_at":             completedAt,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CreateCreditTransaction(ct *models.CreditTransaction) error {
	return r.db.Create(ct).Error
}

// AddUserCredits upserts the aggregate balance with an atomic increment so
// concurrent awards to the same user cannot lose updates.
func (r *gormRepository) AddUserCredits(userID uint, amount int) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"balance":      gorm.Expr("balance + ?", amount),
			"total_earned": gorm.Expr("total_earned + ?", amount),
			"updated_at":   time.Now(),
		}),
	}).Create(&models.UserCredits{
		UserID:      userID,
		Balance:     amount,
		TotalEarned: amount,
	}).Error
}

func (r *gormRepository) GetUserCredits(userID uint) (*models.UserCredits, error) {
	var uc models.UserCredits
	if err := r.db.Where("user_id = ?", userID).First(&uc).Error; err != nil {
		return nil, err
	}
	return &uc, nil
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	return models.FindUserByID(r.db, id)
}

func (r *gormRepository) GetSubscriptionCustomerID(userID uint) (string, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).Order("updated_at DESC").First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sub.StripeCustomerID, nil
}

// isDuplicateOf reports whether err is a MySQL duplicate-key error on the
// named unique index. Errno 1062 messages name the violated key, which lets
// callers distinguish which constraint fired.
func isDuplicateOf(err error, indexName string) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	if mysqlErr.Number != 1062 {
		return false
	}
	return indexName == "" || strings.Contains(strings.ToLower(mysqlErr.Message), strings.ToLower(indexName))
}
