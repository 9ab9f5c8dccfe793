package referral

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/refloop/refloop/app/models"
	"github.com/refloop/refloop/internal/pkg/payments"
	"gorm.io/gorm"
)

// maxCodeAttempts bounds the generate-and-insert loop. With a 33-character,
// 8-position code space collisions are negligible; the budget exists purely
// for safety.
const maxCodeAttempts = 5

// ErrCodeSpaceExhausted is returned when the generator fails to produce a
// unique code within its retry budget.
var ErrCodeSpaceExhausted = errors.New("unable to generate unique referral code")

// Result is a business outcome of a referral operation. Rejections are
// normal negative outcomes carried as values, not errors.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Stats aggregates a referrer's code, referral counts and credit balance
// for display.
type Stats struct {
	Code               string `json:"code"`
	TotalReferrals     int    `json:"total_referrals"`
	PendingReferrals   int    `json:"pending_referrals"`
	CompletedReferrals int    `json:"completed_referrals"`
	CreditsEarned      int    `json:"credits_earned"`
	Balance            int    `json:"balance"`
}

// CodeValidation is the public invite-page view of a referral code.
type CodeValidation struct {
	Valid        bool   `json:"valid"`
	ReferrerName string `json:"referrer_name,omitempty"`
}

// PaymentGateway is the slice of the payment processor the credit ledger
// needs: customer bootstrap and balance adjustments.
type PaymentGateway interface {
	SearchCustomerByUserID(ctx context.Context, userID uint) (*payments.Customer, error)
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*payments.Customer, error)
	CreateBalanceTransaction(ctx context.Context, customerID string, amountCents int64, description string, metadata map[string]string) (*payments.BalanceTransaction, error)
}

// Service implements the referral program: code registry, signup
// registration, webhook-driven completion and the credit ledger.
type Service struct {
	repo    Repository
	gateway PaymentGateway
}

// NewService creates a referral service from injected dependencies.
func NewService(repo Repository, gateway PaymentGateway) *Service {
	return &Service{repo: repo, gateway: gateway}
}

// NewServiceFromDB creates a referral service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway PaymentGateway) *Service {
	return NewService(NewRepository(db), gateway)
}

// Config returns the singleton program configuration, creating it with
// defaults on first access. A failed insert is retried with one re-read so a
// concurrent initializer's row wins instead of erroring.
func (s *Service) Config() (*models.ReferralConfig, error) {
	cfg, err := s.repo.GetConfig()
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("referral config read failed: %w", err)
	}

	fresh := models.DefaultReferralConfig()
	if insertErr := s.repo.CreateConfig(fresh); insertErr == nil {
		return fresh, nil
	}

	cfg, err = s.repo.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("referral config unavailable: %w", err)
	}
	return cfg, nil
}

// GetOrCreateCode returns the user's referral code, creating one on first
// use. Collisions on the code constraint retry with a fresh candidate; a
// collision on the user constraint means a concurrent request won the race,
// so the winner's code is read back and returned.
func (s *Service) GetOrCreateCode(userID uint) (string, error) {
	existing, err := s.repo.GetCodeByUserID(userID)
	if err == nil {
		return existing.Code, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		candidate := &models.ReferralCode{
			UserID:   userID,
			Code:     GenerateCode(DefaultCodeLength),
			IsActive: true,
		}
		err := s.repo.CreateCode(candidate)
		switch {
		case err == nil:
			return candidate.Code, nil
		case errors.Is(err, ErrCodeTaken):
			continue
		case errors.Is(err, ErrUserHasCode):
			winner, readErr := s.repo.GetCodeByUserID(userID)
			if readErr != nil {
				return "", readErr
			}
			return winner.Code, nil
		default:
			return "", err
		}
	}
	return "", ErrCodeSpaceExhausted
}

// RegisterSignup records a pending referral for a newly signed-up user. No
// credits move at this stage; the referral only completes once the referred
// user finishes a paid checkout. Validation fails closed and short-circuits
// on the first rejection.
func (s *Service) RegisterSignup(referredUserID uint, code string) (*Result, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	if !cfg.IsActive {
		return &Result{Success: false, Message: "Referral program is not active"}, nil
	}

	rc, err := s.repo.GetActiveCode(code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Result{Success: false, Message: "Invalid referral code"}, nil
	}
	if err != nil {
		return nil, err
	}

	if rc.UserID == referredUserID {
		return &Result{Success: false, Message: "You cannot refer yourself"}, nil
	}

	_, err = s.repo.GetReferralByReferredID(referredUserID)
	if err == nil {
		return &Result{Success: false, Message: "You have already been referred"}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if cfg.MaxReferralsPerUser != nil {
		count, err := s.repo.CountReferralsByReferrer(rc.UserID)
		if err != nil {
			return nil, err
		}
		if count >= int64(*cfg.MaxReferralsPerUser) {
			return &Result{Success: false, Message: "Referrer has reached the referral limit"}, nil
		}
	}

	ref := &models.Referral{
		ReferrerID:     rc.UserID,
		ReferredID:     referredUserID,
		ReferralCodeID: rc.ID,
		Status:         models.ReferralStatusPending,
	}
	err = s.repo.CreateReferral(ref)
	if errors.Is(err, ErrAlreadyReferred) {
		// Lost the create race; the constraint is the final arbiter.
		return &Result{Success: false, Message: "You have already been referred"}, nil
	}
	if err != nil {
		return nil, err
	}

	return &Result{Success: true, Message: "Referral registered"}, nil
}

// CompleteOnSubscription transitions the referred user's pending referral to
// completed and awards credits to both parties. Invoked from the payment
// webhook once a checkout completes. Safe to call for any subscriber: users
// without a pending referral are a silent no-op, which also makes duplicate
// webhook deliveries idempotent.
func (s *Service) CompleteOnSubscription(ctx context.Context, referredUserID uint) error {
	ref, err := s.repo.GetPendingReferralByReferredID(referredUserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	cfg, err := s.Config()
	if err != nil {
		return err
	}
	// A paused program leaves in-flight referrals pending; they simply never
	// complete while it stays inactive.
	if !cfg.IsActive {
		return nil
	}

	claimed, err := s.repo.CompletePendingReferral(ref.ID, cfg.CreditsPerReferral, cfg.CreditsForReferred, time.Now())
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	// Award both sides independently: one side failing must not roll back the
	// completion or the other side's award.
	var wg sync.WaitGroup
	award := func(userID uint, amount int, txType, description string) {
		defer wg.Done()
		if err := s.AwardCredits(ctx, userID, amount, txType, description, &ref.ID); err != nil {
			log.Printf("referral %d: awarding %d credits to user %d failed: %v", ref.ID, amount, userID, err)
		}
	}
	wg.Add(2)
	go award(ref.ReferrerID, cfg.CreditsPerReferral, models.CreditTxReferralBonus, "Referral bonus")
	go award(ref.ReferredID, cfg.CreditsForReferred, models.CreditTxReferredBonus, "Welcome bonus for joining via referral")
	wg.Wait()

	return nil
}

// GetReferralStats aggregates a user's code, referral counts and credit
// balance. The code is created on first access so the dashboard always has
// an invite link to show.
func (s *Service) GetReferralStats(userID uint) (*Stats, error) {
	code, err := s.GetOrCreateCode(userID)
	if err != nil {
		return nil, err
	}

	refs, err := s.repo.ListReferralsByReferrer(userID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Code: code, TotalReferrals: len(refs)}
	for _, ref := range refs {
		switch ref.Status {
		case models.ReferralStatusPending:
			stats.PendingReferrals++
		case models.ReferralStatusCompleted:
			stats.CompletedReferrals++
			stats.CreditsEarned += ref.CreditsAwardedReferrer
		}
	}

	uc, err := s.repo.GetUserCredits(userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if uc != nil {
		stats.Balance = uc.Balance
	}
	return stats, nil
}

// ValidateCode checks a code for the public invite page and returns the
// referrer's display name when it resolves.
func (s *Service) ValidateCode(code string) (*CodeValidation, error) {
	rc, err := s.repo.GetActiveCode(code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &CodeValidation{Valid: false}, nil
	}
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByID(rc.UserID)
	if err != nil {
		return nil, err
	}
	return &CodeValidation{Valid: true, ReferrerName: user.Name}, nil
}
