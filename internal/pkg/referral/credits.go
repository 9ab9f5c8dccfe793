package referral

import (
	"context"
	"fmt"
	"strconv"

	"github.com/refloop/refloop/app/models"
	"github.com/refloop/refloop/internal/pkg/payments"
)

// centsPerCredit converts internal credit units into the processor's
// currency minor units for the customer balance mirror.
const centsPerCredit = 100

// AwardCredits credits a user across three ledgers: the processor customer
// balance (authoritative, shows up on invoices), the immutable transaction
// log, and the aggregate balance row. The three writes are not wrapped in a
// single transaction; a crash between them leaves drift that the transaction
// log makes reconcilable.
func (s *Service) AwardCredits(ctx context.Context, userID uint, amount int, txType, description string, referralID *uint) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	customerID, err := s.resolveCustomerID(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolving processor customer for user %d: %w", userID, err)
	}

	meta := map[string]string{
		payments.MetadataUserIDKey: strconv.FormatUint(uint64(userID), 10),
		"type":                     txType,
	}
	if referralID != nil {
		meta["referral_id"] = strconv.FormatUint(uint64(*referralID), 10)
	}

	// Negative amount credits the customer in the processor's convention.
	bt, err := s.gateway.CreateBalanceTransaction(ctx, customerID, -int64(amount)*centsPerCredit, description, meta)
	if err != nil {
		return fmt.Errorf("posting balance transaction for user %d: %w", userID, err)
	}

	if err := s.repo.CreateCreditTransaction(&models.CreditTransaction{
		UserID:       userID,
		Amount:       amount,
		Type:         txType,
		Description:  description,
		ReferralID:   referralID,
		ProviderTxID: bt.ID,
	}); err != nil {
		return fmt.Errorf("recording credit transaction for user %d: %w", userID, err)
	}

	if err := s.repo.AddUserCredits(userID, amount); err != nil {
		return fmt.Errorf("updating credit balance for user %d: %w", userID, err)
	}
	return nil
}

// resolveCustomerID finds or creates the processor customer for a user:
// reuse the customer from any local subscription row, else search the
// processor by metadata, else create a fresh customer from the user profile.
func (s *Service) resolveCustomerID(ctx context.Context, userID uint) (string, error) {
	customerID, err := s.repo.GetSubscriptionCustomerID(userID)
	if err != nil {
		return "", err
	}
	if customerID != "" {
		return customerID, nil
	}

	customer, err := s.gateway.SearchCustomerByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	if customer != nil {
		return customer.ID, nil
	}

	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return "", err
	}
	created, err := s.gateway.CreateCustomer(ctx, user.Email, user.Name, map[string]string{
		payments.MetadataUserIDKey: strconv.FormatUint(uint64(userID), 10),
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}
