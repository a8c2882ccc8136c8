package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/wordgate/apiserver/internal/store"
	"github.com/wordgate/apiserver/types"
)

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	Create(ctx context.Context, account types.Account) (types.Account, error)
	GetByID(ctx context.Context, id string) (types.Account, error)
	GetByEmail(ctx context.Context, email string) (types.Account, error)
	GetByCustomerRef(ctx context.Context, ref string) (types.Account, error)
	List(ctx context.Context) ([]types.Account, error)
	ListNonFree(ctx context.Context) ([]types.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error
	SetAdmin(ctx context.Context, id string, isAdmin bool, now time.Time) error
	SetCustomerRef(ctx context.Context, id, ref string, now time.Time) error
	ResetUsage(ctx context.Context, id string, now time.Time) error
	IncrementUsage(ctx context.Context, id string, n int64, now time.Time) (types.Account, bool, error)
	ResetPeriod(ctx context.Context, id string, u store.ExpirationUpdate) (bool, error)
	DowngradeToFree(ctx context.Context, id string, u store.ExpirationUpdate, wordLimit int64) (bool, error)
	UpdateTier(ctx context.Context, id string, u store.TierUpdate) (types.Account, error)
}

// dummyHash is compared against when an email is unknown so both failure
// paths of Authenticate cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("wordgate-dummy-password"), bcrypt.DefaultCost)

// AccountService encapsulates account use-cases.
type AccountService struct {
	repo      AccountRepository
	lifecycle *LifecycleService
	settings
}

func NewAccountService(repo AccountRepository, lifecycle *LifecycleService, opts ...Option) *AccountService {
	return &AccountService{repo: repo, lifecycle: lifecycle, settings: newSettings(opts)}
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create registers a new account on the free tier.
func (s *AccountService) Create(ctx context.Context, name, email, password string) (types.Account, error) {
	name = strings.TrimSpace(name)
	email = NormalizeEmail(email)
	if name == "" {
		return types.Account{}, invalid("name", "is required")
	}
	if email == "" {
		return types.Account{}, invalid("email", "is required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return types.Account{}, invalid("email", "is not a valid address")
	}
	if password == "" {
		return types.Account{}, invalid("password", "is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return types.Account{}, err
	}
	terms, err := s.policy.Terms(types.CategoryDaily)
	if err != nil {
		return types.Account{}, err
	}

	now := s.now()
	account, err := s.repo.Create(ctx, types.Account{
		ID:             uuid.NewString(),
		Name:           name,
		Email:          email,
		PasswordHash:   string(hash),
		Tier:           types.TierFree,
		TierCategory:   types.CategoryDaily,
		WordLimit:      terms.WordLimit,
		Status:         types.StatusActive,
		ExpirationDate: now.Add(terms.Interval),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.Account{}, ErrDuplicateEmail
		}
		return types.Account{}, storageError("create account", err)
	}

	s.logger.Info("account registered", "account_id", account.ID)
	return account, nil
}

// Authenticate verifies credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (types.Account, error) {
	account, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return types.Account{}, ErrInvalidCredentials
		}
		return types.Account{}, storageError("get account", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return types.Account{}, ErrInvalidCredentials
	}
	return account, nil
}

func (s *AccountService) ChangePassword(ctx context.Context, id, currentPassword, newPassword string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if newPassword == "" {
		return invalid("new_password", "is required")
	}
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return storageError("get account", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(currentPassword)) != nil {
		return ErrWrongPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return storageError("update password", s.repo.UpdatePassword(ctx, id, string(hash), s.now()))
}

// Get returns the account after applying any due expiration transition.
func (s *AccountService) Get(ctx context.Context, id string) (types.Account, error) {
	if err := checkID(id); err != nil {
		return types.Account{}, err
	}
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.Account{}, storageError("get account", err)
	}
	_, account, err = s.lifecycle.refresh(ctx, account)
	if err != nil {
		return types.Account{}, err
	}
	return account, nil
}

// GetByEmail looks an account up by its login address.
func (s *AccountService) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	account, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return types.Account{}, storageError("get account", err)
	}
	return account, nil
}

// GetByCustomerRef resolves a payment provider customer to its account.
func (s *AccountService) GetByCustomerRef(ctx context.Context, ref string) (types.Account, error) {
	account, err := s.repo.GetByCustomerRef(ctx, ref)
	if err != nil {
		return types.Account{}, storageError("get account", err)
	}
	return account, nil
}

// View returns the account with its derived remaining words and days.
func (s *AccountService) View(ctx context.Context, id string) (types.AccountView, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return types.AccountView{}, err
	}
	return types.NewAccountView(account, s.now()), nil
}

// ListAll returns every account, each expiration-checked first. An account
// whose check fails is listed as stored; the failures are returned joined
// alongside the full list. The list is nil only when it could not be read.
func (s *AccountService) ListAll(ctx context.Context) ([]types.AccountView, error) {
	accounts, err := s.repo.List(ctx)
	if err != nil {
		return nil, storageError("list accounts", err)
	}
	views := make([]types.AccountView, 0, len(accounts))
	var errs []error
	for _, account := range accounts {
		_, current, err := s.lifecycle.refresh(ctx, account)
		if err != nil {
			s.logger.Error("list: expiration check failed", "account_id", account.ID, "error", err)
			errs = append(errs, fmt.Errorf("account %s: %w", account.ID, err))
			current = account
		}
		views = append(views, types.NewAccountView(current, s.now()))
	}
	return views, errors.Join(errs...)
}

func (s *AccountService) SetAdmin(ctx context.Context, id string, isAdmin bool) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := s.repo.SetAdmin(ctx, id, isAdmin, s.now()); err != nil {
		return storageError("set admin", err)
	}
	s.logger.Info("admin flag changed", "account_id", id, "is_admin", isAdmin)
	return nil
}

func (s *AccountService) IsAdmin(ctx context.Context, id string) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, storageError("get account", err)
	}
	return account.IsAdmin, nil
}

// ResetUsage zeroes the period counter without touching the expiration.
func (s *AccountService) ResetUsage(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	return storageError("reset usage", s.repo.ResetUsage(ctx, id, s.now()))
}

// LinkCustomer records the payment provider customer of the account.
func (s *AccountService) LinkCustomer(ctx context.Context, id, customerRef string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if strings.TrimSpace(customerRef) == "" {
		return invalid("customer", "is required")
	}
	return storageError("link customer", s.repo.SetCustomerRef(ctx, id, customerRef, s.now()))
}
