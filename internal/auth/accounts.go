package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	"atms/identity/internal/apperr"
	"atms/identity/internal/model"
	"atms/identity/internal/policy"
	"atms/identity/internal/repository"
	"atms/identity/internal/wallet"
)

var manageAccounts = policy.Requirement{
	Roles:      []policy.Role{policy.Admin},
	Permission: policy.PermManageVerifiers,
}

// AccountAdmin registers accounts, rewrites their role details and reviews
// pending applications. The identity fields (id, wallet address, role) are
// fixed at creation.
type AccountAdmin struct {
	accounts     repository.Accounts
	gate         *Gate
	clock        abtime.AbstractTime
	log          *zap.Logger
	storeTimeout time.Duration
}

func NewAccountAdmin(accounts repository.Accounts, gate *Gate, clock abtime.AbstractTime, log *zap.Logger, storeTimeout time.Duration) *AccountAdmin {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if gate == nil {
		gate = NewGate(log, nil)
	}
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &AccountAdmin{accounts: accounts, gate: gate, clock: clock, log: log, storeTimeout: storeTimeout}
}

func (a *AccountAdmin) Register(ctx context.Context, p *policy.Principal, walletAddress, roleName string, details model.AccountDetails) (model.Account, error) {
	if _, err := a.gate.Check(p, manageAccounts, policy.Resource{}); err != nil {
		return model.Account{}, err
	}
	addr, err := wallet.NormalizeAddress(walletAddress)
	if err != nil {
		return model.Account{}, apperr.InvalidArg("invalid_address", "invalid wallet address")
	}
	role, err := policy.ParseRole(roleName)
	if err != nil {
		return model.Account{}, apperr.InvalidArg("invalid_role", "unknown role")
	}

	details.Permissions = policy.PermissionNames(role)
	account := model.Account{
		ID:            uuid.NewString(),
		WalletAddress: addr,
		Role:          role.Name(),
		Details:       details,
		CreatedAt:     a.clock.Now().UTC(),
	}

	callCtx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	err = a.accounts.CreateAccount(callCtx, account)
	if errors.Is(err, repository.ErrDuplicate) {
		return model.Account{}, apperr.New(apperr.CodeConflict, "account_exists", "account already registered for this role")
	}
	if err != nil {
		return model.Account{}, apperr.Unavailable(err)
	}
	a.log.Info("account registered", zap.String("account_id", account.ID), zap.String("role", account.Role), zap.String("user_id", p.UserID))
	return account, nil
}

func (a *AccountAdmin) UpdateDetails(ctx context.Context, p *policy.Principal, id string, details model.AccountDetails) (model.Account, error) {
	if _, err := a.gate.Check(p, manageAccounts, policy.Resource{}); err != nil {
		return model.Account{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return model.Account{}, apperr.NotFound("account_not_found", "account not found")
	}

	callCtx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	current, err := a.accounts.GetAccount(callCtx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Account{}, apperr.NotFound("account_not_found", "account not found")
	}
	if err != nil {
		return model.Account{}, apperr.Unavailable(err)
	}
	role, err := policy.ParseRole(current.Role)
	if err != nil {
		return model.Account{}, apperr.Internal(err)
	}

	details.Permissions = policy.PermissionNames(role)
	updated, err := a.accounts.UpdateAccountDetails(callCtx, id, details)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Account{}, apperr.NotFound("account_not_found", "account not found")
	}
	if err != nil {
		return model.Account{}, apperr.Unavailable(err)
	}
	a.log.Info("account details updated", zap.String("account_id", id), zap.String("user_id", p.UserID))
	return updated, nil
}

// ListPending returns applications awaiting review, oldest first. An empty
// role lists every role.
func (a *AccountAdmin) ListPending(ctx context.Context, p *policy.Principal, roleName string) ([]model.Account, error) {
	if _, err := a.gate.Check(p, manageAccounts, policy.Resource{}); err != nil {
		return nil, err
	}
	if roleName != "" {
		role, err := policy.ParseRole(roleName)
		if err != nil {
			return nil, apperr.InvalidArg("invalid_role", "unknown role")
		}
		roleName = role.Name()
	}
	callCtx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	accounts, err := a.accounts.ListPendingAccounts(callCtx, roleName)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return accounts, nil
}

// Approve lets a pending account sign in.
func (a *AccountAdmin) Approve(ctx context.Context, p *policy.Principal, id string) (model.Account, error) {
	if _, err := a.gate.Check(p, manageAccounts, policy.Resource{}); err != nil {
		return model.Account{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return model.Account{}, apperr.NotFound("account_not_found", "account not found")
	}

	callCtx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	account, err := a.accounts.ApproveAccount(callCtx, id)
	if errors.Is(err, repository.ErrNotFound) {
		if _, getErr := a.accounts.GetAccount(callCtx, id); getErr == nil {
			return model.Account{}, apperr.New(apperr.CodeConflict, "account_not_pending", "account is already approved")
		}
		return model.Account{}, apperr.NotFound("account_not_found", "account not found")
	}
	if err != nil {
		return model.Account{}, apperr.Unavailable(err)
	}
	a.log.Info("account approved", zap.String("account_id", id), zap.String("role", account.Role), zap.String("user_id", p.UserID))
	return account, nil
}

// Remove deletes an account, rejecting it if it was still pending. Sessions
// already issued to it stop resolving on their next request.
func (a *AccountAdmin) Remove(ctx context.Context, p *policy.Principal, id string) error {
	if _, err := a.gate.Check(p, manageAccounts, policy.Resource{}); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return apperr.NotFound("account_not_found", "account not found")
	}
	if id == p.UserID {
		return apperr.New(apperr.CodeConflict, "cannot_remove_self", "admins cannot remove their own account")
	}

	callCtx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	err := a.accounts.DeleteAccount(callCtx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("account_not_found", "account not found")
	}
	if err != nil {
		return apperr.Unavailable(err)
	}
	a.log.Info("account removed", zap.String("account_id", id), zap.String("user_id", p.UserID))
	return nil
}
