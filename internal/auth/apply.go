package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"atms/identity/internal/apperr"
	"atms/identity/internal/model"
	"atms/identity/internal/policy"
	"atms/identity/internal/repository"
	"atms/identity/internal/wallet"
)

// ApplyRequest is a wallet owner asking for an account. The signature covers
// ApplicationMessage for the role and nonce.
type ApplyRequest struct {
	Address   string
	Role      string
	Signature string
	Nonce     string
	Details   model.AccountDetails
}

// Apply records a pending account for a university or verifier that proved
// control of its wallet. The account cannot sign in until an admin approves
// it.
func (o *Orchestrator) Apply(ctx context.Context, req ApplyRequest) (model.Account, error) {
	addr, err := wallet.NormalizeAddress(req.Address)
	if err != nil {
		return model.Account{}, apperr.InvalidArg("invalid_address", "invalid wallet address")
	}
	role, err := policy.ParseRole(req.Role)
	if err != nil {
		return model.Account{}, apperr.InvalidArg("invalid_role", "unknown role")
	}
	if role != policy.University && role != policy.Verifier {
		return model.Account{}, apperr.InvalidArg("role_not_open", "only universities and verifiers may apply")
	}
	if !nonceFormat.MatchString(req.Nonce) {
		return model.Account{}, apperr.InvalidArg("invalid_nonce", "nonce must be 6 digits")
	}
	sig, err := wallet.DecodeSignature(req.Signature)
	if err != nil {
		return model.Account{}, apperr.InvalidArg("invalid_signature", "signature must be 65 hex-encoded bytes")
	}
	if _, err := o.checkChallenge(ctx, addr, ApplicationMessage(role.Name(), req.Nonce), sig, req.Nonce); err != nil {
		return model.Account{}, err
	}

	details := req.Details
	details.Permissions = policy.PermissionNames(role)
	account := model.Account{
		ID:            uuid.NewString(),
		WalletAddress: addr,
		Role:          role.Name(),
		Details:       details,
		Pending:       true,
		CreatedAt:     o.clock.Now().UTC(),
	}

	callCtx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()
	err = o.accounts.CreateAccount(callCtx, account)
	if errors.Is(err, repository.ErrDuplicate) {
		return model.Account{}, apperr.New(apperr.CodeConflict, "account_exists", "account already registered for this role")
	}
	if err != nil {
		o.log.Error("account application failed", zap.String("address", addr), zap.Error(err))
		return model.Account{}, apperr.Unavailable(err)
	}
	o.log.Info("account application received", zap.String("account_id", account.ID), zap.String("role", account.Role))
	return account, nil
}
