// Package auth composes the sign-in flow (nonce, signature, account lookup,
// session sealing) and session resolution for authenticated requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	"atms/identity/internal/apperr"
	"atms/identity/internal/metrics"
	"atms/identity/internal/model"
	"atms/identity/internal/nonce"
	"atms/identity/internal/policy"
	"atms/identity/internal/repository"
	"atms/identity/internal/session"
	"atms/identity/internal/wallet"
)

const defaultStoreTimeout = 3 * time.Second

var nonceFormat = regexp.MustCompile(`^[0-9]{6}$`)

// SignInMessage is the exact text the wallet signs.
func SignInMessage(role, nonce string) string {
	return fmt.Sprintf("Welcome!\n\nSign in as %s\nNonce: %s", role, nonce)
}

// ApplicationMessage is signed to apply for a new account.
func ApplicationMessage(role, nonce string) string {
	return fmt.Sprintf("Welcome!\n\nApply as %s\nNonce: %s", role, nonce)
}

type Deps struct {
	Nonces       *nonce.Service
	Verifier     wallet.Verifier
	Accounts     repository.Accounts
	Codec        *session.Codec
	Clock        abtime.AbstractTime
	Log          *zap.Logger
	Metrics      *metrics.Metrics
	StoreTimeout time.Duration
}

type Orchestrator struct {
	nonces       *nonce.Service
	verifier     wallet.Verifier
	accounts     repository.Accounts
	codec        *session.Codec
	clock        abtime.AbstractTime
	log          *zap.Logger
	metrics      *metrics.Metrics
	storeTimeout time.Duration
}

func NewOrchestrator(d Deps) *Orchestrator {
	if d.Verifier == nil {
		d.Verifier = wallet.PersonalSign{}
	}
	if d.Clock == nil {
		d.Clock = abtime.NewRealTime()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = defaultStoreTimeout
	}
	return &Orchestrator{
		nonces:       d.Nonces,
		verifier:     d.Verifier,
		accounts:     d.Accounts,
		codec:        d.Codec,
		clock:        d.Clock,
		log:          d.Log,
		metrics:      d.Metrics,
		storeTimeout: d.StoreTimeout,
	}
}

type SignInRequest struct {
	Address   string
	Role      string
	Signature string
	Nonce     string
}

type SignInResult struct {
	Token     string
	Principal *policy.Principal
	Account   model.Account
}

// NonceTTL is how long an issued nonce stays valid.
func (o *Orchestrator) NonceTTL() time.Duration { return o.nonces.TTL() }

func (o *Orchestrator) RequestNonce(ctx context.Context, address string) (string, error) {
	addr, err := wallet.NormalizeAddress(address)
	if err != nil {
		return "", apperr.InvalidArg("invalid_address", "invalid wallet address")
	}
	callCtx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()
	value, err := o.nonces.Issue(callCtx, addr)
	if err != nil {
		o.log.Error("nonce issue failed", zap.String("address", addr), zap.Error(err))
		return "", apperr.Unavailable(err)
	}
	o.metrics.NonceIssued()
	return value, nil
}

// CompleteSignIn runs verify signature -> validate nonce -> look up account
// -> seal, strictly in that order. A bad signature leaves the nonce intact;
// once validated the nonce stays consumed even if the lookup fails.
func (o *Orchestrator) CompleteSignIn(ctx context.Context, req SignInRequest) (SignInResult, error) {
	addr, err := wallet.NormalizeAddress(req.Address)
	if err != nil {
		return SignInResult{}, o.reject("invalid_input", apperr.InvalidArg("invalid_address", "invalid wallet address"))
	}
	role, err := policy.ParseRole(req.Role)
	if err != nil {
		return SignInResult{}, o.reject("invalid_input", apperr.InvalidArg("invalid_role", "unknown role"))
	}
	if !nonceFormat.MatchString(req.Nonce) {
		return SignInResult{}, o.reject("invalid_input", apperr.InvalidArg("invalid_nonce", "nonce must be 6 digits"))
	}
	sig, err := wallet.DecodeSignature(req.Signature)
	if err != nil {
		return SignInResult{}, o.reject("invalid_input", apperr.InvalidArg("invalid_signature", "signature must be 65 hex-encoded bytes"))
	}

	if outcome, err := o.checkChallenge(ctx, addr, SignInMessage(role.Name(), req.Nonce), sig, req.Nonce); err != nil {
		return SignInResult{}, o.reject(outcome, err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	account, err := o.accounts.FindAccount(lookupCtx, addr, role.Name())
	cancel()
	if errors.Is(err, repository.ErrNotFound) {
		o.log.Info("sign-in account not found", zap.String("address", addr), zap.String("role", role.Name()))
		return SignInResult{}, o.reject("account_not_found", apperr.Forbidden("account_not_found", "Account not found for this role"))
	}
	if err != nil {
		o.log.Error("account lookup failed", zap.String("address", addr), zap.Error(err))
		return SignInResult{}, o.reject("store_error", apperr.Unavailable(err))
	}

	if account.Pending {
		o.log.Info("sign-in account pending approval", zap.String("user_id", account.ID), zap.String("role", role.Name()))
		return SignInResult{}, o.reject("account_pending", apperr.Forbidden("account_pending", "Account awaiting approval"))
	}

	principal := principalFor(account, role)
	token, err := o.codec.Seal(session.Payload{
		UserID:        principal.UserID,
		Role:          role.Name(),
		WalletAddress: principal.WalletAddress,
		Details:       principal.Details,
	})
	if err != nil {
		return SignInResult{}, o.reject("seal_error", apperr.Internal(err))
	}

	o.metrics.SignIn("ok")
	o.log.Info("sign-in succeeded", zap.String("user_id", account.ID), zap.String("role", role.Name()))
	return SignInResult{Token: token, Principal: principal, Account: account}, nil
}

// ResolveSession turns a session token into a principal. The account is
// re-read so a deleted or unapproved account cannot keep using old cookies;
// a transient store failure on that read is retried once.
func (o *Orchestrator) ResolveSession(ctx context.Context, token string) (*policy.Principal, error) {
	payload, err := o.codec.Unseal(token)
	if errors.Is(err, session.ErrExpired) {
		return nil, apperr.Unauthenticated("session_expired", "session expired")
	}
	if err != nil {
		return nil, apperr.Unauthenticated("invalid_session", "invalid session")
	}
	role, err := policy.ParseRole(payload.Role)
	if err != nil {
		return nil, apperr.Unauthenticated("invalid_session", "invalid session")
	}

	account, err := o.sessionAccount(ctx, payload.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Unauthenticated("invalid_session", "invalid session")
	}
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if account.Pending || account.WalletAddress != payload.WalletAddress || account.Role != role.Name() {
		o.log.Warn("session identity does not match account", zap.String("user_id", payload.UserID))
		return nil, apperr.Unauthenticated("invalid_session", "invalid session")
	}

	return &policy.Principal{
		UserID:        payload.UserID,
		Role:          role,
		WalletAddress: payload.WalletAddress,
		Details:       payload.Details,
	}, nil
}

func (o *Orchestrator) sessionAccount(ctx context.Context, id string) (model.Account, error) {
	var account model.Account
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.storeTimeout)
		account, err = o.accounts.GetAccount(callCtx, id)
		cancel()
		if err == nil || errors.Is(err, repository.ErrNotFound) || ctx.Err() != nil {
			return account, err
		}
		o.log.Warn("session account lookup failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return account, err
}

// checkChallenge verifies the signature over message and then consumes the
// nonce. A bad signature leaves the nonce untouched. The returned outcome
// labels the failure for metrics.
func (o *Orchestrator) checkChallenge(ctx context.Context, addr, message string, sig []byte, value string) (string, error) {
	if _, err := o.verifier.Verify(message, sig, addr); err != nil {
		o.log.Info("signature rejected", zap.String("address", addr), zap.Error(err))
		return "signature_invalid", apperr.Unauthenticated("signature_invalid", "signature verification failed")
	}

	nonceCtx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	err := o.nonces.Validate(nonceCtx, addr, value)
	cancel()
	switch {
	case err == nil:
		return "", nil
	case errors.Is(err, nonce.ErrNotFound):
		return "nonce_not_found", apperr.Unauthenticated("nonce_not_found", "no pending nonce for address")
	case errors.Is(err, nonce.ErrExpired):
		return "nonce_expired", apperr.Unauthenticated("nonce_expired", "nonce expired")
	case errors.Is(err, nonce.ErrMismatch):
		return "nonce_mismatch", apperr.Unauthenticated("nonce_mismatch", "nonce does not match")
	default:
		o.log.Error("nonce validation failed", zap.String("address", addr), zap.Error(err))
		return "store_error", apperr.Unavailable(err)
	}
}

func (o *Orchestrator) reject(outcome string, err error) error {
	o.metrics.SignIn(outcome)
	return err
}

// principalFor copies the account's role attributes into the session with
// the permissions the role grants server-side.
func principalFor(account model.Account, role policy.Role) *policy.Principal {
	details := account.Details
	details.Permissions = policy.PermissionNames(role)
	return &policy.Principal{
		UserID:        account.ID,
		Role:          role,
		WalletAddress: account.WalletAddress,
		Details:       details,
	}
}
