package service

import (
	"otp-auth-service/internal/hashing"
	"otp-auth-service/internal/token"
)

// ServiceFactory creates and holds service singletons.
type ServiceFactory struct {
	otps     OTPStore
	ledger   SignupLedger
	tokens   TokenStore
	users    UserDirectory
	hasher   *hashing.Hasher
	tokenMgr *token.Manager
	events   EventRecorder

	authService *AuthService
}

func NewServiceFactory(
	otps OTPStore,
	ledger SignupLedger,
	tokens TokenStore,
	users UserDirectory,
	hasher *hashing.Hasher,
	tokenMgr *token.Manager,
	events EventRecorder,
) *ServiceFactory {
	return &ServiceFactory{
		otps:     otps,
		ledger:   ledger,
		tokens:   tokens,
		users:    users,
		hasher:   hasher,
		tokenMgr: tokenMgr,
		events:   events,
	}
}

// AuthService returns the auth service instance (singleton).
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(
			f.otps, f.ledger, f.tokens, f.users,
			f.hasher, f.tokenMgr, f.events)
	}
	return f.authService
}
