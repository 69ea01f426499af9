package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/quickvault/db"
	"github.com/alwitt/quickvault/encryption"
	"github.com/alwitt/quickvault/models"
	"github.com/apex/log"
)

// resolveStateLocked settle an expired cooldown. Caller must hold s.lock.
func (s *sessionImpl) resolveStateLocked() SessionState {
	if s.state == SessionStateLockedCooldown && time.Now().After(s.cooldownUntil) {
		s.setStateLocked(SessionStateLocked)
	}
	return s.state
}

// setStateLocked transition and broadcast. Caller must hold s.lock.
func (s *sessionImpl) setStateLocked(newState SessionState) {
	if s.state == newState {
		return
	}
	s.state = newState
	s.observers.publish(newState)
}

/*
CurrentState report the session state

	@param ctx context.Context - execution context
*/
func (s *sessionImpl) CurrentState(_ context.Context) SessionState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.resolveStateLocked()
}

// recordSessionEvent write a session audit event in its own transaction
func (s *sessionImpl) recordSessionEvent(
	ctx context.Context, eventType models.VaultEventTypeENUMType,
) {
	logTags := s.GetLogTagsForContext(ctx)
	if err := s.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			_, err := dbClient.RecordVaultEvent(dbCtx, eventType, nil)
			return err
		},
	); err != nil {
		log.WithError(err).WithFields(logTags).
			WithField("event", eventType).
			Error("Failed to record session audit event")
	}
}

// openSession install keys and move to UNLOCKED. Takes ownership of kek.
func (s *sessionImpl) openSession(ctx context.Context, kek []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.crypto.InstallKEK(kek); err != nil {
		encryption.WipeKey(kek)
		return fmt.Errorf("failed to hand keys to crypto engine [%w]", err)
	}

	if s.kek != nil {
		encryption.WipeKey(s.kek)
	}
	s.kek = kek
	s.failures = 0
	s.cooldownUntil = time.Time{}
	s.setStateLocked(SessionStateUnlocked)
	s.resetIdleTimerLocked()

	go s.recordSessionEvent(ctx, models.VaultEventTypeUnlocked)
	return nil
}

// registerUnlockFailure count a failed passphrase attempt, entering cooldown
// once the attempt budget is spent
func (s *sessionImpl) registerUnlockFailure(ctx context.Context) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.failures++
	if s.failures < s.config.MaxUnlockAttempts {
		return
	}

	// Double the cooldown for every failure past the budget
	cooldown := s.config.CooldownBase
	for step := s.failures - s.config.MaxUnlockAttempts; step > 0 && cooldown < s.config.CooldownCap; step-- {
		cooldown *= 2
	}
	if cooldown > s.config.CooldownCap {
		cooldown = s.config.CooldownCap
	}

	s.cooldownUntil = time.Now().Add(cooldown)
	s.setStateLocked(SessionStateLockedCooldown)

	logTags := s.GetLogTagsForContext(ctx)
	log.WithFields(logTags).
		WithField("failures", s.failures).
		WithField("cooldown", cooldown.String()).
		Warn("Unlock attempt budget spent")
}

// gateUnlockAttempt verify an unlock attempt is allowed right now
func (s *sessionImpl) gateUnlockAttempt() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch s.resolveStateLocked() {
	case SessionStateNoVault:
		return fmt.Errorf("no vault to unlock [%w]", models.ErrNoVault)
	case SessionStateUnlocked:
		return nil
	case SessionStateLockedCooldown:
		return &models.CooldownError{RetryAfter: time.Until(s.cooldownUntil)}
	}
	return nil
}

/*
InitializeVault create a new vault and open a session against it

	@param ctx context.Context - execution context
	@param passphrase string - the vault passphrase
*/
func (s *sessionImpl) InitializeVault(ctx context.Context, passphrase string) error {
	s.lock.Lock()
	if s.resolveStateLocked() != SessionStateNoVault {
		s.lock.Unlock()
		return fmt.Errorf("vault already present [%w]", models.ErrVaultExists)
	}
	s.lock.Unlock()

	kek, err := s.keys.Initialize(ctx, passphrase)
	if err != nil {
		return err
	}

	return s.openSession(ctx, kek)
}

/*
UnlockWithPassphrase open a session using the vault passphrase

	@param ctx context.Context - execution context
	@param passphrase string - the vault passphrase
*/
func (s *sessionImpl) UnlockWithPassphrase(ctx context.Context, passphrase string) error {
	if err := s.gateUnlockAttempt(); err != nil {
		return err
	}
	if s.CurrentState(ctx) == SessionStateUnlocked {
		s.TouchActivity()
		return nil
	}

	kek, err := s.keys.UnlockWithPassphrase(ctx, passphrase)
	if err != nil {
		if errors.Is(err, models.ErrWrongPassphrase) {
			s.registerUnlockFailure(ctx)
		}
		return err
	}

	return s.openSession(ctx, kek)
}

/*
UnlockWithBiometric open a session through the hardware keyring

	@param ctx context.Context - execution context
*/
func (s *sessionImpl) UnlockWithBiometric(ctx context.Context) error {
	if err := s.gateUnlockAttempt(); err != nil {
		return err
	}
	if s.CurrentState(ctx) == SessionStateUnlocked {
		s.TouchActivity()
		return nil
	}

	// A refused presence check does not spend the passphrase attempt budget
	kek, err := s.keys.UnlockWithBiometric(ctx)
	if err != nil {
		return err
	}

	return s.openSession(ctx, kek)
}

// lockSession close the session. Reports whether a session was actually open.
func (s *sessionImpl) lockSession() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state != SessionStateUnlocked {
		return false
	}

	s.stopIdleTimerLocked()
	s.crypto.DiscardKeys()
	if s.kek != nil {
		encryption.WipeKey(s.kek)
		s.kek = nil
	}
	s.setStateLocked(SessionStateLocked)
	return true
}

/*
Lock close the session and wipe all live keys

	@param ctx context.Context - execution context
*/
func (s *sessionImpl) Lock(ctx context.Context) error {
	if s.lockSession() {
		s.recordSessionEvent(ctx, models.VaultEventTypeLocked)
	}
	return nil
}

/*
EnteredBackground the hosting application left the foreground

	@param ctx context.Context - execution context
*/
func (s *sessionImpl) EnteredBackground(ctx context.Context) {
	if s.lockSession() {
		s.recordSessionEvent(ctx, models.VaultEventTypeLocked)
	}
}

// ======================================================================================
// Idle timer

// resetIdleTimerLocked arm or rewind the idle auto-lock. Caller must hold s.lock.
func (s *sessionImpl) resetIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.config.AutoLockAfter, func() {
		if s.lockSession() {
			s.recordSessionEvent(context.Background(), models.VaultEventTypeLocked)
		}
	})
}

// stopIdleTimerLocked disarm the idle auto-lock. Caller must hold s.lock.
func (s *sessionImpl) stopIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

/*
TouchActivity note user activity, resetting the idle auto-lock timer
*/
func (s *sessionImpl) TouchActivity() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state == SessionStateUnlocked {
		s.resetIdleTimerLocked()
	}
}

// ======================================================================================
// Key slot management

// sessionKEKCopy copy the live KEK for a key slot operation
func (s *sessionImpl) sessionKEKCopy() ([]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.resolveStateLocked() != SessionStateUnlocked || s.kek == nil {
		return nil, fmt.Errorf("session not open [%w]", models.ErrLocked)
	}

	kek := make([]byte, len(s.kek))
	copy(kek, s.kek)
	return kek, nil
}

/*
ChangePassphrase rewrap the vault KEK under a new passphrase

	@param ctx context.Context - execution context
	@param currentPassphrase string - the current passphrase
	@param newPassphrase string - the replacement passphrase
*/
func (s *sessionImpl) ChangePassphrase(
	ctx context.Context, currentPassphrase, newPassphrase string,
) error {
	kek, err := s.sessionKEKCopy()
	if err != nil {
		return err
	}
	defer encryption.WipeKey(kek)

	// Prove knowledge of the current passphrase before rewrapping
	verify, err := s.keys.UnlockWithPassphrase(ctx, currentPassphrase)
	if err != nil {
		return err
	}
	encryption.WipeKey(verify)

	if err := s.keys.ChangePassphrase(ctx, kek, newPassphrase); err != nil {
		return err
	}

	s.TouchActivity()
	return nil
}

/*
EnableBiometric enroll biometric unlock using the live session KEK

	@param ctx context.Context - execution context
*/
func (s *sessionImpl) EnableBiometric(ctx context.Context) error {
	kek, err := s.sessionKEKCopy()
	if err != nil {
		return err
	}
	defer encryption.WipeKey(kek)

	if err := s.keys.EnableBiometric(ctx, kek); err != nil {
		return err
	}

	s.TouchActivity()
	return nil
}

/*
DisableBiometric remove biometric unlock

	@param ctx context.Context - execution context
*/
func (s *sessionImpl) DisableBiometric(ctx context.Context) error {
	if err := s.keys.DisableBiometric(ctx); err != nil {
		return err
	}
	s.TouchActivity()
	return nil
}

/*
DestroyVault irrecoverably delete the vault and return to NO_VAULT

	@param ctx context.Context - execution context
*/
func (s *sessionImpl) DestroyVault(ctx context.Context) error {
	// Wipe live keys first
	s.lockSession()

	s.lock.Lock()
	if s.resolveStateLocked() == SessionStateNoVault {
		s.lock.Unlock()
		return fmt.Errorf("no vault to destroy [%w]", models.ErrNoVault)
	}
	s.lock.Unlock()

	if err := s.keys.Destroy(ctx); err != nil {
		return err
	}

	s.lock.Lock()
	s.failures = 0
	s.cooldownUntil = time.Time{}
	s.setStateLocked(SessionStateNoVault)
	s.lock.Unlock()

	return nil
}

/*
States subscribe to session state transitions

	@return state channel, and an idempotent cancel function
*/
func (s *sessionImpl) States() (<-chan SessionState, func()) {
	return s.observers.subscribe()
}

/*
Close release timers and state subscribers
*/
func (s *sessionImpl) Close() error {
	s.lockSession()
	s.lock.Lock()
	s.stopIdleTimerLocked()
	s.lock.Unlock()
	s.observers.close()
	return nil
}
