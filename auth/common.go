// Package auth - vault session and unlock gating
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/quickvault/db"
	"github.com/alwitt/quickvault/encryption"
	"github.com/alwitt/quickvault/keyvault"
	"github.com/alwitt/quickvault/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// SessionState vault session state ENUM
type SessionState string

const (
	// SessionStateNoVault no vault exists in storage
	SessionStateNoVault SessionState = "NO_VAULT"
	// SessionStateLocked a vault exists but no keys are in memory
	SessionStateLocked SessionState = "LOCKED"
	// SessionStateUnlocked keys are live and record operations are allowed
	SessionStateUnlocked SessionState = "UNLOCKED"
	// SessionStateLockedCooldown locked, and unlock attempts are being refused
	SessionStateLockedCooldown SessionState = "LOCKED_COOLDOWN"
)

// SessionConfig session manager tuning parameters
type SessionConfig struct {
	// AutoLockAfter idle duration before the session locks itself
	AutoLockAfter time.Duration `validate:"required,gt=0"`
	// MaxUnlockAttempts consecutive passphrase failures before cooldown
	MaxUnlockAttempts int `validate:"required,gt=0"`
	// CooldownBase first cooldown duration; doubles on each further failure
	CooldownBase time.Duration `validate:"required,gt=0"`
	// CooldownCap upper bound on the cooldown duration
	CooldownCap time.Duration `validate:"required,gt=0"`
}

// DefaultSessionConfig session defaults
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		AutoLockAfter:     time.Second * 120,
		MaxUnlockAttempts: 5,
		CooldownBase:      time.Second * 5,
		CooldownCap:       time.Minute * 5,
	}
}

/*
Session the vault session manager. It owns the unlock state machine and is the
only component allowed to install keys into, or discard keys from, the
cryptography engine.

State transitions are observable through `States`; a new subscriber always
receives the current state before any transition.
*/
type Session interface {
	/*
		CurrentState report the session state

			@param ctx context.Context - execution context
	*/
	CurrentState(ctx context.Context) SessionState

	/*
		InitializeVault create a new vault and open a session against it

			@param ctx context.Context - execution context
			@param passphrase string - the vault passphrase
	*/
	InitializeVault(ctx context.Context, passphrase string) error

	/*
		UnlockWithPassphrase open a session using the vault passphrase

		During cooldown this fails with a `models.CooldownError` carrying the
		remaining wait.

			@param ctx context.Context - execution context
			@param passphrase string - the vault passphrase
	*/
	UnlockWithPassphrase(ctx context.Context, passphrase string) error

	/*
		UnlockWithBiometric open a session through the hardware keyring

			@param ctx context.Context - execution context
	*/
	UnlockWithBiometric(ctx context.Context) error

	/*
		Lock close the session and wipe all live keys

			@param ctx context.Context - execution context
	*/
	Lock(ctx context.Context) error

	/*
		EnteredBackground the hosting application left the foreground

		Locks immediately.

			@param ctx context.Context - execution context
	*/
	EnteredBackground(ctx context.Context)

	/*
		TouchActivity note user activity, resetting the idle auto-lock timer
	*/
	TouchActivity()

	/*
		ChangePassphrase rewrap the vault KEK under a new passphrase

		Requires an unlocked session and the current passphrase.

			@param ctx context.Context - execution context
			@param currentPassphrase string - the current passphrase
			@param newPassphrase string - the replacement passphrase
	*/
	ChangePassphrase(ctx context.Context, currentPassphrase, newPassphrase string) error

	/*
		EnableBiometric enroll biometric unlock using the live session KEK

			@param ctx context.Context - execution context
	*/
	EnableBiometric(ctx context.Context) error

	/*
		DisableBiometric remove biometric unlock

			@param ctx context.Context - execution context
	*/
	DisableBiometric(ctx context.Context) error

	/*
		DestroyVault irrecoverably delete the vault and return to NO_VAULT

			@param ctx context.Context - execution context
	*/
	DestroyVault(ctx context.Context) error

	/*
		States subscribe to session state transitions

		The current state is replayed to the new subscriber first.

			@return state channel, and an idempotent cancel function
	*/
	States() (<-chan SessionState, func())

	/*
		Close release timers and state subscribers
	*/
	Close() error
}

// sessionImpl implements Session
type sessionImpl struct {
	goutils.Component

	persistence db.Client
	keys        keyvault.KeyVault
	crypto      encryption.Engine
	config      SessionConfig
	validator   *validator.Validate

	lock          sync.Mutex
	state         SessionState
	kek           []byte
	failures      int
	cooldownUntil time.Time
	idleTimer     *time.Timer

	observers *stateBus
}

// SessionParams session manager init parameters
type SessionParams struct {
	// Persistence persistence layer client
	Persistence db.Client `validate:"-"`
	// Keys the key vault
	Keys keyvault.KeyVault `validate:"-"`
	// Crypto the cryptography engine receiving session keys
	Crypto encryption.Engine `validate:"-"`
	// Config session tuning parameters
	Config SessionConfig `validate:"required"`
}

/*
NewSessionManager define new session manager

The initial state is read from the vault parameter entry: a storage without a
fully initialized vault starts at NO_VAULT, anything else starts LOCKED.

	@param ctx context.Context - execution context
	@param params SessionParams - session manager parameters
	@returns session manager instance
*/
func NewSessionManager(ctx context.Context, params SessionParams) (Session, error) {
	logTags := log.Fields{"package": "quickvault", "module": "auth", "component": "session"}

	instance := &sessionImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: params.Persistence,
		keys:        params.Keys,
		crypto:      params.Crypto,
		config:      params.Config,
		validator:   validator.New(),
		state:       SessionStateNoVault,
		observers:   newStateBus(),
	}
	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}
	if err := instance.validator.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid session manager init parameters [%w]", err)
	}
	if params.Persistence == nil || params.Keys == nil || params.Crypto == nil {
		return nil, fmt.Errorf("session manager requires persistence, key vault, and crypto engine")
	}

	// Read back where the storage left off
	var vaultParams models.VaultParams
	if dbErr := params.Persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			vaultParams, err = dbClient.GetVaultParamEntry(dbCtx)
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to read vault parameter entry [%w]", dbErr)
	}
	if vaultParams.State == models.VaultStateReady {
		instance.state = SessionStateLocked
	}
	instance.observers.replay = instance.state

	return instance, nil
}

// ======================================================================================
// State broadcast

// stateBus fan-out of session state transitions with current-state replay
type stateBus struct {
	lock   sync.Mutex
	replay SessionState
	nextID int
	subs   map[int]chan SessionState
}

const stateBusSubscriberBuffer = 8

func newStateBus() *stateBus {
	return &stateBus{subs: make(map[int]chan SessionState)}
}

func (b *stateBus) subscribe() (<-chan SessionState, func()) {
	b.lock.Lock()
	defer b.lock.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan SessionState, stateBusSubscriberBuffer)
	ch <- b.replay
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.lock.Lock()
			defer b.lock.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}

	return ch, cancel
}

func (b *stateBus) publish(state SessionState) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.replay = state
	for _, sub := range b.subs {
		for {
			select {
			case sub <- state:
			default:
				// Drop the oldest pending transition and retry
				select {
				case <-sub:
				default:
				}
				continue
			}
			break
		}
	}
}

func (b *stateBus) close() {
	b.lock.Lock()
	defer b.lock.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}
