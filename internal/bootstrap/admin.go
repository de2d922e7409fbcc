// Package bootstrap handles one-time initialization tasks for the application.
package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/store"
	"github.com/dukerupert/tuition/internal/telemetry"
	"github.com/rs/zerolog"
)

// State is the admin bootstrap state.
type State int

const (
	// NoAdminsExist allows the first authenticated user to promote themselves.
	NoAdminsExist State = iota
	// AdminsExist is terminal; promotion is closed for good.
	AdminsExist
)

func (s State) String() string {
	switch s {
	case NoAdminsExist:
		return "no_admins_exist"
	case AdminsExist:
		return "admins_exist"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrAdminsExist is returned by Promote once any administrator exists.
var ErrAdminsExist = domain.Errorf(domain.EFORBIDDEN, "", "An administrator already exists")

// ClaimsManager grants the admin claim in the identity provider.
// firebase.Auth implements it.
type ClaimsManager interface {
	// SetAdminClaim marks uid as an administrator, keeping its other claims.
	SetAdminClaim(ctx context.Context, uid string) error

	// AnyAdminExists scans users for an admin claim and returns the first found.
	AnyAdminExists(ctx context.Context) (uid string, exists bool, err error)
}

// Bootstrapper promotes the first administrator exactly once.
//
// The store's bootstrap gate is the cross-process source of truth: the first
// writer to claim it is the only caller that may set the admin claim. The
// cached state only ever moves from NoAdminsExist to AdminsExist.
//
// If a process crashes after claiming the gate but before the claim is set,
// the gate stays claimed and no admin exists. An operator has to clear the
// gate record by hand.
type Bootstrapper struct {
	gate   store.BootstrapGate
	claims ClaimsManager

	mu     sync.Mutex
	loaded bool
	state  State
}

// NewBootstrapper creates a Bootstrapper. The initial state is derived lazily
// on first use.
func NewBootstrapper(gate store.BootstrapGate, claims ClaimsManager) *Bootstrapper {
	return &Bootstrapper{gate: gate, claims: claims}
}

// State returns the current bootstrap state.
func (b *Bootstrapper) State(ctx context.Context) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.load(ctx); err != nil {
		return NoAdminsExist, err
	}
	return b.state, nil
}

// Promote grants uid the admin claim if no administrator exists yet.
//
// Returns ErrAdminsExist when promotion is closed, including when another
// caller wins the gate concurrently. If setting the claim fails the gate is
// released so a later attempt can succeed.
func (b *Bootstrapper) Promote(ctx context.Context, uid string) error {
	const op = "bootstrap.promote"

	if uid == "" {
		return domain.Errorf(domain.EINVALID, op, "User id is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	log := zerolog.Ctx(ctx).With().Str("uid", uid).Logger()

	if err := b.load(ctx); err != nil {
		countPromotion("error")
		return err
	}
	if b.state == AdminsExist {
		countPromotion("forbidden")
		return ErrAdminsExist
	}

	won, err := b.gate.ClaimAdminBootstrap(ctx, uid)
	if err != nil {
		countPromotion("error")
		return err
	}
	if !won {
		b.state = AdminsExist
		countPromotion("forbidden")
		log.Info().Msg("bootstrap: gate already claimed by another user")
		return ErrAdminsExist
	}

	if err := b.claims.SetAdminClaim(ctx, uid); err != nil {
		if rerr := b.gate.ReleaseAdminBootstrap(context.WithoutCancel(ctx), uid); rerr != nil {
			log.Error().Err(rerr).Msg("bootstrap: failed to release gate; manual cleanup required")
		}
		countPromotion("error")
		return err
	}

	b.state = AdminsExist
	countPromotion("promoted")
	log.Info().Msg("bootstrap: first administrator promoted")
	return nil
}

// load derives the initial state from the gate and, when unclaimed, from the
// identity provider. An admin created out of band claims the gate on its own
// behalf so other processes see it too. While no admin is known the gate is
// read again on every call, so a promotion in another process is picked up.
// Caller holds b.mu.
func (b *Bootstrapper) load(ctx context.Context) error {
	if b.loaded && b.state == AdminsExist {
		return nil
	}

	claimed, err := b.gate.AdminBootstrapClaimed(ctx)
	if err != nil {
		return err
	}
	if claimed {
		b.state, b.loaded = AdminsExist, true
		return nil
	}
	if b.loaded {
		return nil
	}

	uid, exists, err := b.claims.AnyAdminExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		if _, err := b.gate.ClaimAdminBootstrap(ctx, uid); err != nil {
			return err
		}
		zerolog.Ctx(ctx).Info().Str("uid", uid).Msg("bootstrap: existing administrator found")
		b.state, b.loaded = AdminsExist, true
		return nil
	}

	b.state, b.loaded = NoAdminsExist, true
	return nil
}

func countPromotion(outcome string) {
	if telemetry.Business != nil {
		telemetry.Business.BootstrapPromotions.WithLabelValues(outcome).Inc()
	}
}
