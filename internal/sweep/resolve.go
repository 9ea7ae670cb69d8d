package sweep

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/yairfalse/sweeper/internal/agestore"
	"github.com/yairfalse/sweeper/pkg/resource"
)

// Resolve fills in the ignore flag and creation time of inst.
//
// Ignored instances never touch the age store. Kinds with a native creation
// time use it directly. Everything else reads the first-seen time from the
// store, recording the observation time on first sight. A lost
// SetIfAbsent race re-reads the winner's value so every concurrent sweep
// agrees on the creation time. Store failures are logged and leave the age
// unresolved.
func (e *Engine) Resolve(ctx context.Context, sess resource.Session, inst *resource.Instance) {
	d := inst.Kind
	logger := e.unitLogger(sess).With().Str("kind", d.Kind).Str("name", inst.Name).Str("id", inst.ID).Logger()

	if d.Ignore != nil && d.Ignore(ctx, sess, inst.Raw) {
		inst.Ignore = true
		return
	}

	switch {
	case d.HasNativeTime():
		if t, ok := d.CreatedAt(inst.Raw); ok {
			inst.SetCreatedAt(t)
		}
	case d.UsesAgeStore:
		e.resolveFromStore(ctx, logger, inst)
	}

	if e.protector == nil {
		return
	}
	protected, reason, err := e.protector.Protected(ctx, sess, inst)
	switch {
	case err != nil:
		inst.Ignore = true
		logger.Error().Err(err).Msg("protection policy failed, treating resource as protected")
	case protected:
		inst.Ignore = true
		logger.Debug().Str("reason", reason).Msg("resource protected by policy")
	}
}

func (e *Engine) resolveFromStore(ctx context.Context, logger zerolog.Logger, inst *resource.Instance) {
	identity := inst.StoreIdentity()
	if identity == "" {
		logger.Warn().Msg("resource has neither id nor name, age cannot be tracked")
		return
	}
	key := agestore.Key(inst.Kind.Kind, identity)

	value, found, err := e.store.Get(ctx, key)
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("exception accessing age store")
		return
	}

	if !found {
		value = agestore.FormatTime(inst.Now)
		err = e.store.SetIfAbsent(ctx, key, value)
		if errors.Is(err, agestore.ErrExists) {
			value, found, err = e.store.Get(ctx, key)
			if err == nil && !found {
				err = errors.New("row vanished after conditional write conflict")
			}
		}
		if err != nil {
			logger.Error().Err(err).Str("key", key).Msg("exception accessing age store")
			return
		}
	}

	created, err := agestore.ParseTime(value)
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("exception accessing age store")
		return
	}

	inst.StoreKey = key
	inst.StoreValue = value
	inst.SetCreatedAt(created)
}
