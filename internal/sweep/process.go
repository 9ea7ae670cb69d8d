package sweep

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/yairfalse/sweeper/internal/journal"
	"github.com/yairfalse/sweeper/pkg/resource"
)

// Process decides the instance's disposition and, outside check mode,
// terminates it. A terminate disposition is reported as terminated whether
// or not the provider call succeeded; failures are logged and counted on kr.
// kr may be nil.
func (e *Engine) Process(ctx context.Context, sess resource.Session, inst *resource.Instance, kr *KindResult) resource.Status {
	disposition := resource.Decide(inst, e.opts.Force)
	if disposition != resource.DispositionTerminate {
		return resource.StatusOf(disposition)
	}
	if e.opts.Check {
		return resource.StatusChecked
	}

	logger := e.unitLogger(sess).With().Str("kind", inst.Kind.Kind).Str("name", inst.Name).Str("id", inst.ID).Logger()

	err := e.callTerminate(ctx, sess, inst)
	switch resource.KindOf(err) {
	case resource.ErrorRateLimited:
		logger.Warn().Err(err).Str("code", resource.CodeOf(err)).
			Msg(fmt.Sprintf("error %q terminating %s", resource.CodeOf(err), inst))
	case resource.ErrorNotFound:
		logger.Warn().Err(err).Str("code", resource.CodeOf(err)).Msg("resource already gone")
		err = nil
	default:
		if err != nil {
			logger.Error().Caller().Err(err).
				Str("code", resource.CodeOf(err)).
				Str("stack", string(debug.Stack())).
				Msg(fmt.Sprintf("error %q terminating %s", resource.CodeOf(err), inst))
		}
	}

	if err != nil {
		if kr != nil {
			kr.Failures++
		}
		e.record(logger, sess, inst, journal.EntryFailed, err)
		return resource.StatusTerminated
	}

	e.cleanup(ctx, inst, logger)
	if kr != nil {
		kr.Terminated = append(kr.Terminated, inst.StoreIdentity())
	}
	e.record(logger, sess, inst, journal.EntryTerminated, nil)
	return resource.StatusTerminated
}

// callTerminate converts a terminate panic into an error so one instance
// cannot abort its kind.
func (e *Engine) callTerminate(ctx context.Context, sess resource.Session, inst *resource.Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic terminating %s: %v\n%s", inst.Kind.Kind, r, debug.Stack())
		}
	}()
	return inst.Kind.Terminate(ctx, sess, inst.Raw)
}

// cleanup deletes the age store row of a terminated instance.
func (e *Engine) cleanup(ctx context.Context, inst *resource.Instance, logger zerolog.Logger) {
	if !inst.Kind.UsesAgeStore {
		return
	}
	if inst.StoreKey == "" || inst.StoreValue == "" {
		logger.Warn().Msg("skipping cleanup due to missing age store data")
		return
	}
	if err := e.store.Delete(ctx, inst.StoreKey); err != nil {
		logger.Error().Err(err).Str("key", inst.StoreKey).Msg("exception deleting age store row")
	}
}

func (e *Engine) record(logger zerolog.Logger, sess resource.Session, inst *resource.Instance, typ journal.EntryType, err error) {
	if e.journal == nil {
		return
	}

	entry := journal.Entry{
		Type:    typ,
		RunID:   e.opts.RunID,
		Account: sess.Account(),
		Region:  sess.Region(),
		Kind:    inst.Kind.Kind,
		ID:      inst.ID,
		Name:    inst.Name,
	}
	if age, ok := inst.Age(); ok {
		entry.Age = age.String()
	}
	if err != nil {
		entry.Code = resource.CodeOf(err)
		entry.Error = err.Error()
	}
	if jerr := e.journal.Append(entry); jerr != nil {
		logger.Warn().Err(jerr).Msg("journal append failed")
	}
}
