package surface

import (
	"context"

	"hotkeys2/internal/hotkeys"
)

// Ref exposes a Surface as a hotkeys.Registrar for in-process attach.
// Every call completes synchronously; ctx is only checked for cancellation.
type Ref struct {
	s *Surface
}

var _ hotkeys.Registrar = (*Ref)(nil)

// NewRef wraps s.
func NewRef(s *Surface) *Ref {
	return &Ref{s: s}
}

func (r *Ref) Register(
	ctx context.Context,
	target hotkeys.Target,
	mode hotkeys.Mode,
	modifiers hotkeys.Modifier,
	keyEntry string,
	exclude hotkeys.Exclude,
	excludeSelector string,
	disabled bool,
) (int, error) {
	if err := ctx.Err(); err != nil {
		return hotkeys.NoHandle, err
	}
	return r.s.Register(target, mode, modifiers, keyEntry, exclude, excludeSelector, disabled), nil
}

func (r *Ref) Update(ctx context.Context, handle int, disabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.Update(handle, disabled)
	return nil
}

func (r *Ref) Unregister(ctx context.Context, handle int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.Unregister(handle)
	return nil
}

func (r *Ref) Dispose(context.Context) error {
	r.s.Dispose()
	return nil
}

// AttachFunc returns a hotkeys.AttachFunc that attaches a new Surface to src.
func AttachFunc(src EventSource, d Delivery) hotkeys.AttachFunc {
	return func(ctx context.Context) (hotkeys.Registrar, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewRef(Attach(src, d)), nil
	}
}
