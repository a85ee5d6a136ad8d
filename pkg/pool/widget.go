package pool

import (
	"log/slog"

	"gitlab.com/tinyland/lab/mise/pkg/components"
	"gitlab.com/tinyland/lab/mise/pkg/events"
)

// attachable is satisfied by widgets that can move between containers,
// such as components.RecipeCard.
type attachable interface {
	AttachTo(*components.Container)
}

// WidgetPoolConfig configures a WidgetPool.
type WidgetPoolConfig struct {
	// Name identifies the pool in logs and events.
	Name string

	// Factory constructs a new widget on an Acquire miss.
	Factory func() components.Widget

	// Parent, when set, is the container freshly acquired widgets are
	// attached to. Optional.
	Parent *components.Container

	// MaxIdle bounds the idle list. Default: DefaultMaxIdle.
	MaxIdle int

	// Bus receives pool lifecycle events. Optional.
	Bus *events.Bus

	// Logger used for usage warnings. Default: slog.Default().
	Logger *slog.Logger
}

// WidgetPool specializes Pool for UI widgets: acquired widgets are attached
// to the pool's parent container, and the Widget interface's own
// Reset/Cleanup methods drive recycling (Cleanup detaches from the parent).
type WidgetPool struct {
	*Pool[components.Widget]
	parent *components.Container
}

// NewWidgetPool creates a WidgetPool.
func NewWidgetPool(cfg WidgetPoolConfig) (*WidgetPool, error) {
	inner, err := New(Config[components.Widget]{
		Name:    cfg.Name,
		Factory: cfg.Factory,
		MaxIdle: cfg.MaxIdle,
		Bus:     cfg.Bus,
		Logger:  cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &WidgetPool{Pool: inner, parent: cfg.Parent}, nil
}

// Acquire returns a clean widget, attached to the pool's parent container
// when one is configured and the widget supports attachment.
func (p *WidgetPool) Acquire() components.Widget {
	w := p.Pool.Acquire()
	if p.parent != nil {
		if a, ok := w.(attachable); ok {
			a.AttachTo(p.parent)
		}
	}
	return w
}

// Release returns a widget to the pool and detaches it from its container,
// so an idle widget is never part of a composed frame.
func (p *WidgetPool) Release(w components.Widget) error {
	if err := p.Pool.Release(w); err != nil {
		return err
	}
	if a, ok := w.(attachable); ok {
		a.AttachTo(nil)
	}
	return nil
}

// ReleaseAll releases every checked-out widget through Release, detaching
// each from its container.
func (p *WidgetPool) ReleaseAll() {
	p.mu.Lock()
	out := make([]components.Widget, 0, len(p.inUse))
	for w := range p.inUse {
		out = append(out, w)
	}
	p.mu.Unlock()

	for _, w := range out {
		_ = p.Release(w)
	}
}

// Parent returns the container acquired widgets are attached to, or nil.
func (p *WidgetPool) Parent() *components.Container {
	return p.parent
}
