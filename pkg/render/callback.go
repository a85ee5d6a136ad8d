package render

// Callbacks builds a Target from plain functions, for callers who do not
// want to implement the interface. Nil fields are simply skipped.
type Callbacks struct {
	// OnBatch receives each batch in input order.
	OnBatch func(items []any, batchIndex, totalBatches int)

	// OnStarted fires once before the first batch.
	OnStarted func(totalItems, totalBatches int)

	// OnBatchComplete fires after each successfully delivered batch.
	OnBatchComplete func(batchIndex, totalBatches int)

	// OnComplete fires exactly once after the final batch.
	OnComplete func()
}

// RenderBatch implements Target.
func (c Callbacks) RenderBatch(items []any, batchIndex, totalBatches int) {
	if c.OnBatch != nil {
		c.OnBatch(items, batchIndex, totalBatches)
	}
}

// RenderStarted implements Target.
func (c Callbacks) RenderStarted(totalItems, totalBatches int) {
	if c.OnStarted != nil {
		c.OnStarted(totalItems, totalBatches)
	}
}

// BatchComplete implements Target.
func (c Callbacks) BatchComplete(batchIndex, totalBatches int) {
	if c.OnBatchComplete != nil {
		c.OnBatchComplete(batchIndex, totalBatches)
	}
}

// RenderComplete implements Target.
func (c Callbacks) RenderComplete() {
	if c.OnComplete != nil {
		c.OnComplete()
	}
}

// NewCallback creates a Renderer whose target is assembled from plain
// callbacks. cfg.Target is overwritten with the adapter.
func NewCallback(cfg Config, cb Callbacks) (*Renderer, error) {
	cfg.Target = cb
	return New(cfg)
}
