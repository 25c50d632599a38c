package analysis

import (
	"context"
	"errors"
)

// Fanout delivers every batch and the finalize call to each wrapped
// consumer independently. One consumer failing does not stop delivery to
// the others; the errors are joined for the caller to log.
type Fanout struct {
	consumers []Consumer
}

// NewFanout wraps the given consumers. Nil entries are skipped.
func NewFanout(consumers ...Consumer) *Fanout {
	f := &Fanout{}
	for _, c := range consumers {
		if c != nil {
			f.consumers = append(f.consumers, c)
		}
	}
	return f
}

func (f *Fanout) ProcessBatch(ctx context.Context, messages []Message) error {
	var errs []error
	for _, c := range f.consumers {
		if err := c.ProcessBatch(ctx, messages); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Finalize(ctx context.Context) error {
	var errs []error
	for _, c := range f.consumers {
		if err := c.Finalize(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
