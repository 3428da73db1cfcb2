// Package notify delivers event change notices to subscribers outside the
// process. Publishers are combined with Fanout so the API layer only deals
// with a single Publisher.
package notify

import (
	"context"
	"errors"

	"github.com/rubiojr/volunteer/pkg/log"
	"github.com/rubiojr/volunteer/pkg/realtime"
)

var logger = log.ForService("notify")

// Publisher delivers a notice somewhere.
type Publisher interface {
	Publish(ctx context.Context, n realtime.Notice) error
}

// Fanout publishes to every wrapped publisher. A failing publisher does not
// stop delivery to the rest; the errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, n realtime.Notice) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(context.Context, realtime.Notice) error { return nil }
