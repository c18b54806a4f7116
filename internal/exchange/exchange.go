package exchange

import (
	"context"
	"strconv"

	"github.com/lucambottino/ec2-price-collector/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// drainBatches commits every detached batch from an adapter's buffer to
// all configured storages. The live ingestion path favors liveness over
// completeness: a failed commit is logged and the batch dropped, it
// never terminates the adapter. Returns when the batch channel closes
// after the buffer's final flush, so an in-flight flush always
// completes before storage teardown.
func drainBatches(ctx context.Context, exchName string, stores []storage.Storage, batches <-chan []storage.Tick) error {
	for data := range batches {
		for _, str := range stores {
			if err := str.CommitTicks(ctx, data); err != nil {
				if errors.Is(err, ctx.Err()) {
					continue
				}
				log.Error().Err(err).Str("exchange", exchName).Int("batch", len(data)).Msg("batch commit failed, batch dropped")
			}
		}
	}
	return nil
}

// parsePrice parses a venue decimal string.
func parsePrice(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad price %q", s)
	}
	return v, nil
}

// logErrStack logs error with stack trace.
func logErrStack(err error) {
	log.Error().Stack().Err(errors.WithStack(err)).Msg("")
}
