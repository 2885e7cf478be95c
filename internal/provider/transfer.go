package provider

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robertodauria/speedcheck/client"
	"github.com/robertodauria/speedcheck/pkg/speed/model"
)

// Transfer measures by timing bulk transfers against a speedcheck server.
type Transfer struct {
	client *client.Client
}

// NewTransfer returns a Transfer provider using c.
func NewTransfer(c *client.Client) *Transfer {
	return &Transfer{client: c}
}

// Name implements Provider.
func (t *Transfer) Name() string { return "transfer" }

// Measure implements Provider.
func (t *Transfer) Measure(ctx context.Context) (*model.Result, error) {
	result, err := t.client.Measure(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrMeasurementFailed, "%v", err)
	}
	if err := checkResult(result); err != nil {
		return nil, errors.Wrap(ErrProcessingFailed, err.Error())
	}
	return result, nil
}
