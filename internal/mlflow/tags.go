package mlflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/databricks/databricks-sdk-go/apierr"
	"github.com/databricks/databricks-sdk-go/service/ml"
)

func (c *Client) SetTag(ctx context.Context, runID string, key string, value string) error {
	err := c.client.Experiments.SetTag(ctx, ml.SetTag{
		RunId: runID,
		Key:   key,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to set tag %s: %w", key, err)
	}

	return nil
}

// DeleteTag treats a tag that does not exist as already deleted.
func (c *Client) DeleteTag(ctx context.Context, runID string, key string) error {
	err := c.client.Experiments.DeleteTag(ctx, ml.DeleteTag{
		RunId: runID,
		Key:   key,
	})
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete tag %s: %w", key, err)
	}

	return nil
}

func isNotFound(err error) bool {
	return err != nil && (errors.Is(err, apierr.ErrResourceDoesNotExist) || errors.Is(err, apierr.ErrNotFound))
}
