// Package catalog contains thin clients for the external model and data catalogs.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"mint/backend/internal/restclient"
	"mint/backend/pkg/models"
)

// ErrNotFound is returned when the catalog has no entry for an id.
var ErrNotFound = errors.New("catalog entry not found")

// searchConcurrency bounds parallel per-variable catalog queries.
const searchConcurrency = 4

// ModelClient talks to the model catalog.
type ModelClient struct {
	rest *restclient.Client
}

// NewModelClient creates a ModelClient for the catalog at baseURL.
func NewModelClient(baseURL string, opts ...restclient.Option) *ModelClient {
	return &ModelClient{rest: restclient.New(baseURL, opts...)}
}

// SearchModels returns the models producing any of the given standard variables,
// deduplicated and ordered by id.
func (c *ModelClient) SearchModels(ctx context.Context, variables []string) ([]models.Model, error) {
	var (
		mu    sync.Mutex
		found = map[string]models.Model{}
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(searchConcurrency)
	for _, v := range variables {
		g.Go(func() error {
			var page []models.Model
			if err := c.rest.Get(ctx, "/models", url.Values{"variable": {v}}, &page); err != nil {
				return fmt.Errorf("failed to search models for %s: %w", v, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, m := range page {
				found[m.ID] = m
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.Model, 0, len(found))
	for _, m := range found {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetModel fetches one model configuration.
func (c *ModelClient) GetModel(ctx context.Context, id string) (*models.Model, error) {
	var m models.Model
	if err := c.rest.Get(ctx, "/models/"+url.PathEscape(id), nil, &m); err != nil {
		var se *restclient.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: model %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get model %s: %w", id, err)
	}
	return &m, nil
}
