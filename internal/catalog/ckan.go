package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"mint/backend/internal/restclient"
	"mint/backend/pkg/models"
)

// CKANClient adapts a CKAN action API to the data catalog operations.
type CKANClient struct {
	rest *restclient.Client
}

// NewCKANClient creates a CKANClient for the CKAN site at baseURL.
func NewCKANClient(baseURL string, opts ...restclient.Option) *CKANClient {
	return &CKANClient{rest: restclient.New(baseURL, opts...)}
}

type ckanPackage struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
	Notes string `json:"notes"`
	Tags  []struct {
		Name string `json:"name"`
	} `json:"tags"`
	Resources []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"resources"`
	Extras []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"extras"`
}

func (p ckanPackage) dataset() models.Dataset {
	d := models.Dataset{
		ID:          p.ID,
		Name:        p.Title,
		Description: p.Notes,
	}
	if d.Name == "" {
		d.Name = p.Name
	}
	for _, t := range p.Tags {
		d.Variables = append(d.Variables, t.Name)
	}
	for _, e := range p.Extras {
		if e.Key == "region" {
			d.Region = e.Value
		}
	}
	for _, r := range p.Resources {
		d.Resources = append(d.Resources, models.DatasetResource{ID: r.ID, Name: r.Name, URL: r.URL})
	}
	return d
}

type ckanEnvelope[T any] struct {
	Success bool `json:"success"`
	Result  T    `json:"result"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e ckanEnvelope[T]) err(action string) error {
	if e.Success {
		return nil
	}
	msg := "unknown error"
	if e.Error != nil {
		msg = e.Error.Message
	}
	return fmt.Errorf("ckan %s failed: %s", action, msg)
}

// searchFilter builds the Solr filter query for a dataset search.
func searchFilter(q models.DatasetQuery) string {
	var parts []string
	if len(q.Variables) > 0 {
		tags := make([]string, len(q.Variables))
		for i, v := range q.Variables {
			tags[i] = strconv.Quote(v)
		}
		parts = append(parts, "tags:("+strings.Join(tags, " OR ")+")")
	}
	if q.RegionID != "" {
		parts = append(parts, "region:"+strconv.Quote(q.RegionID))
	}
	return strings.Join(parts, " AND ")
}

// FindDatasets runs package_search filtered by variable tags and region.
func (c *CKANClient) FindDatasets(ctx context.Context, q models.DatasetQuery) ([]models.Dataset, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultDatasetLimit
	}
	query := url.Values{"rows": {strconv.Itoa(limit)}}
	if fq := searchFilter(q); fq != "" {
		query.Set("fq", fq)
	}

	var resp ckanEnvelope[struct {
		Count   int           `json:"count"`
		Results []ckanPackage `json:"results"`
	}]
	if err := c.rest.Get(ctx, "/api/3/action/package_search", query, &resp); err != nil {
		return nil, fmt.Errorf("failed to find datasets: %w", err)
	}
	if err := resp.err("package_search"); err != nil {
		return nil, err
	}

	out := make([]models.Dataset, 0, len(resp.Result.Results))
	for _, p := range resp.Result.Results {
		d := p.dataset()
		// resources are fetched on demand
		d.Resources = nil
		out = append(out, d)
	}
	return out, nil
}

// DatasetResources runs package_show and returns the package's resources.
// CKAN resources carry no coverage metadata, so the query filter is not applied.
func (c *CKANClient) DatasetResources(ctx context.Context, datasetID string, _ models.DatasetQuery) ([]models.DatasetResource, error) {
	var resp ckanEnvelope[ckanPackage]
	if err := c.rest.Get(ctx, "/api/3/action/package_show", url.Values{"id": {datasetID}}, &resp); err != nil {
		return nil, fmt.Errorf("failed to list resources of %s: %w", datasetID, err)
	}
	if err := resp.err("package_show"); err != nil {
		return nil, err
	}
	return resp.Result.dataset().Resources, nil
}
