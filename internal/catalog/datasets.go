package catalog

import (
	"context"
	"fmt"
	"time"

	"mint/backend/internal/restclient"
	"mint/backend/pkg/models"
)

const defaultDatasetLimit = 100

// DataClient talks to the default data catalog variant
// (POST /datasets/find and POST /datasets/dataset_resources).
type DataClient struct {
	rest *restclient.Client
}

// NewDataClient creates a DataClient for the catalog at baseURL.
func NewDataClient(baseURL string, opts ...restclient.Option) *DataClient {
	return &DataClient{rest: restclient.New(baseURL, opts...)}
}

type temporalCoverage struct {
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

// coverageLayouts are the timestamp forms catalogs report coverage in.
var coverageLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", time.DateOnly}

// period converts the coverage bounds. A bound that is missing or not a recognised
// timestamp stays zero, meaning the period is open on that side.
func (tc temporalCoverage) period() models.TimePeriod {
	return models.TimePeriod{Start: parseCoverage(tc.StartTime), End: parseCoverage(tc.EndTime)}
}

func parseCoverage(v string) time.Time {
	for _, layout := range coverageLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

type findRequest struct {
	StandardVariableNames []string `json:"standard_variable_names__in,omitempty"`
	SpatialCoverage       string   `json:"spatial_coverage__within,omitempty"`
	StartTime             string   `json:"start_time__gte,omitempty"`
	EndTime               string   `json:"end_time__lte,omitempty"`
	Limit                 int      `json:"limit"`
}

type findResponse struct {
	Result   string `json:"result"`
	Message  string `json:"message,omitempty"`
	Datasets []struct {
		ID          string `json:"dataset_id"`
		Name        string `json:"dataset_name"`
		Description string `json:"dataset_description"`
		Metadata    struct {
			TemporalCoverage temporalCoverage `json:"temporal_coverage"`
			Region           string           `json:"region"`
		} `json:"dataset_metadata"`
		Variables []string `json:"standard_variable_names"`
	} `json:"datasets"`
}

type resourcesRequest struct {
	DatasetID string `json:"dataset_id"`
	Filter    struct {
		SpatialCoverage string `json:"spatial_coverage__intersects,omitempty"`
		StartTime       string `json:"start_time__gte,omitempty"`
		EndTime         string `json:"end_time__lte,omitempty"`
	} `json:"filter"`
}

type resourcesResponse struct {
	Result    string `json:"result"`
	Message   string `json:"message,omitempty"`
	Resources []struct {
		ID       string `json:"resource_id"`
		Name     string `json:"resource_name"`
		URL      string `json:"resource_data_url"`
		Metadata struct {
			TemporalCoverage temporalCoverage `json:"temporal_coverage"`
		} `json:"resource_metadata"`
	} `json:"resources"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// FindDatasets searches datasets tagged with the query's variables inside its region and period.
func (c *DataClient) FindDatasets(ctx context.Context, q models.DatasetQuery) ([]models.Dataset, error) {
	req := findRequest{
		StandardVariableNames: q.Variables,
		SpatialCoverage:       q.RegionID,
		StartTime:             formatTime(q.Start),
		EndTime:               formatTime(q.End),
		Limit:                 q.Limit,
	}
	if req.Limit <= 0 {
		req.Limit = defaultDatasetLimit
	}

	var resp findResponse
	if err := c.rest.Post(ctx, "/datasets/find", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to find datasets: %w", err)
	}
	if resp.Result != "success" {
		return nil, fmt.Errorf("failed to find datasets: catalog returned %q: %s", resp.Result, resp.Message)
	}

	out := make([]models.Dataset, 0, len(resp.Datasets))
	for _, d := range resp.Datasets {
		out = append(out, models.Dataset{
			ID:          d.ID,
			Name:        d.Name,
			Description: d.Description,
			Variables:   d.Variables,
			Region:      d.Metadata.Region,
			TimePeriod:  d.Metadata.TemporalCoverage.period(),
		})
	}
	return out, nil
}

// DatasetResources lists the files of a dataset overlapping the query's region and period.
func (c *DataClient) DatasetResources(ctx context.Context, datasetID string, q models.DatasetQuery) ([]models.DatasetResource, error) {
	req := resourcesRequest{DatasetID: datasetID}
	req.Filter.SpatialCoverage = q.RegionID
	req.Filter.StartTime = formatTime(q.Start)
	req.Filter.EndTime = formatTime(q.End)

	var resp resourcesResponse
	if err := c.rest.Post(ctx, "/datasets/dataset_resources", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to list resources of %s: %w", datasetID, err)
	}
	if resp.Result != "success" {
		return nil, fmt.Errorf("failed to list resources of %s: catalog returned %q: %s", datasetID, resp.Result, resp.Message)
	}

	out := make([]models.DatasetResource, 0, len(resp.Resources))
	for _, r := range resp.Resources {
		out = append(out, models.DatasetResource{
			ID:         r.ID,
			Name:       r.Name,
			URL:        r.URL,
			TimePeriod: r.Metadata.TemporalCoverage.period(),
		})
	}
	return out, nil
}
