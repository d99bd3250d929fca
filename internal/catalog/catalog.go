package catalog

import (
	"context"
	"fmt"

	"mint/backend/internal/restclient"
	"mint/backend/pkg/models"
)

// Data catalog variants.
const (
	KindDefault = "default"
	KindCKAN    = "ckan"
)

// DataCatalog is implemented by every data catalog variant.
type DataCatalog interface {
	FindDatasets(ctx context.Context, q models.DatasetQuery) ([]models.Dataset, error)
	DatasetResources(ctx context.Context, datasetID string, q models.DatasetQuery) ([]models.DatasetResource, error)
}

// NewDataCatalog returns the client for the configured variant.
func NewDataCatalog(kind, baseURL string, opts ...restclient.Option) (DataCatalog, error) {
	switch kind {
	case KindDefault, "":
		return NewDataClient(baseURL, opts...), nil
	case KindCKAN:
		return NewCKANClient(baseURL, opts...), nil
	default:
		return nil, fmt.Errorf("unknown data catalog kind %q", kind)
	}
}
