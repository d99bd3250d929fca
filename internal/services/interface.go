// Package services implements the workbench operations on top of storage, the catalogs and
// the ensemble manager.
package services

import (
	"context"
	"errors"

	"mint/backend/internal/auth"
	"mint/backend/internal/execution"
	"mint/backend/pkg/models"
)

var (
	// ErrInvalid is returned when a request fails validation.
	ErrInvalid = errors.New("invalid request")
	// ErrForbidden is returned when a user mutates a record owned by someone else.
	ErrForbidden = errors.New("forbidden")
	// ErrNotReady is returned when a model has no ensembles to run.
	ErrNotReady = errors.New("not ready to run")
	// ErrTooManyEnsembles is returned when bindings would expand past the configured limit.
	ErrTooManyEnsembles = errors.New("too many ensembles")
)

// ModelCatalog looks up model configurations.
type ModelCatalog interface {
	SearchModels(ctx context.Context, variables []string) ([]models.Model, error)
	GetModel(ctx context.Context, id string) (*models.Model, error)
}

// DataCatalog looks up datasets.
type DataCatalog interface {
	FindDatasets(ctx context.Context, q models.DatasetQuery) ([]models.Dataset, error)
	DatasetResources(ctx context.Context, datasetID string, q models.DatasetQuery) ([]models.DatasetResource, error)
}

// Runner submits ensembles to the ensemble manager.
type Runner interface {
	Submit(ctx context.Context, req execution.SubmitRequest) ([]execution.RunRef, error)
	Logs(ctx context.Context, ensembleID string) (string, error)
}

// checkOwner returns ErrForbidden when the caller is not the owner of a record.
// Records without an owner and calls without a user are not checked.
func checkOwner(ctx context.Context, owner string) error {
	user := auth.UserFromContext(ctx)
	if owner == "" || user == "" || user == owner {
		return nil
	}
	return ErrForbidden
}
