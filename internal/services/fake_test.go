package services

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"mint/backend/internal/execution"
	"mint/backend/pkg/models"
)

// MockModelCatalog is a testify mock of ModelCatalog.
type MockModelCatalog struct {
	mock.Mock
}

func (m *MockModelCatalog) SearchModels(ctx context.Context, variables []string) ([]models.Model, error) {
	args := m.Called(ctx, variables)
	return args.Get(0).([]models.Model), args.Error(1)
}

func (m *MockModelCatalog) GetModel(ctx context.Context, id string) (*models.Model, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Model), args.Error(1)
}

// MockDataCatalog is a testify mock of DataCatalog.
type MockDataCatalog struct {
	mock.Mock
}

func (m *MockDataCatalog) FindDatasets(ctx context.Context, q models.DatasetQuery) ([]models.Dataset, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]models.Dataset), args.Error(1)
}

func (m *MockDataCatalog) DatasetResources(ctx context.Context, datasetID string, q models.DatasetQuery) ([]models.DatasetResource, error) {
	args := m.Called(ctx, datasetID, q)
	return args.Get(0).([]models.DatasetResource), args.Error(1)
}

// fakeRunner accepts submissions with one run id per ensemble. Once accept batches were
// taken, every further batch fails with err. onSubmit runs before each batch.
type fakeRunner struct {
	mu       sync.Mutex
	batches  []execution.SubmitRequest
	accept   int
	err      error
	logs     map[string]string
	onSubmit func()
}

func (f *fakeRunner) Submit(_ context.Context, req execution.SubmitRequest) ([]execution.RunRef, error) {
	if f.onSubmit != nil {
		f.onSubmit()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil && len(f.batches) >= f.accept {
		return nil, f.err
	}
	f.batches = append(f.batches, req)
	refs := make([]execution.RunRef, 0, len(req.Ensembles))
	for _, e := range req.Ensembles {
		refs = append(refs, execution.RunRef{EnsembleID: e.ID, RunID: "run-" + e.ID[:8]})
	}
	return refs, nil
}

func (f *fakeRunner) Logs(_ context.Context, ensembleID string) (string, error) {
	return f.logs[ensembleID], nil
}
