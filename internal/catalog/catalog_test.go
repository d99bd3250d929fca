package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mint/backend/internal/restclient"
	"mint/backend/pkg/models"
)

func TestModelClient_SearchModels(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var page []models.Model
		switch r.URL.Query().Get("variable") {
		case "crop__yield":
			page = []models.Model{{ID: "cycles", Name: "Cycles"}, {ID: "pihm", Name: "PIHM"}}
		case "river__discharge":
			page = []models.Model{{ID: "pihm", Name: "PIHM"}}
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := NewModelClient(srv.URL, restclient.WithAPIKey("secret"))
	got, err := c.SearchModels(context.Background(), []string{"crop__yield", "river__discharge"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cycles", got[0].ID)
	assert.Equal(t, "pihm", got[1].ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestModelClient_GetModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/cycles" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"id":"cycles","name":"Cycles","input_files":[{"id":"weather","variables":["precipitation"]}],
			"input_parameters":[{"id":"fertilizer","min":0,"max":200,"default":"50","adjustable":true}]}`))
	}))
	defer srv.Close()

	c := NewModelClient(srv.URL)
	m, err := c.GetModel(context.Background(), "cycles")
	require.NoError(t, err)
	assert.Equal(t, []string{"weather", "fertilizer"}, m.InputIDs())
	p, ok := m.Parameter("fertilizer")
	require.True(t, ok)
	assert.Equal(t, 200.0, *p.Max)

	_, err = c.GetModel(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDataClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/datasets/find":
			assert.Equal(t, []any{"precipitation"}, body["standard_variable_names__in"])
			assert.Equal(t, "south_sudan", body["spatial_coverage__within"])
			assert.Equal(t, "2017-01-01T00:00:00Z", body["start_time__gte"])
			w.Write([]byte(`{"result":"success","datasets":[{"dataset_id":"gldas","dataset_name":"GLDAS",
				"dataset_metadata":{"temporal_coverage":{"start_time":"2000-01-01T00:00:00Z","end_time":"2020-01-01T00:00:00Z"}},
				"standard_variable_names":["precipitation"]}]}`))
		case "/datasets/dataset_resources":
			assert.Equal(t, "gldas", body["dataset_id"])
			w.Write([]byte(`{"result":"success","resources":[{"resource_id":"r1","resource_name":"2017.nc","resource_data_url":"https://files/2017.nc"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dc, err := NewDataCatalog(KindDefault, srv.URL)
	require.NoError(t, err)

	q := models.DatasetQuery{
		Variables: []string{"precipitation"},
		RegionID:  "south_sudan",
		Start:     time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	ds, err := dc.FindDatasets(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "GLDAS", ds[0].Name)
	assert.Equal(t, 2000, ds[0].TimePeriod.Start.Year())

	rs, err := dc.DatasetResources(context.Background(), "gldas", q)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "https://files/2017.nc", rs[0].URL)
}

func TestTemporalCoverage_Period(t *testing.T) {
	jan := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		tc    temporalCoverage
		start time.Time
		end   time.Time
	}{
		{"rfc3339", temporalCoverage{StartTime: "2000-01-01T00:00:00Z", EndTime: "2000-01-01T00:00:00Z"}, jan, jan},
		{"date only", temporalCoverage{StartTime: "2000-01-01"}, jan, time.Time{}},
		{"no zone", temporalCoverage{EndTime: "2000-01-01T00:00:00"}, time.Time{}, jan},
		{"garbage leaves bound open", temporalCoverage{StartTime: "last spring", EndTime: "2000-01-01"}, time.Time{}, jan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.tc.period()
			assert.True(t, tt.start.Equal(p.Start), "start %v", p.Start)
			assert.True(t, tt.end.Equal(p.End), "end %v", p.End)
		})
	}
}

func TestDataClient_CatalogFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"error","message":"bad filter"}`))
	}))
	defer srv.Close()

	_, err := NewDataClient(srv.URL).FindDatasets(context.Background(), models.DatasetQuery{})
	assert.ErrorContains(t, err, "bad filter")
}

func TestCKANClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/3/action/package_search":
			assert.Equal(t, `tags:("precipitation") AND region:"ethiopia"`, r.URL.Query().Get("fq"))
			assert.Equal(t, "100", r.URL.Query().Get("rows"))
			w.Write([]byte(`{"success":true,"result":{"count":1,"results":[{"id":"p1","name":"chirps","title":"CHIRPS",
				"tags":[{"name":"precipitation"}],"resources":[{"id":"r1","url":"https://x"}]}]}}`))
		case "/api/3/action/package_show":
			assert.Equal(t, "p1", r.URL.Query().Get("id"))
			w.Write([]byte(`{"success":true,"result":{"id":"p1","resources":[{"id":"r1","name":"a.tif","url":"https://x/a.tif"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success":false,"error":{"message":"Not found"}}`))
		}
	}))
	defer srv.Close()

	dc, err := NewDataCatalog(KindCKAN, srv.URL)
	require.NoError(t, err)

	ds, err := dc.FindDatasets(context.Background(), models.DatasetQuery{Variables: []string{"precipitation"}, RegionID: "ethiopia"})
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "CHIRPS", ds[0].Name)
	assert.Equal(t, []string{"precipitation"}, ds[0].Variables)
	assert.Nil(t, ds[0].Resources)

	rs, err := dc.DatasetResources(context.Background(), "p1", models.DatasetQuery{})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "a.tif", rs[0].Name)
}

func TestNewDataCatalog_UnknownKind(t *testing.T) {
	_, err := NewDataCatalog("solr", "http://x")
	assert.Error(t, err)
}
