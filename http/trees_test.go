package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aukilabs/spatialtree/featureflag"
	"github.com/aukilabs/spatialtree/models"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	mutex     sync.Mutex
	snapshots map[string]models.TreeSnapshot
}

func (p *memPersister) Save(ctx context.Context, s models.TreeSnapshot) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.snapshots == nil {
		p.snapshots = map[string]models.TreeSnapshot{}
	}
	p.snapshots[s.ID] = s
	return nil
}

func (p *memPersister) LoadAll(ctx context.Context) ([]models.TreeSnapshot, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var snapshots []models.TreeSnapshot
	for _, s := range p.snapshots {
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

func (p *memPersister) Delete(ctx context.Context, id string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	delete(p.snapshots, id)
	return nil
}

type testServer struct {
	*httptest.Server
	trees *models.TreeStore
}

func newTestServer(t *testing.T, h TreeHandler) *testServer {
	if h.Trees == nil {
		h.Trees = &models.TreeStore{}
	}

	mux := http.NewServeMux()
	h.Register(mux)

	s := httptest.NewServer(HandleWithCORS(mux))
	t.Cleanup(s.Close)
	return &testServer{Server: s, trees: h.Trees}
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)

	res, err := s.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	if out != nil && len(data) != 0 {
		require.NoError(t, json.Unmarshal(data, out), string(data))
	}
	return res.StatusCode
}

func (s *testServer) createExampleTree(t *testing.T) string {
	var stats models.Stats
	status := s.do(t, http.MethodPost, "/trees", createTreeRequest{
		Dims:     2,
		Min:      []float64{0, 0},
		Max:      []float64{1, 1},
		Points:   [][]float64{{0.1, 0.1}, {0.9, 0.1}, {0.2, 0.2}, {0.8, 0.8}},
		Capacity: 2,
	}, &stats)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, stats.ID)
	return stats.ID
}

func TestTreeHandlerCreate(t *testing.T) {
	s := newTestServer(t, TreeHandler{MaxPointsPerRequest: 3})

	tests := []struct {
		scenario string
		body     any
		status   int
		errType  string
	}{
		{
			scenario: "quadtree",
			body:     createTreeRequest{Dims: 2, Min: []float64{0, 0}, Max: []float64{10, 10}},
			status:   http.StatusCreated,
		},
		{
			scenario: "octree from points",
			body:     createTreeRequest{Dims: 3, Points: [][]float64{{0, 0, 0}, {1, 1, 1}}},
			status:   http.StatusCreated,
		},
		{
			scenario: "unsupported dimension",
			body:     createTreeRequest{Dims: 4, Min: []float64{0, 0, 0, 0}, Max: []float64{1, 1, 1, 1}},
			status:   http.StatusBadRequest,
			errType:  models.ErrTypeInvalidDimension,
		},
		{
			scenario: "too many points",
			body:     createTreeRequest{Dims: 2, Points: [][]float64{{0, 0}, {1, 1}, {2, 2}, {3, 3}}},
			status:   http.StatusBadRequest,
			errType:  ErrTypeInvalidRequest,
		},
		{
			scenario: "malformed body",
			body:     "{dims: 2",
			status:   http.StatusBadRequest,
			errType:  ErrTypeInvalidRequest,
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			var res errorResponse
			status := s.do(t, http.MethodPost, "/trees", test.body, &res)
			require.Equal(t, test.status, status)
			require.Equal(t, test.errType, res.Error.Type)
		})
	}

	require.Equal(t, 2, s.trees.Len())
}

func TestTreeHandlerGetListDelete(t *testing.T) {
	s := newTestServer(t, TreeHandler{})
	id := s.createExampleTree(t)

	var stats models.Stats
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/trees/"+id, nil, &stats))
	require.Equal(t, 4, stats.Points)
	require.Equal(t, 4, stats.Leaves)
	require.Equal(t, 2, stats.Dims)

	var list listTreesResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/trees", nil, &list))
	require.Len(t, list.Trees, 1)
	require.Equal(t, id, list.Trees[0].ID)

	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/trees/"+id, nil, nil))

	var res errorResponse
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/trees/"+id, nil, &res))
	require.Equal(t, models.ErrTypeTreeNotFound, res.Error.Type)
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/trees/"+id, nil, nil))
}

func TestTreeHandlerInsert(t *testing.T) {
	t.Run("points inside and outside", func(t *testing.T) {
		s := newTestServer(t, TreeHandler{})
		id := s.createExampleTree(t)

		var res models.InsertResult
		status := s.do(t, http.MethodPost, "/trees/"+id+"/points", insertRequest{
			Points: [][]float64{{0.4, 0.6}, {1.5, 0.5}},
		}, &res)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, models.InsertResult{Inserted: 1, AllInside: false}, res)
	})

	t.Run("wrong dimension", func(t *testing.T) {
		s := newTestServer(t, TreeHandler{})
		id := s.createExampleTree(t)

		var res errorResponse
		status := s.do(t, http.MethodPost, "/trees/"+id+"/points", insertRequest{
			Points: [][]float64{{0.4, 0.6, 0.1}},
		}, &res)
		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, models.ErrTypeInvalidPoint, res.Error.Type)
	})

	t.Run("auto cull", func(t *testing.T) {
		s := newTestServer(t, TreeHandler{
			FeatureFlags: featureflag.New([]string{string(featureflag.FlagAutoCullAfterBatch)}),
		})
		id := s.createExampleTree(t)

		status := s.do(t, http.MethodPost, "/trees/"+id+"/points", insertRequest{
			Points: [][]float64{{0.7, 0.9}},
		}, nil)
		require.Equal(t, http.StatusOK, status)

		var stats models.Stats
		s.do(t, http.MethodGet, "/trees/"+id, nil, &stats)
		require.Equal(t, 3, stats.Leaves)
		require.Equal(t, 5, stats.Points)
	})

	t.Run("unknown tree", func(t *testing.T) {
		s := newTestServer(t, TreeHandler{})
		status := s.do(t, http.MethodPost, "/trees/missing/points", insertRequest{}, nil)
		require.Equal(t, http.StatusNotFound, status)
	})
}

func TestTreeHandlerQuery(t *testing.T) {
	s := newTestServer(t, TreeHandler{})
	id := s.createExampleTree(t)
	radius := 0.5
	negativeRadius := -1.0

	tests := []struct {
		scenario string
		body     any
		status   int
		points   [][]float64
	}{
		{
			scenario: "range",
			body:     queryRequest{Min: []float64{0, 0}, Max: []float64{0.5, 0.5}},
			status:   http.StatusOK,
			points:   [][]float64{{0.2, 0.2}, {0.1, 0.1}},
		},
		{
			scenario: "radius",
			body:     queryRequest{Center: []float64{0, 0}, Radius: &radius},
			status:   http.StatusOK,
			points:   [][]float64{{0.1, 0.1}, {0.2, 0.2}},
		},
		{
			scenario: "empty result",
			body:     queryRequest{Min: []float64{0.3, 0.3}, Max: []float64{0.4, 0.4}},
			status:   http.StatusOK,
			points:   [][]float64{},
		},
		{
			scenario: "range and radius",
			body:     queryRequest{Min: []float64{0, 0}, Max: []float64{1, 1}, Center: []float64{0, 0}, Radius: &radius},
			status:   http.StatusBadRequest,
		},
		{
			scenario: "radius without center",
			body:     queryRequest{Radius: &radius},
			status:   http.StatusBadRequest,
		},
		{
			scenario: "negative radius",
			body:     queryRequest{Center: []float64{0.5, 0.5}, Radius: &negativeRadius},
			status:   http.StatusBadRequest,
		},
		{
			scenario: "center without radius",
			body:     queryRequest{Center: []float64{0, 0}},
			status:   http.StatusBadRequest,
		},
		{
			scenario: "empty query",
			body:     queryRequest{},
			status:   http.StatusBadRequest,
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			var res pointsResponse
			status := s.do(t, http.MethodPost, "/trees/"+id+"/query", test.body, &res)
			require.Equal(t, test.status, status)
			if test.status == http.StatusOK {
				require.Equal(t, test.points, res.Points)
			}
		})
	}
}

func TestTreeHandlerStructure(t *testing.T) {
	s := newTestServer(t, TreeHandler{})
	id := s.createExampleTree(t)

	var cull cullResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/trees/"+id+"/cull", nil, &cull))
	require.False(t, cull.Empty)
	require.Equal(t, 3, cull.Stats.Leaves)

	var centers centersResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/trees/"+id+"/centers", nil, &centers))
	require.Len(t, centers.Centers, 3)
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/trees/"+id+"/centers?include_empty=maybe", nil, nil))

	var stats models.Stats
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/trees/"+id+"/subdivide", subdivideRequest{
		Iterations:    2,
		ChildCapacity: 4,
	}, &stats))
	require.Equal(t, 12, stats.Leaves)
	require.Equal(t, 4, stats.Points)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/trees/"+id+"/centers?include_empty=true", nil, &centers))
	require.Len(t, centers.Centers, 12)

	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/trees/"+id+"/subdivide", subdivideRequest{
		Iterations: maxSubdivideIterations + 1,
	}, nil))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/trees/"+id+"/capacity", capacityRequest{Capacity: 1}, &stats))
	require.Equal(t, 1, stats.Capacity)
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/trees/"+id+"/capacity", capacityRequest{Capacity: 0}, nil))

	var info struct {
		Dims       int   `json:"dims"`
		PointCount int   `json:"point_count"`
		Occupancy  []int `json:"occupancy"`
	}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/trees/"+id+"/stats", nil, &info))
	require.Equal(t, 2, info.Dims)
	require.Equal(t, 4, info.PointCount)
	require.Len(t, info.Occupancy, 12)
}

func TestTreeHandlerDump(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		s := newTestServer(t, TreeHandler{})
		id := s.createExampleTree(t)

		var dump struct {
			Capacity int               `json:"capacity"`
			Children []json.RawMessage `json:"children"`
		}
		require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/trees/"+id+"/dump", nil, &dump))
		require.Equal(t, 2, dump.Capacity)
		require.Len(t, dump.Children, 4)
	})

	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, TreeHandler{
			FeatureFlags: featureflag.New([]string{string(featureflag.FlagDisableTreeDump)}),
		})
		id := s.createExampleTree(t)
		require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/trees/"+id+"/dump", nil, nil))
	})
}

func TestTreeHandlerSnapshot(t *testing.T) {
	t.Run("persisted", func(t *testing.T) {
		persister := &memPersister{}
		s := newTestServer(t, TreeHandler{Trees: &models.TreeStore{Persister: persister}})
		id := s.createExampleTree(t)

		var res snapshotResponse
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/trees/"+id+"/snapshot", nil, &res))
		require.Equal(t, id, res.ID)
		require.Positive(t, res.Bytes)
		require.Contains(t, persister.snapshots, id)
	})

	t.Run("no persister", func(t *testing.T) {
		s := newTestServer(t, TreeHandler{})
		id := s.createExampleTree(t)

		var res errorResponse
		require.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodPost, "/trees/"+id+"/snapshot", nil, &res))
		require.Equal(t, models.ErrTypeStorage, res.Error.Type)
	})

	t.Run("persistence disabled", func(t *testing.T) {
		persister := &memPersister{}
		s := newTestServer(t, TreeHandler{
			Trees:        &models.TreeStore{Persister: persister},
			FeatureFlags: featureflag.New([]string{string(featureflag.FlagDisablePersistence)}),
		})
		id := s.createExampleTree(t)

		require.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodPost, "/trees/"+id+"/snapshot", nil, nil))
		require.Empty(t, persister.snapshots)
	})

	t.Run("unknown tree", func(t *testing.T) {
		s := newTestServer(t, TreeHandler{Trees: &models.TreeStore{Persister: &memPersister{}}})
		require.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/trees/missing/snapshot", nil, nil))
	})
}
