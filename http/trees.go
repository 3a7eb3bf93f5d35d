package http

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/spatialtree/featureflag"
	"github.com/aukilabs/spatialtree/models"
	"github.com/aukilabs/spatialtree/partition"
	"github.com/segmentio/encoding/json"
)

const (
	ErrTypeInvalidRequest = "invalid_request"

	// The maximum size of a request body.
	maxBodySize = 32 << 20

	// Subdividing an octree 6 times already creates 262144 leaves.
	maxSubdivideIterations = 6
)

// TreeHandler serves the tree REST API.
type TreeHandler struct {
	// The trees served by the handler.
	Trees *models.TreeStore

	// The feature flags that alter the behavior of the handler.
	FeatureFlags featureflag.FeatureFlag

	// The maximum number of points accepted by a single request. No limit
	// when 0.
	MaxPointsPerRequest int
}

// Register adds the tree routes to mux.
func (h *TreeHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /trees", h.handleCreate)
	mux.HandleFunc("GET /trees", h.handleList)
	mux.HandleFunc("GET /trees/{id}", h.handleGet)
	mux.HandleFunc("DELETE /trees/{id}", h.handleDelete)
	mux.HandleFunc("POST /trees/{id}/points", h.handleInsert)
	mux.HandleFunc("POST /trees/{id}/query", h.handleQuery)
	mux.HandleFunc("POST /trees/{id}/cull", h.handleCull)
	mux.HandleFunc("POST /trees/{id}/subdivide", h.handleSubdivide)
	mux.HandleFunc("POST /trees/{id}/capacity", h.handleSetCapacity)
	mux.HandleFunc("GET /trees/{id}/centers", h.handleCenters)
	mux.HandleFunc("GET /trees/{id}/stats", h.handleDebugInfo)
	mux.HandleFunc("GET /trees/{id}/dump", h.handleDump)
	mux.HandleFunc("POST /trees/{id}/snapshot", h.handleSnapshot)
}

type createTreeRequest struct {
	Dims     int         `json:"dims"`
	Min      []float64   `json:"min,omitempty"`
	Max      []float64   `json:"max,omitempty"`
	Points   [][]float64 `json:"points,omitempty"`
	Capacity int         `json:"capacity,omitempty"`
	Factors  []float64   `json:"factors,omitempty"`
}

type listTreesResponse struct {
	Trees []models.Stats `json:"trees"`
}

type insertRequest struct {
	Points [][]float64 `json:"points"`
}

type queryRequest struct {
	Min    []float64 `json:"min,omitempty"`
	Max    []float64 `json:"max,omitempty"`
	Center []float64 `json:"center,omitempty"`
	Radius *float64  `json:"radius,omitempty"`
}

type pointsResponse struct {
	Points [][]float64 `json:"points"`
}

type cullResponse struct {
	Empty bool         `json:"empty"`
	Stats models.Stats `json:"stats"`
}

type subdivideRequest struct {
	Iterations    int `json:"iterations"`
	ChildCapacity int `json:"child_capacity"`
}

type capacityRequest struct {
	Capacity int `json:"capacity"`
}

type centersResponse struct {
	Centers [][]float64 `json:"centers"`
}

type snapshotResponse struct {
	ID        string    `json:"id"`
	Bytes     int       `json:"bytes"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *TreeHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createTreeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.checkPointCount(len(req.Points)); err != nil {
		writeError(w, r, err)
		return
	}

	tree, err := h.Trees.Create(models.TreeOptions{
		Dims:     req.Dims,
		Min:      req.Min,
		Max:      req.Max,
		Points:   req.Points,
		Capacity: req.Capacity,
		Factors:  req.Factors,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, tree.Stats())
}

func (h *TreeHandler) handleList(w http.ResponseWriter, r *http.Request) {
	trees := h.Trees.List()

	res := listTreesResponse{Trees: make([]models.Stats, len(trees))}
	for i, t := range trees {
		res.Trees[i] = t.Stats()
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *TreeHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Trees.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree.Stats())
}

func (h *TreeHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Trees.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TreeHandler) handleInsert(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Trees.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req insertRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.checkPointCount(len(req.Points)); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := tree.Insert(req.Points)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.FeatureFlags.IfSet(featureflag.FlagAutoCullAfterBatch, func() {
		tree.Cull()
	})
	writeJSON(w, http.StatusOK, res)
}

func (h *TreeHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Trees.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	isRange := len(req.Min) != 0 || len(req.Max) != 0
	isRadius := len(req.Center) != 0 || req.Radius != nil

	var points [][]float64
	switch {
	case isRange && !isRadius:
		points, err = tree.QueryRange(req.Min, req.Max)

	case isRadius && !isRange:
		if req.Radius == nil {
			err = errors.New("radius is required").
				WithType(ErrTypeInvalidRequest)
			break
		}
		if *req.Radius < 0 {
			err = errors.New("radius can't be negative").
				WithType(ErrTypeInvalidRequest).
				WithTag("radius", *req.Radius)
			break
		}
		points, err = tree.QueryRadius(req.Center, *req.Radius)

	default:
		err = errors.New("query needs either min and max, or center and radius").
			WithType(ErrTypeInvalidRequest)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pointsResponse{Points: points})
}

func (h *TreeHandler) handleCull(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Trees.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	empty := tree.Cull()
	writeJSON(w, http.StatusOK, cullResponse{
		Empty: empty,
		Stats: tree.Stats(),
	})
}

func (h *TreeHandler) handleSubdivide(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Trees.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req subdivideRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Iterations < 0 || req.Iterations > maxSubdivideIterations {
		writeError(w, r, errors.New("invalid number of iterations").
			WithType(ErrTypeInvalidRequest).
			WithTag("iterations", req.Iterations).
			WithTag("max_iterations", maxSubdivideIterations))
		return
	}

	childCapacity := req.ChildCapacity
	if childCapacity == 0 {
		childCapacity = tree.Stats().Capacity
	}

	tree.Subdivide(req.Iterations, childCapacity)
	writeJSON(w, http.StatusOK, tree.Stats())
}

func (h *TreeHandler) handleSetCapacity(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Trees.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req capacityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if !tree.SetCapacity(req.Capacity) {
		writeError(w, r, errors.New("capacity must be at least 1").
			WithType(ErrTypeInvalidRequest).
			WithTag("capacity", req.Capacity))
		return
	}
	writeJSON(w, http.StatusOK, tree.Stats())
}

func (h *TreeHandler) handleCenters(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Trees.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var includeEmpty bool
	if v := r.URL.Query().Get("include_empty"); v != "" {
		if includeEmpty, err = strconv.ParseBool(v); err != nil {
			writeError(w, r, errors.New("invalid include_empty parameter").
				WithType(ErrTypeInvalidRequest).
				Wrap(err))
			return
		}
	}

	writeJSON(w, http.StatusOK, centersResponse{Centers: tree.Centers(includeEmpty)})
}

func (h *TreeHandler) handleDebugInfo(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Trees.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree.DebugInfo())
}

func (h *TreeHandler) handleDump(w http.ResponseWriter, r *http.Request) {
	if h.FeatureFlags.IsSet(featureflag.FlagDisableTreeDump) {
		http.NotFound(w, r)
		return
	}

	tree, err := h.Trees.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	b, err := tree.Dump()
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func (h *TreeHandler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.FeatureFlags.IsSet(featureflag.FlagDisablePersistence) || h.Trees.Persister == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: errorBody{
			Type:    models.ErrTypeStorage,
			Message: "persistence is disabled",
		}})
		return
	}

	snapshot, err := h.Trees.Save(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshotResponse{
		ID:        snapshot.ID,
		Bytes:     len(snapshot.Data),
		UpdatedAt: snapshot.UpdatedAt,
	})
}

func (h *TreeHandler) checkPointCount(n int) error {
	if h.MaxPointsPerRequest > 0 && n > h.MaxPointsPerRequest {
		return errors.New("too many points").
			WithType(ErrTypeInvalidRequest).
			WithTag("points", n).
			WithTag("max_points", h.MaxPointsPerRequest)
	}
	return nil
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func decodeBody(r *http.Request, v any) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return errors.New("reading request body failed").
			WithType(ErrTypeInvalidRequest).
			Wrap(err)
	}

	if len(b) == 0 {
		return nil
	}

	if err := json.Unmarshal(b, v); err != nil {
		return errors.New("decoding request body failed").
			WithType(ErrTypeInvalidRequest).
			Wrap(err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logs.Error(errors.New("encoding response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusCode(err)
	if status >= http.StatusInternalServerError {
		logs.WithTag("method", r.Method).
			WithTag("path", r.URL.Path).
			Error(err)
	} else {
		logs.WithTag("method", r.Method).
			WithTag("path", r.URL.Path).
			Debug(err)
	}

	writeJSON(w, status, errorResponse{Error: errorBody{
		Type:    errors.Type(err),
		Message: err.Error(),
	}})
}

func statusCode(err error) int {
	switch errors.Type(err) {
	case models.ErrTypeTreeNotFound:
		return http.StatusNotFound

	case ErrTypeInvalidRequest,
		models.ErrTypeInvalidDimension,
		models.ErrTypeInvalidPoint,
		models.ErrTypeInvalidBounds,
		partition.ErrTypeInvalidSnapshot:
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}
