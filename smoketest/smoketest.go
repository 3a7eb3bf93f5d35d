// Package smoketest runs self-checks of the tree implementation that an
// operator can trigger on a live server.
package smoketest

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/spatialtree/models"
	"github.com/segmentio/encoding/json"
	"golang.org/x/exp/slices"
)

const ErrTypeScenarioFailed = "scenario_failed"

type Options struct {
	// The maximum time given to all the scenarios. Defaults to 10 seconds.
	Timeout time.Duration

	// Called with the results once the scenarios are done.
	SendResult func(context.Context, Results) error
}

// Results are the outcome of a smoke test.
type Results struct {
	Passed           bool             `json:"passed"`
	DurationMilliSec float64          `json:"duration_ms"`
	Scenarios        []ScenarioResult `json:"scenarios"`
}

type ScenarioResult struct {
	Name             string  `json:"name"`
	Passed           bool    `json:"passed"`
	Error            string  `json:"error,omitempty"`
	DurationMilliSec float64 `json:"duration_ms"`
}

type scenario struct {
	name string
	run  func(ctx context.Context) error
}

var scenarios = []scenario{
	{name: "quadtree_example", run: runQuadtreeExample},
	{name: "boundary_exclusive", run: runBoundaryExclusive},
	{name: "subdivide_and_cull", run: runSubdivideAndCull},
	{name: "octree_radius_scan", run: runOctreeRadiusScan},
	{name: "snapshot_round_trip", run: runSnapshotRoundTrip},
}

// Run runs every scenario and returns their results. A scenario that does
// not start before the context is done is reported as failed.
func Run(ctx context.Context) Results {
	start := time.Now()
	res := Results{Passed: true}

	for _, s := range scenarios {
		scenarioStart := time.Now()

		err := ctx.Err()
		if err == nil {
			err = s.run(ctx)
		}

		r := ScenarioResult{
			Name:             s.name,
			Passed:           err == nil,
			DurationMilliSec: milliseconds(time.Since(scenarioStart)),
		}
		if err != nil {
			r.Error = err.Error()
			res.Passed = false
		}
		res.Scenarios = append(res.Scenarios, r)
	}

	res.DurationMilliSec = milliseconds(time.Since(start))
	return res
}

// HandleSmokeTest runs the scenarios and writes their results. The response
// status is 200 when every scenario passed and 500 otherwise.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second * 10
	}

	return func(w http.ResponseWriter, r *http.Request) {
		runCtx, cancel := context.WithTimeout(r.Context(), opts.Timeout)
		defer cancel()

		res := Run(runCtx)
		if !res.Passed {
			logs.WithTag("results", res).Warn(errors.New("smoke test failed").
				WithType(ErrTypeScenarioFailed))
		}

		if opts.SendResult != nil {
			if err := opts.SendResult(ctx, res); err != nil {
				logs.Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}

		b, err := json.Marshal(res)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if !res.Passed {
			status = http.StatusInternalServerError
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(b)
	}
}

func runQuadtreeExample(ctx context.Context) error {
	tree, err := models.NewTree("smoke-test", models.TreeOptions{
		Dims:     2,
		Min:      []float64{0, 0},
		Max:      []float64{1, 1},
		Capacity: 2,
	})
	if err != nil {
		return err
	}

	res, err := tree.Insert([][]float64{{0.1, 0.1}, {0.9, 0.1}, {0.2, 0.2}, {0.8, 0.8}})
	if err != nil {
		return err
	}
	if res.Inserted != 4 || !res.AllInside {
		return failed("unexpected insert result").WithTag("result", res)
	}

	if leaves := tree.Stats().Leaves; leaves != 4 {
		return failed("unexpected leaf count").WithTag("leaves", leaves)
	}

	points, err := tree.QueryRange([]float64{0, 0}, []float64{0.5, 0.5})
	if err != nil {
		return err
	}
	if !equalPoints(points, [][]float64{{0.2, 0.2}, {0.1, 0.1}}) {
		return failed("unexpected range query result").WithTag("points", points)
	}
	return nil
}

func runBoundaryExclusive(ctx context.Context) error {
	tree, err := models.NewTree("smoke-test", models.TreeOptions{
		Dims: 2,
		Min:  []float64{0, 0},
		Max:  []float64{1, 1},
	})
	if err != nil {
		return err
	}

	res, err := tree.Insert([][]float64{{1, 0.5}, {0.5, 1}, {0, 0}})
	if err != nil {
		return err
	}
	if res.Inserted != 1 || res.AllInside {
		return failed("points on the upper faces were accepted").WithTag("result", res)
	}
	return nil
}

func runSubdivideAndCull(ctx context.Context) error {
	tree, err := models.NewTree("smoke-test", models.TreeOptions{
		Dims:     2,
		Min:      []float64{0, 0},
		Max:      []float64{1, 1},
		Capacity: 4,
	})
	if err != nil {
		return err
	}

	tree.Subdivide(2, 4)
	if leaves := tree.Stats().Leaves; leaves != 16 {
		return failed("unexpected leaf count after subdivision").WithTag("leaves", leaves)
	}

	if !tree.Cull() {
		return failed("empty tree not reported as empty")
	}
	if leaves := tree.Stats().Leaves; leaves != 1 {
		return failed("unexpected leaf count after cull").WithTag("leaves", leaves)
	}
	return nil
}

func runOctreeRadiusScan(ctx context.Context) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	points := make([][]float64, 2000)
	for i := range points {
		points[i] = []float64{r.Float64() * 100, r.Float64() * 100, r.Float64() * 100}
	}

	tree, err := models.NewTree("smoke-test", models.TreeOptions{
		Dims:     3,
		Points:   points,
		Capacity: 8,
	})
	if err != nil {
		return err
	}

	for i := 0; i < 20; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		center := []float64{r.Float64() * 100, r.Float64() * 100, r.Float64() * 100}
		radius := r.Float64() * 30

		var expected int
		for _, p := range points {
			dx, dy, dz := p[0]-center[0], p[1]-center[1], p[2]-center[2]
			if dx*dx+dy*dy+dz*dz < radius*radius {
				expected++
			}
		}

		found, err := tree.QueryRadius(center, radius)
		if err != nil {
			return err
		}
		if len(found) != expected {
			return failed("radius query does not match a linear scan").
				WithTag("center", center).
				WithTag("radius", radius).
				WithTag("expected", expected).
				WithTag("found", len(found))
		}
	}
	return nil
}

func runSnapshotRoundTrip(ctx context.Context) error {
	tree, err := models.NewTree("smoke-test", models.TreeOptions{
		Dims:     2,
		Min:      []float64{-10, -10},
		Max:      []float64{10, 10},
		Capacity: 3,
		Factors:  []float64{0.25, 0.75},
	})
	if err != nil {
		return err
	}

	var points [][]float64
	for x := -9.5; x < 10; x += 1.5 {
		for y := -9.5; y < 10; y += 2.5 {
			points = append(points, []float64{x, y})
		}
	}
	if _, err := tree.Insert(points); err != nil {
		return err
	}
	tree.Cull()

	snapshot, err := tree.Snapshot()
	if err != nil {
		return err
	}

	restored, err := models.LoadTree("smoke-test", 2, snapshot)
	if err != nil {
		return err
	}

	expected, actual := tree.DebugInfo(), restored.DebugInfo()
	if expected.PointCount != actual.PointCount ||
		expected.LeafCount != actual.LeafCount ||
		!slices.Equal(expected.Occupancy, actual.Occupancy) {
		return failed("restored tree differs").
			WithTag("expected", expected).
			WithTag("actual", actual)
	}
	return nil
}

func failed(msg string) errors.Error {
	return errors.New(msg).WithType(ErrTypeScenarioFailed)
}

func equalPoints(a, b [][]float64) bool {
	return slices.EqualFunc(a, b, func(x, y []float64) bool {
		return slices.Equal(x, y)
	})
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
