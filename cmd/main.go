package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/spatialtree/featureflag"
	treehttp "github.com/aukilabs/spatialtree/http"
	"github.com/aukilabs/spatialtree/models"
	"github.com/aukilabs/spatialtree/smoketest"
	"github.com/aukilabs/spatialtree/storage"
	twebsocket "github.com/aukilabs/spatialtree/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The server version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "spatialtree_info",
		Help:        "Spatial tree server information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr                string        `cli:""        env:"SPATIALTREE_ADDR"                   help:"Listening address for client connections."`
	AdminAddr           string        `cli:""        env:"SPATIALTREE_ADMIN_ADDR"             help:"Admin listening address."`
	LogLevel            string        `cli:""        env:"SPATIALTREE_LOG_LEVEL"              help:"Log level (debug|info|warning|error)."`
	LogIndent           bool          `cli:""        env:"SPATIALTREE_LOG_INDENT"             help:"Indent logs."`
	DBPath              string        `cli:""        env:"SPATIALTREE_DB_PATH"                help:"The SQLite database where tree snapshots are persisted. Persistence is disabled when empty."`
	SaveInterval        time.Duration `cli:",hidden" env:"SPATIALTREE_SAVE_INTERVAL"          help:"The duration between each snapshot of all the trees. No periodic snapshot when 0."`
	DefaultCapacity     int           `cli:""        env:"SPATIALTREE_DEFAULT_CAPACITY"       help:"The leaf capacity of trees created without one."`
	MaxPointsPerRequest int           `cli:""        env:"SPATIALTREE_MAX_POINTS_PER_REQUEST" help:"The maximum number of points accepted by a request or a stream frame."`
	ClientIdleTimeout   time.Duration `cli:",hidden" env:"SPATIALTREE_CLIENT_IDLE_TIMEOUT"    help:"Time until an idle stream client will be disconnected."`
	LogSummaryInterval  time.Duration `cli:",hidden" env:"SPATIALTREE_LOG_SUMMARY_INTERVAL"   help:"The duration between each log summary by stream connection."`
	Events              eventsConfig  `cli:",hidden" env:"-"                                  help:"Event pusher configuration."`
	FeatureFlags        []string      `cli:",hidden" env:"SPATIALTREE_FEATURE_FLAGS"          help:"Comma separated feature flags"`
	Version             bool          `cli:""        env:"-"                                  help:"Show version."`
	Help                bool          `cli:""        env:"-"                                  help:"Show help."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"SPATIALTREE_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed. Events are disabled when empty."`
	FlushInterval time.Duration `cli:",hidden" env:"SPATIALTREE_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"SPATIALTREE_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"SPATIALTREE_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:                ":4000",
		AdminAddr:           ":18190",
		LogLevel:            logs.InfoLevel.String(),
		SaveInterval:        time.Minute,
		DefaultCapacity:     models.DefaultCapacity,
		MaxPointsPerRequest: 100000,
		ClientIdleTimeout:   twebsocket.DefaultIdleTimeout,
		LogSummaryInterval:  time.Minute,
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts the spatial tree server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     metrics.HTTPTransport(http.DefaultTransport),
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "spatialtree",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	featureFlags := featureflag.New(conf.FeatureFlags)

	trees := models.TreeStore{
		DefaultCapacity: conf.DefaultCapacity,
	}

	persistence := conf.DBPath != "" && !featureFlags.IsSet(featureflag.FlagDisablePersistence)
	if persistence {
		db, err := storage.Open(conf.DBPath)
		if err != nil {
			logs.Fatal(err)
		}
		defer db.Close()

		store, err := storage.NewSQLiteStore(ctx, db)
		if err != nil {
			logs.Fatal(err)
		}
		trees.Persister = store
	}

	var ready atomic.Bool
	readinessCheck := func() bool {
		return ready.Load()
	}

	var service http.ServeMux

	treeHandler := treehttp.TreeHandler{
		Trees:               &trees,
		FeatureFlags:        featureFlags,
		MaxPointsPerRequest: conf.MaxPointsPerRequest,
	}
	treeHandler.Register(&service)

	service.HandleFunc("/health", treehttp.HandleHealthCheck)
	service.HandleFunc("/ready", treehttp.HandleReadyCheck(readinessCheck))
	service.HandleFunc("/version", treehttp.HandleVersion(version))
	service.HandleFunc("POST /smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		SendResult: func(ctx context.Context, res smoketest.Results) error {
			logs.WithTag("passed", res.Passed).
				WithTag("duration_ms", res.DurationMilliSec).
				Info("smoke test done")
			return nil
		},
	}))

	service.Handle("/stream", websocket.Server{
		Handshake: twebsocket.VerifyTree(&trees),
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var sh twebsocket.Handler = &twebsocket.StreamHandler{
				ClientIdleTimeout: conf.ClientIdleTimeout,
				Trees:             &trees,
				MaxPointsPerFrame: conf.MaxPointsPerRequest,
				FeatureFlags:      featureFlags,
			}
			h := twebsocket.HandlerWithLogs(sh, conf.LogSummaryInterval)
			h = twebsocket.HandlerWithMetrics(h)
			defer h.Close()

			twebsocket.Handle(ctx, conn, h)
		},
	})

	var wg sync.WaitGroup
	if persistence {
		wg.Add(1)
		go func() {
			defer wg.Done()

			n, err := trees.Restore(ctx)
			if err != nil {
				logs.Fatal(errors.New("restoring trees failed").Wrap(err))
			}
			logs.WithTag("trees", n).Info("trees restored")
			ready.Store(true)

			saveTreesPeriodically(ctx, &trees, conf.SaveInterval)
		}()
	} else {
		ready.Store(true)
	}

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", treehttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", treehttp.HandleReadyCheck(readinessCheck))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("persistence", persistence).
		WithTag("feature_flags", featureFlags.List()).
		Info("starting spatial tree server")

	treehttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(
			treehttp.HandleWithCORS(&service),
			treehttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)

	wg.Wait()
	if persistence {
		// save on exit
		saveTrees(context.Background(), &trees)
	}
}

// saveTreesPeriodically snapshots every tree at each interval until ctx is
// done.
func saveTreesPeriodically(ctx context.Context, trees *models.TreeStore, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			saveTrees(ctx, trees)
		}
	}
}

func saveTrees(ctx context.Context, trees *models.TreeStore) {
	var saved int
	for _, tree := range trees.List() {
		if _, err := trees.Save(ctx, tree.ID); err != nil {
			logs.Warn(errors.New("saving tree failed").
				WithTag("tree_id", tree.ID).
				Wrap(err))
			continue
		}
		saved++
	}
	logs.WithTag("trees", saved).Debug("trees saved")
}

func validateConfig(conf config) error {
	if conf.DefaultCapacity < 1 {
		return errors.New("default capacity must be greater than 0").
			WithTag("default_capacity", conf.DefaultCapacity)
	}

	if conf.MaxPointsPerRequest < 0 {
		return errors.New("max points per request can't be negative").
			WithTag("max_points_per_request", conf.MaxPointsPerRequest)
	}

	if conf.SaveInterval < 0 {
		return errors.New("save interval can't be negative").
			WithTag("save_interval", conf.SaveInterval)
	}

	return nil
}
