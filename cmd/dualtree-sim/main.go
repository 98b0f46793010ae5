package main

import (
	"fmt"
	"math/rand"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats/view"
	"golang.org/x/xerrors"

	"github.com/dualtree-project/dualtree/build"
	"github.com/dualtree-project/dualtree/config"
	"github.com/dualtree-project/dualtree/engine"
	"github.com/dualtree-project/dualtree/journal"
	"github.com/dualtree-project/dualtree/journal/fsjournal"
	"github.com/dualtree-project/dualtree/metrics"
	"github.com/dualtree-project/dualtree/tree"
)

var log = logging.Logger("dualtree-sim")

func main() {
	_ = logging.SetLogLevel("*", "INFO")

	app := &cli.App{
		Name:    "dualtree-sim",
		Usage:   "Run a synthetic dual-tree range-count traversal",
		Version: build.UserVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a TOML config file; flags override it",
			},
			&cli.IntFlag{Name: "query-points", Usage: "number of query points to generate"},
			&cli.IntFlag{Name: "reference-points", Usage: "number of reference points to generate"},
			&cli.IntFlag{Name: "dimensions", Usage: "point dimensionality"},
			&cli.IntFlag{Name: "workers", Usage: "number of traversal workers"},
			&cli.IntFlag{Name: "leaf-size", Usage: "max points per tree leaf"},
			&cli.IntFlag{Name: "max-subtree-size", Usage: "max points per initial query subtree"},
			&cli.Float64Flag{Name: "radius", Usage: "range-count radius"},
			&cli.Int64Flag{Name: "seed", Usage: "rng seed; 0 picks one"},
			&cli.StringFlag{Name: "journal", Usage: "directory to write the event journal under"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}

	if err := view.Register(metrics.DefaultViews...); err != nil {
		return xerrors.Errorf("registering metric views: %w", err)
	}

	if cfg.Journal.Path != "" {
		j, err := fsjournal.OpenFSJournal(cfg.Journal.Path, journal.EnvDisabledEvents())
		if err != nil {
			return xerrors.Errorf("opening journal: %w", err)
		}
		journal.J = j
		defer func() {
			_ = j.Close()
		}()
	}

	seed := cfg.Data.Seed
	if seed == 0 {
		seed = build.Clock.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	log.Infow("generating tables",
		"queryPoints", cfg.Data.QueryPoints,
		"referencePoints", cfg.Data.ReferencePoints,
		"dimensions", cfg.Data.Dimensions,
		"seed", seed)

	queryTable, err := tree.BuildMemTable(randomPoints(rng, cfg.Data.QueryPoints, cfg.Data.Dimensions), cfg.Engine.LeafSize)
	if err != nil {
		return xerrors.Errorf("building query table: %w", err)
	}
	refTable, err := tree.BuildMemTable(randomPoints(rng, cfg.Data.ReferencePoints, cfg.Data.Dimensions), cfg.Engine.LeafSize)
	if err != nil {
		return xerrors.Errorf("building reference table: %w", err)
	}

	e, err := engine.New(queryTable, tree.EuclideanMetric{}, cfg.Engine.Radius, cfg.Engine.Workers, cfg.Engine.MaxSubtreeSize)
	if err != nil {
		return err
	}
	if err := e.ImportReference(refTable, cfg.Engine.MaxSubtreeSize); err != nil {
		return err
	}

	log.Infow("starting traversal", "workers", cfg.Engine.Workers, "slots", e.Queue().Size())
	counts, err := e.Run(cctx.Context)
	if err != nil {
		return xerrors.Errorf("traversal failed: %w", err)
	}

	var total uint64
	for _, c := range counts {
		total += c
	}

	diag := e.Queue().Diag()
	fmt.Printf("query points:    %d\n", len(counts))
	fmt.Printf("neighbor pairs:  %d\n", total)
	fmt.Printf("final slots:     %d\n", diag.Slots)
	fmt.Printf("resident slots:  %d (exchange cache)\n", e.Cache().Len())
	return nil
}

func loadConfig(cctx *cli.Context) (*config.Simulator, error) {
	cfg := config.DefaultSimulator()
	if cctx.IsSet("config") {
		var err error
		cfg, err = config.FromFile(cctx.String("config"))
		if err != nil {
			return nil, err
		}
	}

	if cctx.IsSet("query-points") {
		cfg.Data.QueryPoints = cctx.Int("query-points")
	}
	if cctx.IsSet("reference-points") {
		cfg.Data.ReferencePoints = cctx.Int("reference-points")
	}
	if cctx.IsSet("dimensions") {
		cfg.Data.Dimensions = cctx.Int("dimensions")
	}
	if cctx.IsSet("workers") {
		cfg.Engine.Workers = cctx.Int("workers")
	}
	if cctx.IsSet("leaf-size") {
		cfg.Engine.LeafSize = cctx.Int("leaf-size")
	}
	if cctx.IsSet("max-subtree-size") {
		cfg.Engine.MaxSubtreeSize = cctx.Int("max-subtree-size")
	}
	if cctx.IsSet("radius") {
		cfg.Engine.Radius = cctx.Float64("radius")
	}
	if cctx.IsSet("seed") {
		cfg.Data.Seed = cctx.Int64("seed")
	}
	if cctx.IsSet("journal") {
		cfg.Journal.Path = cctx.String("journal")
	}

	return cfg, cfg.Validate()
}

func randomPoints(rng *rand.Rand, n, dim int) [][]float64 {
	pts := make([][]float64, n)
	for i := range pts {
		pt := make([]float64, dim)
		for d := range pt {
			pt[d] = rng.Float64()
		}
		pts[i] = pt
	}
	return pts
}
