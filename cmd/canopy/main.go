// Command canopy runs the Sentinel-1 forest-loss pipeline over a blob store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/canopy.report/internal/blob"
	"github.com/banshee-data/canopy.report/internal/catalog"
	"github.com/banshee-data/canopy.report/internal/config"
	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/pipeline"
	"github.com/banshee-data/canopy.report/internal/quicklook"
	"github.com/banshee-data/canopy.report/internal/version"
)

const defaultCatalog = "canopy.db"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("canopy: %v", err)
	}
}

// commonFlags are accepted by every pipeline subcommand.
type commonFlags struct {
	store         blob.Config
	catalogPath   string
	configPath    string
	quicklookDir  string
	metricsListen string
	overwrite     bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	c.store = blob.ConfigFromEnv()
	fs.Func("store", "blob store driver: fs, s3 or memory (env CANOPY_BLOB_DRIVER)", func(s string) error {
		c.store.Driver = blob.Driver(s)
		return nil
	})
	fs.StringVar(&c.store.FSRoot, "store-root", c.store.FSRoot, "root directory of the fs store")
	fs.StringVar(&c.store.S3.Bucket, "bucket", c.store.S3.Bucket, "bucket of the s3 store")
	fs.StringVar(&c.store.S3.Region, "region", c.store.S3.Region, "region of the s3 store")
	fs.StringVar(&c.store.S3.Endpoint, "endpoint", c.store.S3.Endpoint, "custom s3 endpoint, e.g. MinIO")
	fs.BoolVar(&c.store.S3.PathStyle, "path-style", c.store.S3.PathStyle, "use path-style s3 addressing")
	fs.StringVar(&c.catalogPath, "catalog", defaultCatalog, "path to the SQLite catalog")
	fs.StringVar(&c.configPath, "config", "", "pipeline config JSON (built-in defaults when empty)")
	fs.StringVar(&c.quicklookDir, "quicklook", "", "directory for PNG/HTML renderings of products")
	fs.StringVar(&c.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address while running")
	fs.BoolVar(&c.overwrite, "overwrite", false, "regenerate outputs that already exist")
}

func (c *commonFlags) loadConfig() (*config.PipelineConfig, error) {
	if c.configPath == "" {
		return config.EmptyPipelineConfig(), nil
	}
	return config.LoadPipelineConfig(c.configPath)
}

// needsCatalog reports whether cmd reads or writes the catalog.
func needsCatalog(cmd string) bool {
	switch cmd {
	case "index", "loss", "diff", "runs":
		return true
	}
	return false
}

// open builds the pipeline and returns a cleanup function. The catalog is
// only opened when withCatalog is set.
func (c *commonFlags) open(ctx context.Context, withCatalog bool) (*pipeline.Pipeline, func(), error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := blob.Open(ctx, c.store)
	if err != nil {
		return nil, nil, err
	}
	var cat *catalog.Catalog
	if withCatalog {
		if cat, err = catalog.Open(c.catalogPath); err != nil {
			return nil, nil, err
		}
	}
	closeCatalog := func() {
		if cat != nil {
			cat.Close()
		}
	}
	p, err := pipeline.New(store, cat, cfg)
	if err != nil {
		closeCatalog()
		return nil, nil, err
	}
	p.Overwrite = c.overwrite
	p.Metrics = monitoring.NewMetrics()

	stopMetrics := serveMetrics(c.metricsListen, p.Metrics)
	return p, func() {
		stopMetrics()
		closeCatalog()
	}, nil
}

func serveMetrics(addr string, m *monitoring.Metrics) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func parseDate(name, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("-%s is required (YYYY-MM-DD)", name)
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("-%s: %w", name, err)
	}
	return t, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		printUsage(stdout)
		return flag.ErrHelp
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "help", "-h", "-help", "--help":
		printUsage(stdout)
		return nil
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	case "migrate":
		fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
		path := fs.String("catalog", defaultCatalog, "path to the SQLite catalog")
		action, rest := splitAction(args)
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return catalog.RunMigrateCommand(append(action, fs.Args()...), *path, stdout)
	}

	var common commonFlags
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stdout)
	common.register(fs)
	region := fs.String("area", "", "region under the dataset, e.g. 008/056")
	date := fs.String("date", "", "loss: acquisition cut-off date (YYYY-MM-DD)")
	start := fs.String("start", "", "diff: start date (YYYY-MM-DD)")
	end := fs.String("end", "", "diff: end date (YYYY-MM-DD)")
	limit := fs.Int("limit", 20, "runs: number of runs to list")

	switch cmd {
	case "despeckle", "classify", "index", "loss", "diff", "runs":
	default:
		printUsage(stdout)
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, closeAll, err := common.open(ctx, needsCatalog(cmd))
	if err != nil {
		return err
	}
	defer closeAll()

	switch cmd {
	case "despeckle":
		s, err := p.Despeckle(ctx)
		fmt.Fprintf(stdout, "despeckle: %s\n", s)
		return err
	case "classify":
		s, err := p.Classify(ctx, nil)
		fmt.Fprintf(stdout, "classify: %s\n", s)
		return err
	case "index":
		s, err := p.Index(ctx)
		fmt.Fprintf(stdout, "index: %s\n", s)
		return err
	case "loss":
		asOf, err := parseDate("date", *date)
		if err != nil {
			return err
		}
		prod, err := p.Loss(ctx, *region, asOf)
		if err != nil {
			return err
		}
		return report(stdout, common.quicklookDir, prod, true)
	case "diff":
		s, err := parseDate("start", *start)
		if err != nil {
			return err
		}
		e, err := parseDate("end", *end)
		if err != nil {
			return err
		}
		prod, err := p.Difference(ctx, *region, s, e)
		if err != nil {
			return err
		}
		return report(stdout, common.quicklookDir, prod, false)
	case "runs":
		runs, err := p.Catalog.ListRuns(ctx, "", *limit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Fprintf(stdout, "%s  %-4s  %-9s  %s  %s  %s\n",
				r.StartedAt.Format(time.RFC3339), r.Kind, r.Status, r.AsOf.Format(time.DateOnly), r.ID, r.OutputKey)
		}
		return nil
	}
	return nil
}

// splitAction separates the leading positional migrate arguments from flags.
func splitAction(args []string) (action, rest []string) {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			return args[:i:i], args[i:]
		}
	}
	return args, nil
}

func report(w io.Writer, quicklookDir string, prod pipeline.Product, counts bool) error {
	fmt.Fprintf(w, "wrote %s (run %s, %d inputs)\n", prod.Key, prod.RunID, len(prod.Inputs))
	if quicklookDir == "" {
		return nil
	}
	ql := &quicklook.Writer{Dir: quicklookDir}
	r, err := ql.Product(prod.Key, prod.Grid, counts)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "quicklook %s\n", r.HeatMap)
	if r.Histogram != "" {
		fmt.Fprintf(w, "quicklook %s\n", r.Histogram)
	}
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: canopy <command> [flags]

Commands:
  despeckle   Calibrate and filter raw band grids (skips processed granules)
  classify    Write forest masks for despeckled granules
  index       Record masks and acquisition dates in the catalog
  loss        Accumulate forest loss for -area as of -date
  diff        Subtract the loss products of -area at -start and -end
  runs        List recent loss and diff runs
  migrate     Manage the catalog schema (see 'canopy migrate help')
  version     Print build information
  help        Show this help

Run 'canopy <command> -h' for the flags of a command.
`)
}
