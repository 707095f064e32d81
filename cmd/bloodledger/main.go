// Command bloodledger is the operator CLI for the blood bank ledger. It loads
// BLOODLEDGER_* configuration, opens the configured store and runs a single
// subcommand against it.
package main

import (
	"bloodledger/internal/blob"
	"bloodledger/internal/core"
	"bloodledger/internal/photos"
	"bloodledger/internal/platform/config"
	"bloodledger/internal/platform/logging"
	"bloodledger/internal/platform/tracing"
	"bloodledger/pkg/domain"
	"context"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const usageText = `usage: bloodledger <command> [args]

commands:
  donors                              list registered donors
  rank                                print the donor leaderboard
  potential                           count potential donors per blood type
  stock list                          list stock per blood type
  stock add <type> <units>            replenish stock
  stock remove <type> <units>         debit stock
  requests                            list blood requests
  request-status <id> <status>        set a request to Pending, Approved or Rejected
  donor-photo -user <id> [-email <e>] <file>
                                      upload the caller's profile photo
  event-photo <event-id> <file>...    attach photos to an event
  serve-metrics                       serve /metrics and /debug/vars until interrupted
`

var (
	exitFunc   = os.Exit
	loadConfig = config.Load
)

var errUsage = errors.New("usage")

// main runs the CLI with the process arguments and exits with its status code.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

type app struct {
	cfg      config.Config
	svc      *core.Service
	registry *prometheus.Registry
	metrics  *core.PrometheusMetricsRecorder
	logger   *logging.Adapter
	stdout   io.Writer
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bloodledger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = io.WriteString(stderr, usageText) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	zl, err := logging.New(cfg.LogEnv)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	logger := logging.NewAdapter(zl)
	defer func() { _ = logger.Sync() }()

	tp, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "tracing: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := core.NewPrometheusMetricsRecorder(registry)
	svc, err := core.OpenService(ctx, cfg,
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
		core.WithTracer(core.NewOTelTracer(tp)),
	)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}()

	a := &app{cfg: cfg, svc: svc, registry: registry, metrics: metrics, logger: logger, stdout: stdout}
	if err := a.dispatch(ctx, fs.Args()); err != nil {
		if errors.Is(err, errUsage) {
			_, _ = fmt.Fprintf(stderr, "%v\n", err)
			_, _ = io.WriteString(stderr, usageText)
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "error (%s): %v\n", domain.KindOf(err), err)
		return 1
	}
	return 0
}

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "donors":
		return a.listDonors(ctx)
	case "rank":
		return a.rank(ctx)
	case "potential":
		return a.potential(ctx)
	case "stock":
		return a.stock(ctx, rest)
	case "requests":
		return a.listRequests(ctx)
	case "request-status":
		if len(rest) != 2 {
			return usagef("request-status needs <id> <status>")
		}
		req, _, err := a.svc.UpdateRequestStatus(ctx, rest[0], domain.RequestStatus(rest[1]))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(a.stdout, "%s %s\n", req.ID, req.Status)
		return err
	case "donor-photo":
		return a.donorPhoto(ctx, rest)
	case "event-photo":
		return a.eventPhoto(ctx, rest)
	case "serve-metrics":
		return a.serveMetrics(ctx)
	default:
		return usagef("unknown command %q", cmd)
	}
}

func (a *app) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
}

func (a *app) listDonors(ctx context.Context) error {
	donors, err := a.svc.ListDonors(ctx)
	if err != nil {
		return err
	}
	w := a.table()
	_, _ = fmt.Fprintln(w, "ID\tNAME\tBLOOD\tDONATIONS\tPOINTS\tLAST\tCONSENT")
	for _, d := range donors {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n", d.ID, d.Name, d.BloodType, d.TotalDonations, d.Points, d.LastDonation, d.Consent)
	}
	return w.Flush()
}

func (a *app) rank(ctx context.Context) error {
	board, err := a.svc.RankDonors(ctx)
	if err != nil {
		return err
	}
	w := a.table()
	_, _ = fmt.Fprintln(w, "RANK\tNAME\tBLOOD\tDONATIONS\tPOINTS\tBADGE\tSTATUS")
	for _, e := range board {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n", e.Rank, e.Name, e.BloodType, e.TotalDonations, e.Points, e.Badge, e.Status)
	}
	return w.Flush()
}

func (a *app) potential(ctx context.Context) error {
	counts, err := a.svc.ListPotentialDonors(ctx)
	if err != nil {
		return err
	}
	w := a.table()
	_, _ = fmt.Fprintln(w, "BLOOD\tDONORS")
	for _, c := range counts {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", c.BloodType, c.Donors)
	}
	return w.Flush()
}

func (a *app) stock(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usagef("stock needs list, add or remove")
	}
	switch args[0] {
	case "list":
		entries, err := a.svc.ListInventory(ctx)
		if err != nil {
			return err
		}
		w := a.table()
		_, _ = fmt.Fprintln(w, "BLOOD\tUNITS\tUPDATED")
		for _, e := range entries {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", e.BloodType, e.Units, e.LastUpdated.Format(time.RFC3339))
		}
		return w.Flush()
	case "add", "remove":
		if len(args) != 3 {
			return usagef("stock %s needs <type> <units>", args[0])
		}
		units, err := strconv.Atoi(args[2])
		if err != nil {
			return usagef("units must be an integer: %v", err)
		}
		adjust := a.svc.AddStock
		if args[0] == "remove" {
			adjust = a.svc.RemoveStock
		}
		entry, _, err := adjust(ctx, args[1], units)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(a.stdout, "%s %d\n", entry.BloodType, entry.Units)
		return err
	default:
		return usagef("unknown stock command %q", args[0])
	}
}

func (a *app) listRequests(ctx context.Context) error {
	requests, err := a.svc.ListRequests(ctx)
	if err != nil {
		return err
	}
	w := a.table()
	_, _ = fmt.Fprintln(w, "ID\tPATIENT\tBLOOD\tUNITS\tURGENCY\tSTATUS\tDATE")
	for _, r := range requests {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n", r.ID, r.PatientName, r.BloodType, r.Units, r.Urgency, r.Status, r.RequestDate.Format(time.DateOnly))
	}
	return w.Flush()
}

func (a *app) uploader(ctx context.Context) (*photos.Uploader, error) {
	store, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return nil, err
	}
	return photos.New(store, a.svc, photos.WithLogger(a.logger)), nil
}

func openUpload(path string) (photos.Upload, *os.File, error) {
	// #nosec G304 -- photo paths are operator-supplied CLI arguments.
	f, err := os.Open(path)
	if err != nil {
		return photos.Upload{}, nil, err
	}
	return photos.Upload{
		Filename:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Body:        f,
	}, f, nil
}

func (a *app) donorPhoto(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("donor-photo", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var owner core.OwnerRef
	fs.StringVar(&owner.UserID, "user", "", "account id of the donor")
	fs.StringVar(&owner.Email, "email", "", "fallback email of the donor")
	if err := fs.Parse(args); err != nil {
		return usagef("donor-photo: %v", err)
	}
	if owner.UserID == "" || fs.NArg() != 1 {
		return usagef("donor-photo needs -user and one file")
	}
	up, err := a.uploader(ctx)
	if err != nil {
		return err
	}
	upload, f, err := openUpload(fs.Arg(0))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	donor, err := up.UploadDonorPhoto(ctx, owner, upload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.stdout, "%s %s\n", donor.ID, donor.PhotoRef)
	return err
}

func (a *app) eventPhoto(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usagef("event-photo needs <event-id> <file>...")
	}
	up, err := a.uploader(ctx)
	if err != nil {
		return err
	}
	uploads := make([]photos.Upload, 0, len(args)-1)
	for _, path := range args[1:] {
		upload, f, err := openUpload(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		uploads = append(uploads, upload)
	}
	event, err := up.UploadEventPhotos(ctx, args[0], uploads)
	if err != nil {
		return err
	}
	for _, ref := range event.Photos {
		if _, err := fmt.Fprintln(a.stdout, ref); err != nil {
			return err
		}
	}
	return nil
}

// serveMetrics primes the stock gauges from the store and serves Prometheus
// and expvar endpoints until ctx is cancelled.
func (a *app) serveMetrics(ctx context.Context) error {
	entries, err := a.svc.ListInventory(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		a.metrics.ObserveStock(e.BloodType, e.Units)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	ln, err := net.Listen("tcp", a.cfg.MetricsAddr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	_, _ = fmt.Fprintf(a.stdout, "listening on %s\n", ln.Addr())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
