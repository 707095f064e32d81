package main

import (
	"bloodledger/internal/core"
	"bloodledger/internal/platform/config"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// useConfig points the CLI at a sqlite ledger and filesystem blob root
// inside a temp dir so state survives across cli invocations.
func useConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.FromMap(map[string]string{
		"BLOODLEDGER_STORAGE_DRIVER": "sqlite",
		"BLOODLEDGER_SQLITE_PATH":    filepath.Join(dir, "ledger.db"),
		"BLOODLEDGER_BLOB_DRIVER":    "fs",
		"BLOODLEDGER_BLOB_FS_ROOT":   filepath.Join(dir, "blobs"),
		"BLOODLEDGER_LOG_ENV":        "production",
		"BLOODLEDGER_METRICS_ADDR":   "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	old := loadConfig
	loadConfig = func() (config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = old })
	return cfg
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func seed(t *testing.T, cfg config.Config, fn func(svc *core.Service)) {
	t.Helper()
	svc, err := core.OpenService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fn(svc)
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func writePhoto(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("\x89PNG fake image"), 0o600); err != nil {
		t.Fatalf("write photo: %v", err)
	}
	return path
}

func TestUsageErrors(t *testing.T) {
	useConfig(t)
	if code, _, stderr := runCLI(t); code != 2 || !strings.Contains(stderr, "usage:") {
		t.Fatalf("expected usage exit, got %d %q", code, stderr)
	}
	if code, _, stderr := runCLI(t, "bogus"); code != 2 || !strings.Contains(stderr, `unknown command "bogus"`) {
		t.Fatalf("expected unknown command, got %d %q", code, stderr)
	}
	if code, _, _ := runCLI(t, "stock", "add", "A+"); code != 2 {
		t.Fatalf("expected usage exit for missing units, got %d", code)
	}
	if code, _, _ := runCLI(t, "stock", "add", "A+", "many"); code != 2 {
		t.Fatalf("expected usage exit for bad units, got %d", code)
	}
	if code, _, _ := runCLI(t, "-nope"); code != 2 {
		t.Fatalf("expected flag parse failure, got %d", code)
	}
}

func TestConfigFailure(t *testing.T) {
	old := loadConfig
	loadConfig = func() (config.Config, error) { return config.Config{}, errors.New("boom") }
	defer func() { loadConfig = old }()
	if code, _, stderr := runCLI(t, "donors"); code != 1 || !strings.Contains(stderr, "config: boom") {
		t.Fatalf("expected config failure, got %d %q", code, stderr)
	}
}

func TestStockCommands(t *testing.T) {
	useConfig(t)
	if code, out, stderr := runCLI(t, "stock", "add", "A+", "5"); code != 0 || out != "A+ 5\n" {
		t.Fatalf("add: %d %q %q", code, out, stderr)
	}
	if code, out, _ := runCLI(t, "stock", "remove", "A+", "2"); code != 0 || out != "A+ 3\n" {
		t.Fatalf("remove: %d %q", code, out)
	}
	code, _, stderr := runCLI(t, "stock", "remove", "A+", "10")
	if code != 1 || !strings.Contains(stderr, "insufficient_stock") {
		t.Fatalf("expected insufficient stock, got %d %q", code, stderr)
	}
	code, out, _ := runCLI(t, "stock", "list")
	if code != 0 || !strings.HasPrefix(out, "BLOOD") {
		t.Fatalf("list: %d %q", code, out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "A+") || !strings.Contains(lines[1], " 3 ") {
		t.Fatalf("unexpected stock table %q", out)
	}
}

func TestRequestCommands(t *testing.T) {
	cfg := useConfig(t)
	var reqID string
	seed(t, cfg, func(svc *core.Service) {
		ctx := context.Background()
		if _, _, err := svc.AddStock(ctx, "O-", 4); err != nil {
			t.Fatalf("add: %v", err)
		}
		req, _, err := svc.CreateRequest(ctx, core.RequestInput{PatientName: "Pat", BloodType: "O-", Units: 3, Urgency: "High"})
		if err != nil {
			t.Fatalf("create request: %v", err)
		}
		reqID = req.ID
	})

	code, out, _ := runCLI(t, "requests")
	if code != 0 || !strings.Contains(out, reqID) || !strings.Contains(out, "Pending") {
		t.Fatalf("requests: %d %q", code, out)
	}
	if code, out, _ := runCLI(t, "request-status", reqID, "Approved"); code != 0 || out != reqID+" Approved\n" {
		t.Fatalf("approve: %d %q", code, out)
	}
	if code, _, stderr := runCLI(t, "request-status", "missing", "Approved"); code != 1 || !strings.Contains(stderr, "not_found") {
		t.Fatalf("expected not found, got %d %q", code, stderr)
	}
	if code, _, _ := runCLI(t, "request-status", reqID); code != 2 {
		t.Fatalf("expected usage exit, got %d", code)
	}
	if _, out, _ := runCLI(t, "stock", "list"); !strings.Contains(out, "O-") || !strings.Contains(out, " 1 ") {
		t.Fatalf("expected approval to debit stock, got %q", out)
	}
}

func TestDonorProjections(t *testing.T) {
	cfg := useConfig(t)
	seed(t, cfg, func(svc *core.Service) {
		ctx := context.Background()
		for _, id := range []string{"N-1", "N-2"} {
			donor, _, err := svc.CreateDonor(ctx, core.DonorInput{
				NationalID: id, Name: "Donor " + id, Email: id + "@example.com",
				Phone: "555-0100", Address: "1 Main St", BloodType: "B+", Age: 30, Weight: 70,
			})
			if err != nil {
				t.Fatalf("create donor: %v", err)
			}
			if id == "N-2" {
				if _, _, err := svc.RecordDonation(ctx, donor.ID, 1, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)); err != nil {
					t.Fatalf("record: %v", err)
				}
			}
		}
	})

	code, out, _ := runCLI(t, "donors")
	if code != 0 || !strings.Contains(out, "Donor N-1") || !strings.Contains(out, "Donor N-2") {
		t.Fatalf("donors: %d %q", code, out)
	}
	code, out, _ = runCLI(t, "rank")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if code != 0 || len(lines) != 3 || !strings.Contains(lines[1], "Donor N-2") || !strings.Contains(lines[1], "100") {
		t.Fatalf("rank: %d %q", code, out)
	}
	code, out, _ = runCLI(t, "potential")
	lines = strings.Split(strings.TrimSpace(out), "\n")
	if code != 0 || len(lines) != 9 {
		t.Fatalf("expected header plus eight blood types, got %d %q", code, out)
	}
}

func TestPhotoCommands(t *testing.T) {
	cfg := useConfig(t)
	var eventID string
	seed(t, cfg, func(svc *core.Service) {
		ctx := context.Background()
		if _, _, err := svc.CreateDonor(ctx, core.DonorInput{
			NationalID: "N-9", Name: "Photo Donor", Email: "photo@example.com",
			Phone: "555-0100", Address: "1 Main St", BloodType: "A-", Age: 40, Weight: 80,
		}); err != nil {
			t.Fatalf("create donor: %v", err)
		}
		event, _, err := svc.CreateEvent(ctx, core.EventInput{Title: "Drive", Date: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)})
		if err != nil {
			t.Fatalf("create event: %v", err)
		}
		eventID = event.ID
	})

	code, out, stderr := runCLI(t, "donor-photo", "-user", "u-1", "-email", "photo@example.com", writePhoto(t, "me.png"))
	if code != 0 {
		t.Fatalf("donor photo: %d %q", code, stderr)
	}
	fields := strings.Fields(out)
	if len(fields) != 2 || !strings.HasPrefix(fields[1], "donors/") || !strings.HasSuffix(fields[1], ".png") {
		t.Fatalf("unexpected donor photo output %q", out)
	}
	if _, err := os.Stat(filepath.Join(cfg.Blob.FSRoot, filepath.FromSlash(fields[1]))); err != nil {
		t.Fatalf("expected stored blob: %v", err)
	}
	if code, _, _ := runCLI(t, "donor-photo", writePhoto(t, "x.png")); code != 2 {
		t.Fatalf("expected usage exit without -user, got %d", code)
	}
	if code, _, stderr := runCLI(t, "donor-photo", "-user", "u-1", writePhoto(t, "notes.txt")); code != 1 || !strings.Contains(stderr, "invalid_argument") {
		t.Fatalf("expected non-image rejection, got %d %q", code, stderr)
	}

	code, out, stderr = runCLI(t, "event-photo", eventID, writePhoto(t, "a.png"), writePhoto(t, "b.jpg"))
	if code != 0 {
		t.Fatalf("event photo: %d %q", code, stderr)
	}
	refs := strings.Split(strings.TrimSpace(out), "\n")
	if len(refs) != 2 || !strings.HasPrefix(refs[0], "events/"+eventID+"/") {
		t.Fatalf("unexpected event refs %q", out)
	}
	if code, _, _ := runCLI(t, "event-photo", "missing", writePhoto(t, "c.png")); code != 1 {
		t.Fatalf("expected unknown event failure, got %d", code)
	}
}

// cancelOnWrite stops the server as soon as it reports its address.
type cancelOnWrite struct {
	bytes.Buffer
	cancel context.CancelFunc
}

func (w *cancelOnWrite) Write(p []byte) (int, error) {
	n, err := w.Buffer.Write(p)
	w.cancel()
	return n, err
}

func TestServeMetricsStopsOnCancel(t *testing.T) {
	useConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stdout := &cancelOnWrite{cancel: cancel}
	var stderr bytes.Buffer
	if code := cli(ctx, []string{"serve-metrics"}, stdout, &stderr); code != 0 {
		t.Fatalf("serve-metrics: %d %q", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "listening on 127.0.0.1:") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestTracingExportsCommandSpans(t *testing.T) {
	cfg := useConfig(t)
	var exports atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/traces" {
			exports.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	cfg.Tracing.Endpoint = srv.URL + "/v1/traces"
	loadConfig = func() (config.Config, error) { return cfg, nil }

	if code, _, stderr := runCLI(t, "stock", "list"); code != 0 {
		t.Fatalf("stock list: %d %q", code, stderr)
	}
	if exports.Load() == 0 {
		t.Fatalf("expected spans to be flushed before exit")
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	useConfig(t)
	var codes []int
	oldExit, oldArgs := exitFunc, os.Args
	exitFunc = func(code int) { codes = append(codes, code) }
	defer func() { exitFunc, os.Args = oldExit, oldArgs }()

	os.Args = []string{"bloodledger"}
	main()
	os.Args = []string{"bloodledger", "stock", "list"}
	main()
	if len(codes) != 2 || codes[0] != 2 || codes[1] != 0 {
		t.Fatalf("unexpected exit codes %v", codes)
	}
}
