package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cellwatch/internal/config"
	"cellwatch/internal/dispatch"
	"cellwatch/internal/failure"
	"cellwatch/internal/task"
	"cellwatch/internal/testsupport"
	"cellwatch/internal/worker"
)

const helperEnv = "CELLWATCH_TEST_WORKER"

// TestMain lets the test binary stand in for the worker executable.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(helperWorker(mode))
	}
	os.Exit(m.Run())
}

func helperWorker(mode string) int {
	switch mode {
	case "hang":
		fmt.Fprintln(os.Stderr, "hanging")
		time.Sleep(time.Hour)
		return 1
	case "crash":
		fmt.Fprintln(os.Stderr, "fatal: simulated crash")
		return 3
	case "garbage":
		fmt.Fprintln(os.Stdout, "this is not json")
		return 0
	case "double":
		fmt.Fprintln(os.Stdout, `{"success":true,"worker_id":1}`)
		fmt.Fprintln(os.Stdout, `{"success":true,"worker_id":1}`)
		return 0
	case "mismatch":
		fmt.Fprintln(os.Stdout, `{"success":true,"worker_id":999}`)
		return 0
	default:
		cfg := config.Default()
		cfg.Logging.Level = "debug"
		return worker.Run(context.Background(), &cfg, os.Stdin, os.Stdout, os.Stderr)
	}
}

func newPool(t *testing.T, mode string, opts ...dispatch.Option) *dispatch.Pool {
	t.Helper()
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("executable: %v", err)
	}
	cfg := testsupport.NewConfig(t, testsupport.WithWorkerBinary(self))
	base := []dispatch.Option{
		dispatch.WithBinary(self),
		dispatch.WithEnv(append(os.Environ(), helperEnv+"="+mode)),
	}
	pool, err := dispatch.New(cfg, nil, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return pool
}

func metaTask(t *testing.T) task.Task {
	t.Helper()
	path := testsupport.WriteWorkbook(t, t.TempDir(), "book.xlsx", testsupport.FixtureSheet{
		Name:  "Sheet1",
		Cells: map[string]testsupport.FixtureCell{"A1": {Value: "hello"}},
	})
	return task.ReadMeta{FilePath: path}
}

func TestSubmitRunsRealWorker(t *testing.T) {
	pool := newPool(t, "real")
	result, err := dispatch.Call[task.ReadMetaResult](context.Background(), pool, metaTask(t), false)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result == nil {
		t.Fatal("expected result")
	}
}

func TestSubmitPropagatesWorkerFailure(t *testing.T) {
	pool := newPool(t, "real")
	missing := task.ReadMeta{FilePath: filepath.Join(t.TempDir(), "missing.xlsx")}
	_, err := dispatch.Call[task.ReadMetaResult](context.Background(), pool, missing, false)
	if !errors.Is(err, failure.ErrIO) {
		t.Fatalf("expected io error, got %v", err)
	}
	var remote *task.RemoteError
	if !errors.As(err, &remote) || remote.WorkerID == 0 {
		t.Fatalf("expected remote error with worker id, got %#v", err)
	}
}

func TestTimeoutKillsWorker(t *testing.T) {
	pool := newPool(t, "hang", dispatch.WithTimeout(300*time.Millisecond))
	start := time.Now()
	resp := pool.Submit(context.Background(), task.ReadMeta{FilePath: "/x.xlsx"}, false)
	if resp.Success || resp.ErrorType != failure.KindTimeout {
		t.Fatalf("expected timeout failure, got %+v", resp)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
}

func TestMisbehavingWorkersAreProtocolErrors(t *testing.T) {
	for _, mode := range []string{"crash", "garbage", "double", "mismatch"} {
		t.Run(mode, func(t *testing.T) {
			pool := newPool(t, mode)
			resp := pool.Submit(context.Background(), task.ReadMeta{FilePath: "/x.xlsx"}, false)
			if resp.Success || resp.ErrorType != failure.KindProtocol {
				t.Fatalf("expected protocol error, got %+v", resp)
			}
		})
	}
}

func TestCrashMessageCarriesStderrTail(t *testing.T) {
	pool := newPool(t, "crash")
	resp := pool.Submit(context.Background(), task.ReadMeta{FilePath: "/x.xlsx"}, false)
	if want := "simulated crash"; !strings.Contains(resp.Error, want) {
		t.Fatalf("error %q should mention %q", resp.Error, want)
	}
}

func TestMissingBinaryIsDependencyMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	pool, err := dispatch.New(cfg, nil, dispatch.WithBinary(filepath.Join(t.TempDir(), "no-such-worker")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp := pool.Submit(context.Background(), task.ReadMeta{FilePath: "/x.xlsx"}, false)
	if resp.ErrorType != failure.KindDependencyMissing {
		t.Fatalf("expected dependency_missing, got %+v", resp)
	}
}

func TestWorkerIDsAreUnique(t *testing.T) {
	pool := newPool(t, "real", dispatch.WithSize(2))
	tk := metaTask(t)

	var mu sync.Mutex
	seen := map[int]bool{}
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := pool.Submit(context.Background(), tk, false)
			if !resp.Success {
				t.Errorf("submit failed: %+v", resp)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[resp.WorkerID] {
				t.Errorf("worker id %d reused", resp.WorkerID)
			}
			seen[resp.WorkerID] = true
		}()
	}
	wg.Wait()
}

func TestCancelledContextFailsFast(t *testing.T) {
	pool := newPool(t, "real", dispatch.WithSize(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := pool.Submit(ctx, task.ReadMeta{FilePath: "/x.xlsx"}, false)
	if resp.Success {
		t.Fatal("expected failure for cancelled context")
	}
}
