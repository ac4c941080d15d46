package processor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidrender/internal/adapters/storage/localfs"
	"vidrender/internal/artifact"
	contracts "vidrender/internal/contracts/renderer/v0"
	"vidrender/internal/config"
	"vidrender/internal/pkg/errors"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/ports"
	"vidrender/internal/renderer"
	"vidrender/internal/rendertest"
)

func TestMain(m *testing.M) {
	rendertest.RunIfHelper()
	os.Exit(m.Run())
}

type testDeliverer struct {
	failBefore bool
	failAfter  bool
	onDeliver  func(a Artifact)

	mu        sync.Mutex
	calls     int
	got       Artifact
	body      []byte
	existed   bool
	committed bool
}

func (d *testDeliverer) Deliver(_ context.Context, a Artifact) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	d.got = a
	_, err := os.Stat(a.Path)
	d.existed = err == nil

	if d.onDeliver != nil {
		d.onDeliver(a)
	}
	if d.failBefore {
		return fmt.Errorf("client went away")
	}
	if d.failAfter {
		d.committed = true
		buf := make([]byte, 3)
		_, _ = a.Body.Read(buf)
		return io.ErrClosedPipe
	}

	d.body, err = io.ReadAll(a.Body)
	d.committed = true
	return err
}

func (d *testDeliverer) Committed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.committed
}

// engineFunc adapts a function to renderer.Engine.
type engineFunc func(ctx context.Context, compositionID, outputPath string, props map[string]any) renderer.Outcome

func (f engineFunc) Invoke(ctx context.Context, compositionID, outputPath string, props map[string]any) renderer.Outcome {
	return f(ctx, compositionID, outputPath, props)
}

type failingStore struct{}

func (failingStore) Provider() string { return "broken" }

func (failingStore) PutObject(context.Context, ports.PutObjectInput) (ports.PutObjectOutput, error) {
	return ports.PutObjectOutput{}, fmt.Errorf("quota exceeded")
}

func (failingStore) Check(context.Context) error { return fmt.Errorf("quota exceeded") }

func newProcessor(t *testing.T, cfg config.RenderConfig, d Deps) *Processor {
	t.Helper()
	if d.Allocator == nil {
		d.Allocator = artifact.NewAllocator(cfg.OutputDir, ".mp4")
	}
	if d.Renderer == nil {
		d.Renderer = renderer.NewInvoker(cfg, nil)
	}
	d.Log = logger.Discard()
	return New(d)
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Empty(t, names, "output directory should be empty")
}

func writeFile(path, data string) renderer.Outcome {
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return renderer.Outcome{Reason: err.Error(), ExitCode: -1, Err: err}
	}
	return renderer.Outcome{OK: true}
}

func TestRunSuccess(t *testing.T) {
	cfg := rendertest.Config(t, rendertest.Succeed)
	p := newProcessor(t, cfg, Deps{})
	d := &testDeliverer{}

	res, err := p.Run(context.Background(), contracts.RenderRequest{
		CompositionID: "intro",
		InputProps:    map[string]any{"title": "Hello"},
	}, d)
	require.NoError(t, err)

	assert.Equal(t, StageDone, res.Stage)
	assert.Empty(t, res.FailedAt)
	assert.Equal(t, 1, d.calls)
	assert.True(t, d.existed, "artifact must exist while it is delivered")
	assert.Equal(t, `FAKEMP4:{"title":"Hello"}`, string(d.body))
	assert.Equal(t, int64(len(d.body)), d.got.Size)
	assert.Equal(t, "video/mp4", d.got.ContentType)
	assert.Regexp(t, `^intro-\d+\.mp4$`, d.got.Name)
	assert.Equal(t, res.Location.InternalPath, d.got.Path)
	assert.NoError(t, res.CleanupErr)

	assertDirEmpty(t, cfg.OutputDir)
}

func TestRunRejectsInvalidRequests(t *testing.T) {
	cases := map[string]contracts.RenderRequest{
		"missing composition": {},
		"blank composition":   {CompositionID: "   "},
		"path traversal":      {CompositionID: "../etc/passwd"},
		"separator":           {CompositionID: "a/b"},
		"unserializable":      {CompositionID: "intro", InputProps: map[string]any{"ch": make(chan int)}},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := rendertest.Config(t, rendertest.Succeed)
			called := false
			p := newProcessor(t, cfg, Deps{Renderer: engineFunc(func(context.Context, string, string, map[string]any) renderer.Outcome {
				called = true
				return renderer.Outcome{OK: true}
			})})
			d := &testDeliverer{}

			res, err := p.Run(context.Background(), req, d)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err), err.Error())
			assert.Equal(t, StageFailed, res.Stage)
			assert.Equal(t, StageValidating, res.FailedAt)
			assert.False(t, called, "renderer must not run for invalid input")
			assert.Zero(t, d.calls)
			assertDirEmpty(t, cfg.OutputDir)
		})
	}
}

func TestRunRenderFailureRemovesPartialArtifact(t *testing.T) {
	cfg := rendertest.Config(t, rendertest.ExitNonZero)
	p := newProcessor(t, cfg, Deps{})
	d := &testDeliverer{}

	res, err := p.Run(context.Background(), contracts.RenderRequest{CompositionID: "intro"}, d)
	require.Error(t, err)

	assert.True(t, errors.IsRenderFailed(err))
	assert.Contains(t, err.Error(), "encoder crashed")
	assert.Equal(t, StageRendering, res.FailedAt)
	assert.Equal(t, 1, res.Outcome.ExitCode)
	assert.Zero(t, d.calls)
	assertDirEmpty(t, cfg.OutputDir)
}

func TestRunMarkerOnZeroExitIsFailure(t *testing.T) {
	cfg := rendertest.Config(t, rendertest.StderrError)
	p := newProcessor(t, cfg, Deps{})
	d := &testDeliverer{}

	_, err := p.Run(context.Background(), contracts.RenderRequest{CompositionID: "missing"}, d)
	require.Error(t, err)

	assert.True(t, errors.IsRenderFailed(err))
	assert.Contains(t, err.Error(), rendertest.CompositionNotFound)
	assert.Zero(t, d.calls)
	assertDirEmpty(t, cfg.OutputDir)
}

func TestRunNoOutputIsFailure(t *testing.T) {
	cfg := rendertest.Config(t, rendertest.EmptyOutput)
	p := newProcessor(t, cfg, Deps{})

	_, err := p.Run(context.Background(), contracts.RenderRequest{CompositionID: "intro"}, &testDeliverer{})
	require.Error(t, err)
	assert.True(t, errors.IsRenderFailed(err))
	assertDirEmpty(t, cfg.OutputDir)
}

func TestRunDeliveryFailure(t *testing.T) {
	for _, tc := range []struct {
		name      string
		d         *testDeliverer
		committed bool
	}{
		{name: "before commit", d: &testDeliverer{failBefore: true}, committed: false},
		{name: "after commit", d: &testDeliverer{failAfter: true}, committed: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := rendertest.Config(t, rendertest.Succeed)
			p := newProcessor(t, cfg, Deps{})

			res, err := p.Run(context.Background(), contracts.RenderRequest{CompositionID: "intro"}, tc.d)
			require.Error(t, err)

			assert.True(t, errors.IsDeliveryFailed(err))
			assert.Equal(t, tc.committed, errors.GetFields(err)["committed"])
			assert.Equal(t, StageDelivering, res.FailedAt)
			assertDirEmpty(t, cfg.OutputDir)
		})
	}
}

func TestRunCanceledRequest(t *testing.T) {
	cfg := rendertest.Config(t, rendertest.Hang)
	p := newProcessor(t, cfg, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	res, err := p.Run(ctx, contracts.RenderRequest{CompositionID: "intro"}, &testDeliverer{})
	require.Error(t, err)

	assert.True(t, errors.IsCode(err, errors.CodeCanceled), err.Error())
	assert.Equal(t, StageRendering, res.FailedAt)
	assertDirEmpty(t, cfg.OutputDir)
}

func TestRunConcurrentRequestsUseDistinctPaths(t *testing.T) {
	cfg := rendertest.Config(t, rendertest.EchoArgs)
	p := newProcessor(t, cfg, Deps{})

	var arrived atomic.Int32
	both := make(chan struct{})
	wait := func(Artifact) {
		if arrived.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
		case <-time.After(10 * time.Second):
		}
	}

	// Separate deliverers so they do not serialize on the same mutex.
	ds := []*testDeliverer{{onDeliver: wait}, {onDeliver: wait}}
	results := make([]Result, 2)
	errs := make([]error, 2)

	var wg sync.WaitGroup
	for i := range ds {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Run(context.Background(), contracts.RenderRequest{CompositionID: "intro"}, ds[i])
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, results[0].Location.InternalPath, results[1].Location.InternalPath)
	assert.True(t, ds[0].existed)
	assert.True(t, ds[1].existed)

	// Each caller receives its own render, which names its own output path.
	assert.Contains(t, string(ds[0].body), results[0].Location.InternalPath)
	assert.Contains(t, string(ds[1].body), results[1].Location.InternalPath)

	assertDirEmpty(t, cfg.OutputDir)
}

func TestRunConcurrencyCap(t *testing.T) {
	cfg := rendertest.Config(t, rendertest.Succeed)

	var running, peak atomic.Int32
	engine := engineFunc(func(_ context.Context, _, out string, _ map[string]any) renderer.Outcome {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		return writeFile(out, "FAKEMP4")
	})
	p := newProcessor(t, cfg, Deps{Renderer: engine, MaxConcurrent: 1})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Run(context.Background(), contracts.RenderRequest{CompositionID: "intro"}, &testDeliverer{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assertDirEmpty(t, cfg.OutputDir)
}

func TestRunGivesUpWaitingForSlot(t *testing.T) {
	cfg := rendertest.Config(t, rendertest.Succeed)

	release := make(chan struct{})
	started := make(chan struct{})
	engine := engineFunc(func(_ context.Context, _, out string, _ map[string]any) renderer.Outcome {
		close(started)
		<-release
		return writeFile(out, "FAKEMP4")
	})
	p := newProcessor(t, cfg, Deps{Renderer: engine, MaxConcurrent: 1})

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), contracts.RenderRequest{CompositionID: "first"}, &testDeliverer{})
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res, err := p.Run(ctx, contracts.RenderRequest{CompositionID: "second"}, &testDeliverer{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTimeout), err.Error())
	assert.Equal(t, StageRendering, res.FailedAt)

	close(release)
	require.NoError(t, <-done)
	assertDirEmpty(t, cfg.OutputDir)
}

func TestRunArchivesArtifact(t *testing.T) {
	cfg := rendertest.Config(t, rendertest.Succeed)
	archiveRoot := t.TempDir()
	p := newProcessor(t, cfg, Deps{Archive: localfs.New(archiveRoot)})
	d := &testDeliverer{}

	res, err := p.Run(context.Background(), contracts.RenderRequest{CompositionID: "intro"}, d)
	require.NoError(t, err)

	assert.Equal(t, archiveKey(res.Location.Token, res.Location.DeliveryName), res.ArchiveKey)
	data, err := os.ReadFile(filepath.Join(archiveRoot, filepath.FromSlash(res.ArchiveKey)))
	require.NoError(t, err)
	assert.Equal(t, d.body, data)

	assertDirEmpty(t, cfg.OutputDir)
}

func TestRunArchiveFailureStillDelivers(t *testing.T) {
	cfg := rendertest.Config(t, rendertest.Succeed)
	p := newProcessor(t, cfg, Deps{Archive: failingStore{}})
	d := &testDeliverer{}

	res, err := p.Run(context.Background(), contracts.RenderRequest{CompositionID: "intro"}, d)
	require.NoError(t, err)

	assert.Empty(t, res.ArchiveKey)
	assert.NotEmpty(t, d.body)
	assertDirEmpty(t, cfg.OutputDir)
}

func TestRunCleanupFailureDoesNotChangeResult(t *testing.T) {
	cfg := rendertest.Config(t, rendertest.Succeed)
	p := newProcessor(t, cfg, Deps{})

	// Replace the artifact with a non-empty directory so removal fails.
	d := &testDeliverer{onDeliver: func(a Artifact) {
		require.NoError(t, os.Remove(a.Path))
		require.NoError(t, os.MkdirAll(filepath.Join(a.Path, "child"), 0o755))
	}}

	res, err := p.Run(context.Background(), contracts.RenderRequest{CompositionID: "intro"}, d)
	require.NoError(t, err)

	assert.Equal(t, StageDone, res.Stage)
	require.Error(t, res.CleanupErr)
	assert.True(t, errors.IsCode(res.CleanupErr, errors.CodeCleanupFailed))
	assert.NotEmpty(t, d.body)
}

func TestStageTerminal(t *testing.T) {
	assert.True(t, StageDone.Terminal())
	assert.True(t, StageFailed.Terminal())
	assert.False(t, StageRendering.Terminal())
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "video/mp4", ContentTypeFor("intro-1.mp4"))
	assert.Equal(t, "video/webm", ContentTypeFor("intro-1.WEBM"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("intro-1"))
}
