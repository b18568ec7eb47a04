package runner

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"imgopt-server-go/internal/domain/archive"
	domainimage "imgopt-server-go/internal/domain/image"
	"imgopt-server-go/internal/domain/job"
	"imgopt-server-go/internal/domain/job/events"
	"imgopt-server-go/internal/domain/job/registry"
	"imgopt-server-go/internal/domain/stats"
	"imgopt-server-go/internal/platform/logging"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.New(logging.Config{Level: "error"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, image.White)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var members []archive.File
	for name, data := range files {
		members = append(members, archive.File{Name: name, Data: data})
	}
	payload, err := archive.CreateArchive(members)
	if err != nil {
		t.Fatalf("build zip: %v", err)
	}
	return payload
}

func newRunner(t *testing.T, reg registry.Store, hub *events.Hub) *Runner {
	t.Helper()
	r, err := New(
		Config{Workers: 1, QueueDepth: 4, DownloadsDir: t.TempDir()},
		reg, hub, stats.NewMemory(), testLogger(t),
	)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	t.Cleanup(r.Stop)
	return r
}

func drain(t *testing.T, sub *events.Subscription) []events.Event {
	t.Helper()
	var got []events.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for terminal event, got %d events", len(got))
		}
	}
}

func TestRunnerProcessesBatch(t *testing.T) {
	reg := registry.NewMemory(registry.Config{Retention: time.Minute})
	hub := events.NewHub(64)
	r := newRunner(t, reg, hub)

	jobID := "job-1"
	opts := domainimage.Options{JPEGQuality: 60}
	if err := reg.Create(context.Background(), job.Job{ID: jobID, State: job.StateRunning, Options: opts}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	sub := hub.Open(jobID).Subscribe()

	payload := buildZip(t, map[string][]byte{
		"photos/a.jpg": encodeJPEG(t, 64, 64),
		"photos/b.jpg": encodeJPEG(t, 32, 32),
	})
	if err := r.Submit(Batch{JobID: jobID, Archive: payload, Options: opts}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := drain(t, sub)
	if len(got) == 0 {
		t.Fatal("expected events")
	}

	last := got[len(got)-1]
	complete, ok := last.(events.Complete)
	if !ok {
		t.Fatalf("expected terminal complete event, got %+v", last)
	}
	if complete.ZipFile != complete.ArtifactID+".zip" {
		t.Fatalf("zip file name mismatch: %+v", complete)
	}

	fileEvents := 0
	for _, ev := range got {
		if ev.Kind() == "file_complete" {
			fileEvents++
		}
	}
	if fileEvents != 2 {
		t.Fatalf("expected 2 file_complete events, got %d", fileEvents)
	}

	j, err := reg.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.State != job.StateDone || j.Processed != 2 || j.Total != 2 {
		t.Fatalf("unexpected job after run: %+v", j)
	}
	if j.ArtifactID != complete.ArtifactID {
		t.Fatalf("registry artifact %q does not match event %q", j.ArtifactID, complete.ArtifactID)
	}

	raw, err := os.ReadFile(j.ArtifactPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	out, err := archive.ExtractEntries(raw)
	if err != nil {
		t.Fatalf("artifact is not a valid archive: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 members in artifact, got %d", len(out))
	}
	if filepath.Base(j.ArtifactPath) != complete.ZipFile {
		t.Fatalf("artifact path %q does not match advertised file %q", j.ArtifactPath, complete.ZipFile)
	}
}

func TestRunnerProgressNeverDecreases(t *testing.T) {
	reg := registry.NewMemory(registry.Config{Retention: time.Minute})
	hub := events.NewHub(64)
	r := newRunner(t, reg, hub)

	jobID := "job-progress"
	opts := domainimage.Options{JPEGQuality: 70}
	if err := reg.Create(context.Background(), job.Job{ID: jobID, State: job.StateRunning, Options: opts}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	sub := hub.Open(jobID).Subscribe()

	payload := buildZip(t, map[string][]byte{
		"a.jpg": encodeJPEG(t, 16, 16),
		"b.jpg": encodeJPEG(t, 24, 24),
		"c.jpg": encodeJPEG(t, 32, 32),
	})
	if err := r.Submit(Batch{JobID: jobID, Archive: payload, Options: opts}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := drain(t, sub)
	var values []float64
	for _, ev := range got {
		if p, ok := ev.(events.Progress); ok {
			values = append(values, p.Progress)
		}
	}
	if len(values) == 0 {
		t.Fatal("expected progress events")
	}
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			t.Fatalf("progress went backwards: %v", values)
		}
	}
	if last := values[len(values)-1]; last != 100 {
		t.Fatalf("expected final progress 100, got %v (all: %v)", last, values)
	}

	complete, ok := got[len(got)-1].(events.Complete)
	if !ok {
		t.Fatalf("expected terminal complete event, got %+v", got[len(got)-1])
	}
	if complete.Progress != 100 {
		t.Fatalf("complete event must carry progress 100, got %v", complete.Progress)
	}
}

func TestRunnerFailsEmptyArchive(t *testing.T) {
	reg := registry.NewMemory(registry.Config{Retention: time.Minute})
	hub := events.NewHub(64)
	r := newRunner(t, reg, hub)

	jobID := "job-empty"
	if err := reg.Create(context.Background(), job.Job{ID: jobID, State: job.StateRunning}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	sub := hub.Open(jobID).Subscribe()

	payload := buildZip(t, map[string][]byte{"readme.txt": []byte("not an image")})
	if err := r.Submit(Batch{JobID: jobID, Archive: payload}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := drain(t, sub)
	if len(got) != 1 {
		t.Fatalf("expected only the terminal event, got %d", len(got))
	}
	if _, ok := got[0].(events.Failed); !ok {
		t.Fatalf("expected failed event, got %+v", got[0])
	}

	j, err := reg.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.State != job.StateFailed || j.FailReason == "" {
		t.Fatalf("expected failed job with reason, got %+v", j)
	}
}

func TestRunnerIsolatesCorruptMember(t *testing.T) {
	reg := registry.NewMemory(registry.Config{Retention: time.Minute})
	hub := events.NewHub(64)
	r := newRunner(t, reg, hub)

	jobID := "job-corrupt"
	opts := domainimage.Options{JPEGQuality: 80}
	if err := reg.Create(context.Background(), job.Job{ID: jobID, State: job.StateRunning, Options: opts}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	sub := hub.Open(jobID).Subscribe()

	corrupt := []byte{0xFF, 0xD8, 0xFF, 0x00, 0x01}
	payload := buildZip(t, map[string][]byte{
		"good.jpg":   encodeJPEG(t, 16, 16),
		"broken.jpg": corrupt,
	})
	if err := r.Submit(Batch{JobID: jobID, Archive: payload, Options: opts}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := drain(t, sub)
	last := got[len(got)-1]
	if _, ok := last.(events.Complete); !ok {
		t.Fatalf("corrupt member must not fail the job, got terminal %+v", last)
	}

	var sawError bool
	for _, ev := range got {
		if fc, ok := ev.(events.FileComplete); ok && fc.FileName == "broken.jpg" {
			if fc.Status != string(domainimage.StatusError) || fc.Error == "" {
				t.Fatalf("expected error status with detail, got %+v", fc)
			}
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("no file_complete event for the corrupt member")
	}

	j, _ := reg.Get(context.Background(), jobID)
	raw, err := os.ReadFile(j.ArtifactPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	out, err := archive.ExtractEntries(raw)
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	found := false
	for _, entry := range out {
		if entry.Name == "broken.jpg" {
			found = true
			if !bytes.Equal(entry.Data, corrupt) {
				t.Fatal("corrupt member bytes must pass through unchanged")
			}
		}
	}
	if !found {
		t.Fatal("corrupt member missing from artifact")
	}
}

func TestRunnerFailJob(t *testing.T) {
	reg := registry.NewMemory(registry.Config{Retention: time.Minute})
	hub := events.NewHub(64)
	r := newRunner(t, reg, hub)

	jobID := "job-stale"
	if err := reg.Create(context.Background(), job.Job{ID: jobID, State: job.StateRunning}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	sub := hub.Open(jobID).Subscribe()

	r.FailJob(context.Background(), jobID, "timed out")

	got := drain(t, sub)
	if len(got) != 1 || got[0].Kind() != "failed" {
		t.Fatalf("expected single failed event, got %+v", got)
	}
	j, _ := reg.Get(context.Background(), jobID)
	if j.State != job.StateFailed || j.FailReason != "timed out" {
		t.Fatalf("unexpected job: %+v", j)
	}
}
