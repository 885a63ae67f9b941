package worker_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/audiobook-service/internal/cache"
	"github.com/book-expert/audiobook-service/internal/chunker"
	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/jobstore"
	"github.com/book-expert/audiobook-service/internal/pipeline"
	"github.com/book-expert/audiobook-service/internal/worker"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		closeErr := log.Close()
		require.NoError(t, closeErr)
	})

	return log
}

type fakeGenerator struct{}

func (fakeGenerator) GeneratePreset(_ context.Context, text, _, _ string) ([]byte, error) {
	return []byte(text), nil
}

func (fakeGenerator) GenerateClone(_ context.Context, text string, _ []byte, _, _ string) ([]byte, error) {
	return []byte(text), nil
}

func (fakeGenerator) Transcribe(_ context.Context, _ []byte) (string, error) {
	return "transcript", nil
}

type fakeAssembler struct{}

func (fakeAssembler) ChunkDuration(audio []byte) (float64, error) {
	return float64(len(audio)), nil
}

func (fakeAssembler) AssembleChapter(chunks [][]byte, _ []bool) ([]byte, error) {
	var joined []byte
	for _, chunk := range chunks {
		joined = append(joined, chunk...)
	}

	return joined, nil
}

func (fakeAssembler) AssembleBook(
	_ context.Context, outputDir string, _ [][]byte,
	_ *core.ExtractResult, _ []core.ChapterTiming, _ string,
) (string, error) {
	return outputDir + "/book.m4b", nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, _ string) (*core.ExtractResult, error) {
	return &core.ExtractResult{
		Chapters: []core.Chapter{
			{Title: "One", Text: "A short test chapter."},
		},
		Metadata:   core.BookMetadata{},
		CoverImage: nil,
	}, nil
}

type harness struct {
	conn    *nats.Conn
	store   *jobstore.Store
	manager *pipeline.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	conn, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		natsServer.Shutdown()
	})

	jetstreamContext, err := conn.JetStream()
	require.NoError(t, err)

	store, err := jobstore.New(jetstreamContext, "WORKER_TEST_JOBS")
	require.NoError(t, err)

	audioCache, err := cache.New(t.TempDir())
	require.NoError(t, err)

	log := testLogger(t)
	orchestrator := pipeline.New(
		fakeExtractor{},
		chunker.New(5, 8),
		audioCache,
		fakeGenerator{},
		fakeAssembler{},
		store,
		nil,
		log,
	)

	return &harness{
		conn:    conn,
		store:   store,
		manager: pipeline.NewManager(orchestrator, log),
	}
}

func startWorker(t *testing.T, fixture *harness, subject string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	natsWorker := worker.NewNatsWorker(
		fixture.conn, subject, fixture.store, fixture.manager, nil, testLogger(t))

	errChan := make(chan error, 1)

	go func() {
		errChan <- natsWorker.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errChan)
	})

	// Let the subscription land before the first request.
	require.NoError(t, fixture.conn.Flush())
}

func TestWorkerAcceptsAndRunsJob(t *testing.T) {
	t.Parallel()

	fixture := newHarness(t)
	startWorker(t, fixture, "jobs.submit")

	request := worker.SubmitRequest{
		InputPath: filepath.Join(t.TempDir(), "book.txt"),
		OutputDir: t.TempDir(),
		Format:    "m4b",
		Voice:     "narrator",
		Language:  "en",
	}

	payload, err := json.Marshal(request)
	require.NoError(t, err)

	replyMsg, err := fixture.conn.Request("jobs.submit", payload, 5*time.Second)
	require.NoError(t, err)

	var reply worker.SubmitReply

	err = json.Unmarshal(replyMsg.Data, &reply)
	require.NoError(t, err)
	require.Empty(t, reply.Error)
	require.NotEmpty(t, reply.JobID)
	assert.Equal(t, string(core.StatusQueued), reply.Status)

	fixture.manager.Wait(reply.JobID)

	job, err := fixture.store.Get(reply.JobID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, job.Status)
}

func TestWorkerReadsReferenceAudioFromDisk(t *testing.T) {
	t.Parallel()

	fixture := newHarness(t)
	startWorker(t, fixture, "jobs.submit.clone")

	refPath := filepath.Join(t.TempDir(), "reference.wav")
	require.NoError(t, os.WriteFile(refPath, []byte("reference sample"), 0o600))

	request := worker.SubmitRequest{
		InputPath:    filepath.Join(t.TempDir(), "book.txt"),
		OutputDir:    t.TempDir(),
		Format:       "m4b",
		Language:     "en",
		RefAudioPath: refPath,
	}

	payload, err := json.Marshal(request)
	require.NoError(t, err)

	replyMsg, err := fixture.conn.Request("jobs.submit.clone", payload, 5*time.Second)
	require.NoError(t, err)

	var reply worker.SubmitReply

	err = json.Unmarshal(replyMsg.Data, &reply)
	require.NoError(t, err)
	require.Empty(t, reply.Error)

	fixture.manager.Wait(reply.JobID)

	job, err := fixture.store.Get(reply.JobID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, job.Status)
	assert.True(t, job.UseClone)
}

func TestWorkerRejectsInvalidSubmission(t *testing.T) {
	t.Parallel()

	fixture := newHarness(t)
	startWorker(t, fixture, "jobs.submit.invalid")

	payload, err := json.Marshal(worker.SubmitRequest{Format: "m4b"})
	require.NoError(t, err)

	replyMsg, err := fixture.conn.Request("jobs.submit.invalid", payload, 5*time.Second)
	require.NoError(t, err)

	var reply worker.SubmitReply

	err = json.Unmarshal(replyMsg.Data, &reply)
	require.NoError(t, err)
	assert.Equal(t, "rejected", reply.Status)
	assert.Contains(t, reply.Error, "input path")
}
