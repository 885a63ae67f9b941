// Package worker provides a NATS listener that accepts conversion job
// submissions and runs them through the pipeline.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/jobstore"
	"github.com/book-expert/audiobook-service/internal/pipeline"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

var (
	// ErrInputPathEmpty indicates that a submission named no document.
	ErrInputPathEmpty = errors.New("input path cannot be empty")
	// ErrFormatEmpty indicates that a submission named no output format.
	ErrFormatEmpty = errors.New("format cannot be empty")
)

// SubmitRequest is the JSON payload accepted on the submission subject.
type SubmitRequest struct {
	InputPath    string `json:"input_path"`
	OutputDir    string `json:"output_dir"`
	Format       string `json:"format"`
	Voice        string `json:"voice"`
	Language     string `json:"language"`
	RefAudioPath string `json:"ref_audio_path,omitempty"`
	RefText      string `json:"ref_text,omitempty"`
}

// SubmitReply is sent back to the requester once the job record exists.
type SubmitReply struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NatsWorker listens for job submissions on a NATS subject and starts them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          *jobstore.Store
	manager        *pipeline.Manager
	readFile       func(string) ([]byte, error)
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. readFile loads
// reference audio from a submission's path; nil defaults to os.ReadFile.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store *jobstore.Store,
	manager *pipeline.Manager,
	readFile func(string) ([]byte, error),
	log *logger.Logger,
) *NatsWorker {
	if readFile == nil {
		readFile = os.ReadFile
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		manager:        manager,
		readFile:       readFile,
		log:            log,
	}
}

// Run starts the worker and begins listening for submissions. It blocks
// until ctx is done, then drains the subscription. Jobs already running keep
// running under ctx and finish cooperatively.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, func(msg *nats.Msg) {
		w.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(ctx context.Context, msg *nats.Msg) {
	request, err := parseAndValidateRequest(msg.Data)
	if err != nil {
		w.log.Error("Rejected job submission: %v", err)
		w.reply(msg, &SubmitReply{JobID: "", Status: "rejected", Error: err.Error()})

		return
	}

	jobID, err := w.startJob(ctx, request)
	if err != nil {
		w.log.Error("Failed to start job for %s: %v", request.InputPath, err)
		w.reply(msg, &SubmitReply{JobID: jobID, Status: "rejected", Error: err.Error()})

		return
	}

	w.log.Info("Accepted job %s for %s", jobID, request.InputPath)
	w.reply(msg, &SubmitReply{JobID: jobID, Status: string(core.StatusQueued), Error: ""})
}

func (w *NatsWorker) startJob(ctx context.Context, request *SubmitRequest) (string, error) {
	var (
		refAudio []byte
		err      error
	)

	if request.RefAudioPath != "" {
		refAudio, err = w.readFile(request.RefAudioPath)
		if err != nil {
			return "", fmt.Errorf("failed to read reference audio: %w", err)
		}
	}

	job, err := w.store.Create(core.Job{
		Filename: request.InputPath,
		Format:   request.Format,
		Voice:    request.Voice,
		Language: request.Language,
		UseClone: len(refAudio) > 0,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create job record: %w", err)
	}

	err = w.manager.Start(ctx, pipeline.Request{
		JobID:     job.ID,
		InputPath: request.InputPath,
		OutputDir: request.OutputDir,
		Format:    request.Format,
		Voice:     request.Voice,
		Language:  request.Language,
		RefAudio:  refAudio,
		RefText:   request.RefText,
	})
	if err != nil {
		return job.ID, fmt.Errorf("failed to start pipeline: %w", err)
	}

	return job.ID, nil
}

func parseAndValidateRequest(data []byte) (*SubmitRequest, error) {
	var request SubmitRequest

	err := json.Unmarshal(data, &request)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal submission: %w", err)
	}

	if request.InputPath == "" {
		return nil, ErrInputPathEmpty
	}

	if request.Format == "" {
		return nil, ErrFormatEmpty
	}

	return &request, nil
}

func (w *NatsWorker) reply(msg *nats.Msg, submitReply *SubmitReply) {
	if msg.Reply == "" {
		return
	}

	data, err := json.Marshal(submitReply)
	if err != nil {
		w.log.Error("Failed to marshal submission reply: %v", err)

		return
	}

	err = msg.Respond(data)
	if err != nil {
		w.log.Error("Failed to respond to submission: %v", err)
	}
}
