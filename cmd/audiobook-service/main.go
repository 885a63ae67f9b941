// main package for the audiobook-service
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/audiobook-service/internal/assemble"
	"github.com/book-expert/audiobook-service/internal/cache"
	"github.com/book-expert/audiobook-service/internal/chunker"
	"github.com/book-expert/audiobook-service/internal/config"
	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/extract"
	"github.com/book-expert/audiobook-service/internal/jobstore"
	"github.com/book-expert/audiobook-service/internal/notify"
	"github.com/book-expert/audiobook-service/internal/objectstore"
	"github.com/book-expert/audiobook-service/internal/observability"
	"github.com/book-expert/audiobook-service/internal/pipeline"
	"github.com/book-expert/audiobook-service/internal/ttsclient"
	"github.com/book-expert/audiobook-service/internal/worker"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagInputDesc    = "Source document to convert"
	flagVoiceDesc    = "Preset voice identifier"
	flagLanguageDesc = "Language tag for synthesis"
	flagFormatDesc   = "Output format: m4b or mp3"
	flagRefDesc      = "Reference audio (.wav) for voice cloning"
	flagRefTextDesc  = "Transcript of the reference audio (derived automatically when omitted)"
	flagOutputDesc   = "Output directory (overrides configuration)"
	flagHealthDesc   = "Check TTS service health and exit"
	flagListenDesc   = "Listen for job submissions on NATS instead of converting one document"
)

var (
	errInputRequired   = errors.New("an input document is required (use -input)")
	errJobNotCompleted = errors.New("job did not complete")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	input    string
	voice    string
	language string
	format   string
	refAudio string
	refText  string
	output   string
	health   bool
	listen   bool
}

func parseFlags() *appFlags {
	flags := &appFlags{}

	flag.StringVar(&flags.input, "input", "", flagInputDesc)
	flag.StringVar(&flags.voice, "voice", "default", flagVoiceDesc)
	flag.StringVar(&flags.language, "language", "en", flagLanguageDesc)
	flag.StringVar(&flags.format, "format", assemble.FormatM4B, flagFormatDesc)
	flag.StringVar(&flags.refAudio, "ref-audio", "", flagRefDesc)
	flag.StringVar(&flags.refText, "ref-text", "", flagRefTextDesc)
	flag.StringVar(&flags.output, "output", "", flagOutputDesc)
	flag.BoolVar(&flags.health, "health", false, flagHealthDesc)
	flag.BoolVar(&flags.listen, "listen", false, flagListenDesc)
	flag.Parse()

	return flags
}

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "audiobook-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	flags := parseFlags()

	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	gateway := ttsclient.New(ttsclient.Options{
		BaseURL:               cfg.TTS.BaseURL,
		STTBaseURL:            cfg.TTS.STTBaseURL,
		MaxAttempts:           cfg.TTS.MaxAttempts,
		BackoffSeconds:        cfg.TTS.BackoffSeconds,
		ConnectTimeoutSeconds: cfg.TTS.ConnectTimeoutSeconds,
		RequestTimeoutSeconds: cfg.TTS.RequestTimeoutSeconds,
		MaxTokensPreset:       cfg.TTS.MaxTokensPreset,
		MaxTokensClone:        cfg.TTS.MaxTokensClone,
	}, finalLog)

	if flags.health {
		return checkHealth(gateway)
	}

	if flags.listen {
		return runListener(cfg, gateway, finalLog)
	}

	if flags.input == "" {
		return errInputRequired
	}

	return runConversion(flags, cfg, gateway, finalLog)
}

func checkHealth(gateway *ttsclient.Client) error {
	err := gateway.Health(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "TTS service is not healthy: %v\n", err)

		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Println("TTS service is healthy")

	return nil
}

// services holds everything built on top of one NATS connection.
type services struct {
	natsConnection *nats.Conn
	store          *jobstore.Store
	manager        *pipeline.Manager
}

func buildServices(cfg *config.Config, gateway *ttsclient.Client, log *logger.Logger) (*services, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := jobstore.New(jetstreamContext, cfg.NATS.JobsBucket)
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to open job store: %w", err)
	}

	audioCache, err := newAudioCache(cfg, jetstreamContext)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	notifier := notify.New(natsConnection, cfg.NATS.AudioChunkCreatedSubject, log)

	orchestrator := pipeline.New(
		extract.NewTextExtractor(),
		chunker.New(cfg.Chunker.TargetWords, cfg.Chunker.MaxWords),
		audioCache,
		gateway,
		assemble.New(cfg.Assembly.FFmpegPath, log),
		store,
		notifier,
		log,
	)

	return &services{
		natsConnection: natsConnection,
		store:          store,
		manager:        pipeline.NewManager(orchestrator, log),
	}, nil
}

func newAudioCache(cfg *config.Config, jetstreamContext nats.JetStreamContext) (core.AudioCache, error) {
	if cfg.Paths.CacheBackend == "nats" {
		store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioCacheBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio cache bucket: %w", err)
		}

		return store, nil
	}

	store, err := cache.New(cfg.Paths.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio cache: %w", err)
	}

	return store, nil
}

func runListener(cfg *config.Config, gateway *ttsclient.Client, log *logger.Logger) error {
	svc, err := buildServices(cfg, gateway, log)
	if err != nil {
		return err
	}
	defer svc.natsConnection.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.MetricsAddr != "" {
		metricsServer := observability.NewMetricsServer(cfg.Observability.MetricsAddr)

		go func() {
			serveErr := metricsServer.ListenAndServe()
			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				log.Error("Metrics endpoint failed: %v", serveErr)
			}
		}()

		defer func() {
			closeErr := metricsServer.Close()
			if closeErr != nil {
				log.Warn("Failed to close metrics endpoint: %v", closeErr)
			}
		}()

		log.Info("Metrics endpoint listening on %s", cfg.Observability.MetricsAddr)
	}

	natsWorker := worker.NewNatsWorker(
		svc.natsConnection, cfg.NATS.SubmitSubject, svc.store, svc.manager, os.ReadFile, log)

	log.System("Listening for job submissions on subject: %s", cfg.NATS.SubmitSubject)

	err = natsWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("listener stopped: %w", err)
	}

	return nil
}

func runConversion(
	flags *appFlags,
	cfg *config.Config,
	gateway *ttsclient.Client,
	log *logger.Logger,
) error {
	svc, err := buildServices(cfg, gateway, log)
	if err != nil {
		return err
	}
	defer svc.natsConnection.Close()

	var refAudio []byte
	if flags.refAudio != "" {
		refAudio, err = os.ReadFile(flags.refAudio)
		if err != nil {
			return fmt.Errorf("failed to read reference audio: %w", err)
		}
	}

	outputDir := cfg.Assembly.OutputDir
	if flags.output != "" {
		outputDir = flags.output
	}

	job, err := svc.store.Create(core.Job{
		Filename: flags.input,
		Format:   flags.format,
		Voice:    flags.voice,
		Language: flags.language,
		UseClone: len(refAudio) > 0,
	})
	if err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}

	log.System("Job %s created for %s", job.ID, flags.input)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = svc.manager.Start(ctx, pipeline.Request{
		JobID:     job.ID,
		InputPath: flags.input,
		OutputDir: outputDir,
		Format:    flags.format,
		Voice:     flags.voice,
		Language:  flags.language,
		RefAudio:  refAudio,
		RefText:   flags.refText,
	})
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}

	svc.manager.Wait(job.ID)

	finished, err := svc.store.Get(job.ID)
	if err != nil {
		return fmt.Errorf("failed to read final job state: %w", err)
	}

	if finished.Status != core.StatusCompleted {
		return fmt.Errorf("%w: job %s ended with status %s: %s",
			errJobNotCompleted, finished.ID, finished.Status, finished.Error)
	}

	fmt.Printf("Job %s completed\n", finished.ID)

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
