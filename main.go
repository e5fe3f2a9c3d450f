package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	driver "github.com/arangodb/go-driver"
	drhttp "github.com/arangodb/go-driver/http"
	flags "github.com/jessevdk/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bondifuzz/crash-analyzer/config"
	"github.com/bondifuzz/crash-analyzer/coordinator"
	"github.com/bondifuzz/crash-analyzer/fetch"
	"github.com/bondifuzz/crash-analyzer/mq"
	"github.com/bondifuzz/crash-analyzer/store"
)

// LogFilename is the rotating log file name under cfg.LogDir.
const LogFilename = "crash-analyzer.log"

// main is the entry point of the application. It runs the main logic and
// exits with the appropriate status code.
func main() {
	os.Exit(run())
}

// run loads configuration, wires the message-queue pool, the crash
// record store, the input fetcher and the coordinator around each other,
// and blocks until a shutdown signal arrives or a worker fails fatally.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, LogFilename),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     28,
		Compress:   true,
	}
	defer logFile.Close()
	multiWriter := io.MultiWriter(os.Stdout, logFile)
	logger := slog.New(slog.NewTextHandler(multiWriter, nil))

	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	// If output is piped to another program and then a SIGINT is sent to
	// the process group, we will receive a SIGPIPE when the other program
	// closes the pipe. In that case, we want the SIGINT handler below to
	// clean things up rather than terminating immediately.
	signal.Ignore(syscall.SIGPIPE)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received interrupt signal; shutting down gracefully...")
		cancelApp()
	}()

	if err := runWorker(appCtx, logger, cfg); err != nil {
		logger.Error("Worker exited with error", "error", err)
		return 1
	}

	logger.Info("Program exited.")
	return 0
}

// runWorker builds every collaborator named in spec.md §9's component
// diagram and runs the mq.Pool until ctx is cancelled.
func runWorker(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.MQ.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.URL != "" {
			o.BaseEndpoint = &cfg.S3.URL
		}
	})
	fetcher := fetch.NewS3Fetcher(s3Client, cfg.S3.BucketData)

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.MQ.URL != "" {
			o.BaseEndpoint = &cfg.MQ.URL
		}
	})

	unsentPath := filepath.Join(cfg.LogDir, "unsent-events.jsonl")
	unsent, err := mq.NewFileUnsentStore(unsentPath)
	if err != nil {
		return fmt.Errorf("opening unsent-events store: %w", err)
	}
	defer unsent.Close()

	producer := mq.NewSQSProducer(sqsClient, cfg.MQ.QueueAPIGateway, cfg.MQ.QueueAPIGateway, unsent)
	consumer := mq.NewSQSConsumer(sqsClient, cfg.MQ.QueueCrashAnalyzer, cfg.MQ.QueueDLQ,
		20, int32(cfg.MQ.DrainTimeout.Seconds()))

	if err := mq.VerifyDeadLetterQueueWired(ctx, sqsClient, cfg.MQ.QueueCrashAnalyzer); err != nil {
		return fmt.Errorf("verifying dead-letter queue wiring: %w", err)
	}

	collection, err := connectArango(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	if err := store.EnsureUniqueIndex(ctx, collection); err != nil {
		return fmt.Errorf("bootstrapping database: %w", err)
	}
	crashStore := store.NewArangoStore(collection)

	coord := coordinator.New(logger, fetcher, crashStore, producer, cfg.PreviewMaxSize)

	pool := mq.NewPool(logger, consumer, coord, cfg.MQ.NumWorkers, 10)
	return pool.Run(ctx)
}

// connectArango opens the configured collection, creating the database
// and collection on first run, grounded on ArangoDBInitializer.do_init's
// get-or-create bootstrap sequence.
func connectArango(ctx context.Context, cfg config.Database) (driver.Collection, error) {
	conn, err := drhttp.NewConnection(drhttp.ConnectionConfig{
		Endpoints: []string{cfg.URL},
	})
	if err != nil {
		return nil, fmt.Errorf("creating connection: %w", err)
	}

	client, err := driver.NewClient(driver.ClientConfig{
		Connection:     conn,
		Authentication: driver.BasicAuthentication(cfg.Username, cfg.Password),
	})
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	db, err := client.Database(ctx, cfg.Name)
	if driver.IsNotFound(err) {
		db, err = client.CreateDatabase(ctx, cfg.Name, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", cfg.Name, err)
	}

	coll, err := db.Collection(ctx, cfg.Collection)
	if driver.IsNotFound(err) {
		coll, err = db.CreateCollection(ctx, cfg.Collection, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("opening collection %q: %w", cfg.Collection, err)
	}

	return coll, nil
}
