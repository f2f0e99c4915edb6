package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"tryonapi/dbhelper"
	"tryonapi/history"
	"tryonapi/languageutil"
	"tryonapi/models"
	"tryonapi/orchestrator"
	"tryonapi/services"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const usage = `usage:
  tryon run -subject photo.jpg -garment shirt.png [-n 1] [-out dir] [-select i]
  tryon shell
  tryon history list
  tryon history clear`

type app struct {
	cfg          *services.Config
	db           *gorm.DB
	store        *history.SQLiteStore
	urls         services.URLCacheServiceProvider
	orchestrator *orchestrator.Orchestrator
	dispatcher   *orchestrator.SerialDispatcher
}

func newApp(ctx context.Context, cfg *services.Config) (*app, error) {
	db, err := dbhelper.SetupDB(cfg.HistoryDBPath)
	if err != nil {
		return nil, err
	}

	var blobs services.BlobStore
	var urls services.URLCacheServiceProvider
	if cfg.R2Configured() {
		awsService := services.NewAWSService(cfg)
		if err := awsService.InitClients(ctx); err != nil {
			dbhelper.Close(db)
			return nil, fmt.Errorf("failed to init R2 clients: %w", err)
		}
		urlCache, err := services.NewURLCacheService(awsService)
		if err != nil {
			dbhelper.Close(db)
			return nil, err
		}
		blobs, urls = awsService, urlCache
		log.Debug().Str("bucket", cfg.R2BucketName).Msg("history images stored in R2")
	} else {
		fileBlobs, err := history.NewFileBlobStore(cfg.HistoryBlobDir)
		if err != nil {
			dbhelper.Close(db)
			return nil, err
		}
		blobs = fileBlobs
	}
	store := history.NewSQLiteStore(db, blobs, cfg.HistoryLimit)

	entitlements := &services.Entitlements{
		AppUserID:   cfg.RevenueCatAppUserID,
		Entitlement: cfg.RevenueCatEntitlement,
		Ledger:      store,
		DailyLimit:  cfg.FreeDailyLimit,
	}
	if cfg.RevenueCatAPIKey != "" {
		entitlements.Subscriptions = services.NewRevenueCatClient(cfg.RevenueCatAPIKey)
	}

	mode, err := services.ParseEncodingMode(cfg.TryOnEncoding)
	if err != nil {
		store.Close()
		dbhelper.Close(db)
		return nil, err
	}

	opts := orchestrator.DefaultOptions()
	opts.MaxFreeRetries = cfg.FreeRetries
	opts.Language = models.ParseLanguage(cfg.Language)

	dispatcher := orchestrator.NewSerialDispatcher(32)
	o := orchestrator.New(
		services.NewImageTranscoder(),
		orchestrator.NewRemoteClient(cfg.TryOnAPIURL, mode, orchestrator.DefaultRemoteTimeout),
		store,
		entitlements,
		opts,
	)
	o.Dispatcher = dispatcher
	if cfg.AnalyticsEndpoint != "" {
		o.Tracker = &services.BeaconTracker{Sender: services.NewBeaconSender(cfg.AnalyticsEndpoint, cfg.AnalyticsDomain)}
	}
	o.OnStateChange = func(change orchestrator.StateChange) {
		fmt.Fprintf(os.Stderr, "%s...\n", stateLabel(change.To))
	}

	return &app{cfg: cfg, db: db, store: store, urls: urls, orchestrator: o, dispatcher: dispatcher}, nil
}

func (a *app) Close() {
	a.dispatcher.Close()
	a.store.Close()
	dbhelper.Close(a.db)
}

func stateLabel(state orchestrator.State) string {
	return languageutil.TitleCaser.String(strings.ReplaceAll(string(state), "_", " "))
}

func loadAsset(path string) (*models.ImageAsset, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	asset, err := models.ReadImageAsset(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return asset, nil
}

func writeCandidates(dir string, result *orchestrator.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for i, candidate := range result.Candidates {
		if candidate == nil {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("tryon_%s_%d%s", result.ID[:8], i, extensionFor(candidate)))
		if err := os.WriteFile(path, candidate, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func printFailure(err error) {
	if failure, ok := orchestrator.AsFailure(err); ok {
		fmt.Fprintf(os.Stderr, "%s: %s\n", failure.Title, failure.Message)
		log.Debug().Err(failure.Err).Msg("attempt failed")
		return
	}
	fmt.Fprintln(os.Stderr, err)
}

func runCommand(ctx context.Context, a *app, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	subjectPath := fs.String("subject", "", "photo of the person")
	garmentPath := fs.String("garment", "", "photo of the clothing item")
	count := fs.Int("n", 1, "number of images to generate (1-4)")
	outDir := fs.String("out", ".", "directory for generated images")
	selectIndex := fs.Int("select", -1, "candidate to keep in history when n > 1")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	subject, err := loadAsset(*subjectPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	garment, err := loadAsset(*garmentPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	a.orchestrator.SetSubject(subject)
	a.orchestrator.SetGarment(garment)

	result, err := a.orchestrator.TryOn(ctx, *count)
	if err != nil {
		printFailure(err)
		return 1
	}
	if result.SaveErr != nil {
		fmt.Fprintf(os.Stderr, "not saved to history: %v\n", result.SaveErr)
	}
	if !result.Committed && *selectIndex >= 0 {
		if _, err := a.orchestrator.Select(ctx, result.ID, *selectIndex); err != nil {
			printFailure(err)
			return 1
		}
	}
	paths, err := writeCandidates(*outDir, result)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for _, path := range paths {
		fmt.Println(path)
	}
	return 0
}

func historyCommand(ctx context.Context, a *app, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	switch args[0] {
	case "list":
		return listHistory(ctx, a)
	case "clear":
		if err := a.store.Clear(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println("history cleared")
		return 0
	}
	fmt.Fprintln(os.Stderr, usage)
	return 2
}

func listHistory(ctx context.Context, a *app) int {
	entries, err := a.store.List(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Println("no try-ons yet")
		return 0
	}
	for _, entry := range entries {
		location := entry.ResultKey
		if a.urls != nil {
			if url, err := a.urls.GetReadURL(ctx, entry.ResultKey); err == nil {
				location = url
			} else {
				log.Warn().Err(err).Str("key", entry.ResultKey).Msg("failed to presign history image")
			}
		}
		fmt.Printf("%s  %-14s  %8s  %s\n",
			entry.ID[:8],
			humanize.Time(entry.Timestamp),
			humanize.Bytes(uint64(len(entry.ResultImage))),
			location,
		)
	}
	return 0
}

func main() {
	services.LoadEnvFile(".env")
	cfg := services.LoadConfig()
	services.SetupLogger(cfg.Env, cfg.LogLevel)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}

	var code int
	switch os.Args[1] {
	case "run":
		code = runCommand(ctx, a, os.Args[2:])
	case "shell":
		code = runShell(ctx, a, os.Stdin, os.Stdout)
	case "history":
		code = historyCommand(ctx, a, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		code = 2
	}
	a.Close()
	os.Exit(code)
}
