package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/bobch27/signupwatch/internal/browser"
	"github.com/bobch27/signupwatch/internal/storage"
	"github.com/bobch27/signupwatch/sdk"
)

type watchResult struct {
	website   string
	status    sdk.Status
	watchErrs []string
}

// watchWebsites opens every website in a headless browser, attaches the SDK and
// records what it detected
func watchWebsites(ctx context.Context, config config, websites []*website) ([]watchResult, error) {
	var results []watchResult

	level := slog.LevelInfo
	if config.sdk.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// persisted state shared by every tab
	stores, err := newStoreFactory(ctx, config)
	if err != nil {
		return nil, err
	}
	defer stores.close()

	// setup browser options
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)

	// create context with ExecAllocator
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// create browser context
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Printf))
	defer cancelBrowser()

	// start the browser with a blank page
	err = chromedp.Run(browserCtx, chromedp.Navigate("about:blank"))
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	for _, website := range websites {
		spinner := NewSpinner()
		spinner.Start(fmt.Sprintf("watching %s for %s", website.originalURL, config.watch))

		result := watchWebsite(browserCtx, config, website, stores, logger)

		spinner.Stop(len(result.watchErrs) == 0)
		results = append(results, result)
	}

	return results, nil
}

// watchWebsite opens the website in a new tab, attaches the SDK, watches for the
// configured duration and returns the final SDK status
func watchWebsite(ctx context.Context, config config, website *website, stores *storeFactory, logger *slog.Logger) watchResult {
	result := watchResult{website: website.originalURL}

	var errMu sync.Mutex
	addErr := func(msg string) {
		errMu.Lock()
		result.watchErrs = append(result.watchErrs, msg)
		errMu.Unlock()
	}

	// each website gets its own tab
	tabCtx, cancelTab := chromedp.NewContext(ctx)
	defer cancelTab()

	p, err := browser.Attach(tabCtx, logger)
	if err != nil {
		addErr(err.Error())
		return result
	}

	local, err := stores.forOrigin(ctx, website.origin())
	if err != nil {
		addErr(err.Error())
		return result
	}

	deps := sdk.Dependencies{
		Page:         p,
		LocalStore:   local,
		SessionStore: storage.NewMemory(),
		Logger:       logger.With("website", website.domain),
	}
	if config.banner != "" {
		deps.Banner = browser.NewBanner(p, config.banner)
	}

	watcher := sdk.New(deps)
	watcher.OnEvent(func(ev sdk.Event) {
		if ev.Type == sdk.EventReportFailed {
			addErr(fmt.Sprintf("%v report failed: %v", ev.Payload["report"], ev.Payload["error"]))
		}
	})

	// navigate browser to url
	loadCtx, cancelLoad := context.WithTimeout(tabCtx, config.timeout)
	err = chromedp.Run(loadCtx, chromedp.Navigate(website.originalURL))
	cancelLoad()
	if err != nil {
		addErr(fmt.Sprintf("failed to load page: %v", err))
		return result
	}

	// watch until watchCtx ends, then stop the detectors
	watchCtx, cancelWatch := context.WithTimeout(tabCtx, config.watch)
	defer cancelWatch()

	err = watcher.Init(watchCtx, config.sdk)
	if err != nil {
		addErr(err.Error())
		return result
	}

	<-watchCtx.Done()

	result.status = watcher.Status()
	watcher.StopDetection()
	watcher.Wait()

	return result
}

// storeFactory hands out origin-scoped persistent stores backed by SQLite, Redis, or
// memory when neither is configured
type storeFactory struct {
	config config
	sqlite *storage.SQLiteDB
	redis  []*storage.Redis
	memory map[string]storage.Store
}

func newStoreFactory(_ context.Context, config config) (*storeFactory, error) {
	f := &storeFactory{config: config, memory: map[string]storage.Store{}}

	if config.db != "" {
		db, err := storage.OpenSQLite(config.db)
		if err != nil {
			return nil, err
		}
		f.sqlite = db
	}

	return f, nil
}

func (f *storeFactory) forOrigin(ctx context.Context, origin string) (storage.Store, error) {
	switch {
	case f.sqlite != nil:
		return f.sqlite.Origin(origin), nil
	case f.config.redis != "":
		store, err := storage.NewRedis(ctx, storage.RedisOptions{
			URL:         f.config.redis,
			Origin:      origin,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		f.redis = append(f.redis, store)
		return store, nil
	default:
		if store, ok := f.memory[origin]; ok {
			return store, nil
		}
		store := storage.NewMemory()
		f.memory[origin] = store
		return store, nil
	}
}

func (f *storeFactory) close() {
	if f.sqlite != nil {
		f.sqlite.Close()
	}
	for _, r := range f.redis {
		r.Close()
	}
}
