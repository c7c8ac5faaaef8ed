package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"github.com/drummonds/piconverter/config"
	"github.com/drummonds/piconverter/engine/delivery"
	"github.com/drummonds/piconverter/queue"
)

// ErrInboxLocked is returned when another watcher already owns the inbox
var ErrInboxLocked = errors.New("inbox is already being watched")

const lockFileName = ".piconverter.lock"

// BatchResult summarises one pass over the inbox
type BatchResult struct {
	Converted []string
	Failed    []string
	Outputs   []string
}

// Watcher converts files dropped into an inbox directory and writes the results to an outbox
type Watcher struct {
	lane   *Lane
	config config.WatchConfig
	sink   *delivery.DirSink

	lock *flock.Flock
	cron *cron.Cron
	wg   sync.WaitGroup
}

// NewWatcher prepares a watcher for the configured tool. It does not start the schedule.
func NewWatcher(converter *Converter, previewDir string, watchConfig config.WatchConfig) (*Watcher, error) {
	tool, err := LookupTool(watchConfig.Tool)
	if err != nil {
		return nil, err
	}
	if watchConfig.Inbox == "" || watchConfig.Outbox == "" {
		return nil, fmt.Errorf("watch mode needs both an inbox and an outbox")
	}
	if watchConfig.Interval < 1 {
		watchConfig.Interval = 1
	}
	sink, err := delivery.NewDirSink(watchConfig.Outbox)
	if err != nil {
		return nil, err
	}
	sink.NoClobber = true

	return &Watcher{
		lane: &Lane{
			Tool:     tool,
			Queue:    queue.New(previewDir),
			Pipeline: NewPipeline(tool, converter),
		},
		config: watchConfig,
		sink:   sink,
		lock:   flock.New(filepath.Join(watchConfig.Inbox, lockFileName)),
	}, nil
}

// Start locks the inbox, runs one pass immediately and then one every interval.
// Passes never overlap.
func (w *Watcher) Start() error {
	locked, err := w.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock inbox %s: %w", w.config.Inbox, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrInboxLocked, w.config.Inbox)
	}

	pass := func() {
		if _, err := w.RunOnce(context.Background()); err != nil {
			Logger.Error("Watch pass failed", "inbox", w.config.Inbox, "error", err)
		}
	}

	// Run a pass immediately at startup in a goroutine
	Logger.Info("Running watch pass at startup", "tool", w.lane.Tool.Kind, "inbox", w.config.Inbox)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		pass()
	}()

	w.cron = cron.New()
	var watchJob cron.Job = cron.FuncJob(pass)
	watchJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(watchJob) //ensure we don't kick off another if old one is still running
	if _, err := w.cron.AddJob(fmt.Sprintf("@every %dm", w.config.Interval), watchJob); err != nil {
		w.lock.Unlock()
		return fmt.Errorf("schedule watch job: %w", err)
	}
	Logger.Info("Adding watch job scheduler", "interval_minutes", w.config.Interval)
	w.cron.Start()
	return nil
}

// Stop waits for a running pass to finish, then releases the inbox
func (w *Watcher) Stop() error {
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
	w.wg.Wait()
	w.lane.Queue.Close()
	return w.lock.Unlock()
}

// pending lists the files in the inbox the tool accepts, sorted by name
func (w *Watcher) pending() ([]string, error) {
	entries, err := os.ReadDir(w.config.Inbox)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(w.config.Inbox, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// RunOnce converts whatever is waiting in the inbox. Single-input tools convert each file
// on its own; multi-input tools combine every waiting file, in name order, into one output.
// Converted sources are deleted or moved to the done folder; failed ones stay for the next pass.
func (w *Watcher) RunOnce(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	files, err := w.pending()
	if err != nil {
		return result, err
	}

	var batch []queue.Payload
	var batchPaths []string
	for _, path := range files {
		payload, err := queue.LoadFile(path)
		if err != nil {
			Logger.Warn("Unable to read file, won't process", "filePath", path, "error", err)
			continue
		}
		if !w.lane.Tool.AcceptsMIME(payload.MIMEType) {
			Logger.Debug("Skipping file the tool does not accept", "filePath", path, "mimeType", payload.MIMEType)
			continue
		}
		batch = append(batch, payload)
		batchPaths = append(batchPaths, path)
	}
	if len(batch) == 0 {
		return result, nil
	}

	sink := delivery.Func(func(ctx context.Context, r delivery.Result) error {
		if err := w.sink.Deliver(ctx, r); err != nil {
			return err
		}
		result.Outputs = append(result.Outputs, r.Filename)
		return nil
	})

	convert := func(payloads []queue.Payload, paths []string) {
		w.lane.Select(payloads)
		err := w.lane.Execute(ctx, sink)
		if err != nil {
			Logger.Warn("Leaving files in inbox", "files", paths, "error", err)
			result.Failed = append(result.Failed, paths...)
			return
		}
		for _, path := range paths {
			w.finish(path)
		}
		result.Converted = append(result.Converted, paths...)
	}

	if w.lane.Tool.AllowsMultipleInputs {
		w.lane.Queue.Close()
		convert(batch, batchPaths)
		w.lane.Queue.Close()
	} else {
		for i := range batch {
			convert(batch[i:i+1], batchPaths[i:i+1])
		}
	}
	Logger.Info("Watch pass complete", "tool", w.lane.Tool.Kind, "converted", len(result.Converted),
		"failed", len(result.Failed), "outputs", len(result.Outputs))
	return result, nil
}

// finish removes a converted source from the inbox
func (w *Watcher) finish(path string) {
	if w.config.Delete || w.config.DoneFolder == "" {
		if err := os.Remove(path); err != nil {
			Logger.Error("Unable to delete converted file", "filePath", path, "error", err)
		}
		return
	}
	if err := os.MkdirAll(w.config.DoneFolder, 0755); err != nil {
		Logger.Error("Unable to create done folder", "path", w.config.DoneFolder, "error", err)
		return
	}
	target := filepath.Join(w.config.DoneFolder, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		Logger.Error("Unable to move converted file", "filePath", path, "target", target, "error", err)
	}
}
