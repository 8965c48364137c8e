package app

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	fsnotify "gopkg.in/fsnotify.v1"

	"lens-measure/internal/config"
)

// CalibrationWatcher reloads a calibration file when its modification time
// moves forward. File system notifications drive it where available; the
// ticker catches anything they miss.
type CalibrationWatcher struct {
	path          string
	checkInterval time.Duration

	mu       sync.Mutex
	baseline time.Time
	stopCh   chan struct{}
	onReload func(*config.Config, error)
}

// NewCalibrationWatcher creates a watcher for path. The file's current
// modification time is the baseline; only later changes trigger a reload.
func NewCalibrationWatcher(path string, checkInterval time.Duration) (*CalibrationWatcher, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &CalibrationWatcher{
		path:          path,
		checkInterval: checkInterval,
		baseline:      info.ModTime(),
	}, nil
}

// OnReload sets the callback invoked with each reloaded configuration, or
// the error that prevented loading it. The callback runs on the watcher's
// goroutine.
func (w *CalibrationWatcher) OnReload(callback func(*config.Config, error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = callback
}

// Start begins watching in a background goroutine.
func (w *CalibrationWatcher) Start() {
	w.mu.Lock()
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()
	go w.watchLoop(stopCh, w.notifier())
}

// notifier subscribes to changes on the file's directory, so editors that
// replace the file on save are still seen. Nil when notifications are
// unavailable.
func (w *CalibrationWatcher) notifier() *fsnotify.Watcher {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("Calibration: file notifications unavailable, polling: %v", err)
		return nil
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		log.Printf("Calibration: cannot watch %s, polling: %v", filepath.Dir(w.path), err)
		fw.Close()
		return nil
	}
	return fw
}

// Stop stops the watcher goroutine.
func (w *CalibrationWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopCh != nil {
		close(w.stopCh)
		w.stopCh = nil
	}
}

// Path returns the watched file.
func (w *CalibrationWatcher) Path() string {
	return w.path
}

func (w *CalibrationWatcher) watchLoop(stopCh chan struct{}, fw *fsnotify.Watcher) {
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if fw != nil {
		defer fw.Close()
		events, errs = fw.Events, fw.Errors
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			w.Check()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(w.path) {
				w.Check()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("Calibration: watch error: %v", err)
		}
	}
}

// Check reloads the file if it changed since the last load and reports
// whether it did.
func (w *CalibrationWatcher) Check() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return false
	}

	w.mu.Lock()
	if !info.ModTime().After(w.baseline) {
		w.mu.Unlock()
		return false
	}
	w.baseline = info.ModTime()
	callback := w.onReload
	w.mu.Unlock()

	cfg, err := config.Load(w.path)
	if err != nil {
		log.Printf("Calibration: reload of %s failed: %v", w.path, err)
	}
	if callback != nil {
		callback(cfg, err)
	}
	return true
}

// WatchCalibration reloads the pipeline's calibration whenever path
// changes. The caller stops the returned watcher.
func (p *Pipeline) WatchCalibration(path string, checkInterval time.Duration) (*CalibrationWatcher, error) {
	w, err := NewCalibrationWatcher(path, checkInterval)
	if err != nil {
		return nil, err
	}
	w.OnReload(func(cfg *config.Config, err error) {
		if err != nil {
			return
		}
		if err := p.SetCalibration(cfg); err != nil {
			log.Printf("Calibration: %v", err)
		}
	})
	w.Start()
	return w, nil
}
