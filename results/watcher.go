package results

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher calls notify whenever a single file is created or written. It
// watches the parent directory so the file does not have to exist yet.
type Watcher struct {
	log    log.Logger
	file   string
	notify func()

	fsw       *fsnotify.Watcher
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWatcher starts watching file. notify is called from the watcher goroutine.
func NewWatcher(logger log.Logger, file string, notify func()) (*Watcher, error) {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for '%s': %w", file, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		log:    logger,
		file:   abs,
		notify: notify,
		fsw:    fsw,
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.file {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.notify()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("File watcher error", "file", w.file, "error", err)
		}
	}
}

// Close stops watching and waits for the watcher goroutine.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}
