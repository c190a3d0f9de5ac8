package api

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const modelReloadDebounce = 500 * time.Millisecond

var errNoModelPath = errors.New("no model file configured")

// WatchModel reloads the configured model file whenever it is rewritten.
// A dump that fails to parse is logged and the previous model stays active.
// The returned stop function blocks until the watcher goroutine exits.
func (s *Server) WatchModel(ctx context.Context) (func(), error) {
	if s.modelPath == "" {
		return nil, errNoModelPath
	}
	path, err := filepath.Abs(s.modelPath)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors replace files by rename, so the directory is watched instead of the file.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go s.watchLoop(ctx, watcher, path, done)

	logrus.WithField("path", path).Info("watching model file")
	stop := func() {
		cancel()
		<-done
	}
	return stop, nil
}

func (s *Server) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, done chan<- struct{}) {
	defer close(done)
	defer watcher.Close()

	timer := time.NewTimer(modelReloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(modelReloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("model watcher error")
		case <-timer.C:
			s.reloadModelFile(path)
		}
	}
}

// reloadModelFile registers the rewritten file and drops the parsed tree of
// the file model it replaces.
func (s *Server) reloadModelFile(path string) {
	previous, err := s.db.ActiveModel()
	if err != nil {
		previous = nil
	}
	model, err := s.loadModelFile(path, s.modelName)
	if err != nil {
		logrus.WithError(err).WithField("path", path).Warn("model reload failed, keeping previous model")
		return
	}
	if previous != nil && previous.ID != model.ID && previous.Source == sourceFile {
		s.explainers.Forget(previous.DumpText)
		s.forgetPredictor(previous.ID)
	}
	logrus.WithFields(logrus.Fields{"path": path, "model_id": model.ID}).Info("model file reloaded")
}
