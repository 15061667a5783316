package watchedio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Follow reports the contents of path to fn, then every append, until ctx is
// done. The file may be created after Follow starts; when it shrinks or is
// replaced, reading restarts from its beginning. Follow returns ctx.Err()
// when cancelled.
func Follow(ctx context.Context, path string, fn func(text string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	f := &follower{path: filepath.Clean(path), fn: fn}
	if err := f.drain(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				f.reset()
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				f.reset()
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if err := f.drain(); err != nil {
					return err
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			if err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
	}
}

type follower struct {
	path   string
	fn     func(text string)
	offset int64
	carry  utf8Carry
}

func (f *follower) reset() {
	f.offset = 0
	f.carry = utf8Carry{}
}

// drain reads from the last offset to the end of the file.
func (f *follower) drain() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", f.path, err)
	}
	defer file.Close()

	st, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", f.path, err)
	}
	if st.Size() < f.offset {
		f.reset()
	}
	if st.Size() == f.offset {
		return nil
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", f.path, err)
	}
	data, err := io.ReadAll(io.LimitReader(file, st.Size()-f.offset))
	if err != nil {
		return fmt.Errorf("read %s: %w", f.path, err)
	}
	f.offset += int64(len(data))
	if text := f.carry.decode(data); text != "" {
		f.fn(text)
	}
	return nil
}
