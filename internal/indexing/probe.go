package indexing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"

	autoerrors "github.com/standardbeagle/autousing/internal/errors"
)

var (
	errEmpty    = errors.New("file is empty")
	errChanging = errors.New("file is still being written")
)

// FileIsAccessible reports whether path can be read right now. A build that
// is rewriting an assembly shows up as an open failure, an empty file, or a
// file whose size or mtime moves between two looks.
func FileIsAccessible(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	before, err := f.Stat()
	if err != nil {
		return err
	}
	if !before.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if before.Size() == 0 {
		return errEmpty
	}

	after, err := os.Stat(path)
	if err != nil {
		return err
	}
	if after.Size() != before.Size() || !after.ModTime().Equal(before.ModTime()) {
		return errChanging
	}
	return nil
}

// lockProbe waits for a reference to become readable with exponential
// backoff, giving up after timeout
type lockProbe struct {
	timeout time.Duration
	initial time.Duration
}

func (p *lockProbe) wait(ctx context.Context, path string) error {
	check := func() (struct{}, error) {
		err := FileIsAccessible(path)
		if errors.Is(err, fs.ErrNotExist) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	var err error
	if p.timeout <= 0 {
		_, err = check()
	} else {
		b := backoff.NewExponentialBackOff()
		if p.initial > 0 {
			b.InitialInterval = p.initial
		}
		b.MaxInterval = max(p.timeout/4, b.InitialInterval)
		_, err = backoff.Retry(ctx, check,
			backoff.WithBackOff(b),
			backoff.WithMaxElapsedTime(p.timeout))
	}

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, fs.ErrNotExist):
		return autoerrors.New(autoerrors.CodeLoadFailure, "probe reference", err).
			WithReason(autoerrors.ReasonUnreadable).
			WithPath(path)
	}
	return autoerrors.New(autoerrors.CodeTransientFileLock, "probe reference", err).
		WithReason(autoerrors.ReasonFileLocked).
		WithPath(path)
}
