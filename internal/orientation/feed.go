// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/sphere_capture/internal/logging"
)

// maxConsecutiveFailures before the feed reports the sensor unavailable.
const maxConsecutiveFailures = 10

// Feed polls a Source on a fixed interval and pushes samples into a Fusion.
// The subscription lives between explicit Start and Stop calls.
type Feed struct {
	src      Source
	fusion   *Fusion
	interval time.Duration
	log      *logging.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	failures    int
	unavailable bool
}

// NewFeed creates a feed. interval <= 0 defaults to 10ms.
func NewFeed(src Source, fusion *Fusion, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &Feed{
		src:      src,
		fusion:   fusion,
		interval: interval,
		log:      logging.With("component", "orientation"),
	}
}

// Start begins polling in a background goroutine.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return errors.New("orientation feed already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := f.Step(); err != nil && !errors.Is(err, ErrSensorUnavailable) {
					f.log.Debug("orientation: sample error", "err", err)
				}
			}
		}
	}(f.done)

	f.log.Info("orientation: feed started", "interval", f.interval)
	return nil
}

// Stop ends polling and waits for the goroutine to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	f.log.Info("orientation: feed stopped")
}

// Step reads one sample and updates the fusion filter.
func (f *Feed) Step() error {
	s, err := f.src.Next()
	if err == nil && s.Absent() {
		err = ErrSensorUnavailable
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err != nil {
		f.failures++
		if f.failures >= maxConsecutiveFailures && !f.unavailable {
			f.unavailable = true
			f.log.Warn("orientation: sensor unavailable, automatic capture disabled", "failures", f.failures)
		}
		if f.unavailable {
			return fmt.Errorf("%w: %v", ErrSensorUnavailable, err)
		}
		return err
	}

	if f.unavailable {
		f.log.Info("orientation: sensor recovered")
	}
	f.failures = 0
	f.unavailable = false
	f.fusion.Update(s)
	return nil
}

// Available reports whether the source is currently delivering samples.
func (f *Feed) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unavailable
}
