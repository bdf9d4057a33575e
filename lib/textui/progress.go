// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"
)

// Tunable marks a constant that might want adjusting once somebody
// profiles the program against real disks.
func Tunable[T any](x T) T {
	return x
}

type Stats interface {
	comparable
	fmt.Stringer
}

// Progress periodically logs the most recent value passed to Set,
// skipping ticks where nothing changed.  The first Set starts the
// ticker; Done stops it and logs the final value.
type Progress[T Stats] struct {
	ctx      context.Context //nolint:containedctx // the ticker goroutine outlives the call that starts it
	lvl      dlog.LogLevel
	interval time.Duration

	startOnce sync.Once
	stop      chan struct{}
	stopped   chan struct{}

	mu      sync.Mutex
	cur     T
	logged  T
	oldLine string
}

func NewProgress[T Stats](ctx context.Context, lvl dlog.LogLevel, interval time.Duration) *Progress[T] {
	return &Progress[T]{
		ctx:      ctx,
		lvl:      lvl,
		interval: interval,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (p *Progress[T]) Set(val T) {
	p.mu.Lock()
	p.cur = val
	p.mu.Unlock()
	p.startOnce.Do(func() {
		p.emit(true)
		go p.tick()
	})
}

// Done must be called exactly once; Set may not be called after it.
func (p *Progress[T]) Done() {
	started := true
	p.startOnce.Do(func() { started = false })
	if !started {
		return
	}
	close(p.stop)
	<-p.stopped
}

func (p *Progress[T]) emit(force bool) {
	p.mu.Lock()
	cur := p.cur
	if !force && cur == p.logged {
		p.mu.Unlock()
		return
	}
	p.logged = cur
	line := cur.String()
	if !force && line == p.oldLine {
		p.mu.Unlock()
		return
	}
	p.oldLine = line
	p.mu.Unlock()

	dlog.Log(p.ctx, p.lvl, line)
}

func (p *Progress[T]) tick() {
	defer close(p.stopped)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			p.emit(false)
			return
		case <-p.ctx.Done():
			<-p.stop
			return
		case <-ticker.C:
			p.emit(false)
		}
	}
}
