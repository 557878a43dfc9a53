// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package stopper provides a cooperative shutdown token: background
// tasks started with Context.Go (the consumer's retry, trashbin sweep
// and cache persistence tasks and its metrics server) are waited for
// by Stop before a process exits, and each process's main loop (the
// producer's tick loop, the consumer's apply loop) watches Stopping.
package stopper

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Context wraps a context.Context with a task group and a "please
// stop" signal that a running task can poll without being forcibly
// canceled mid-operation.
type Context struct {
	context.Context
	stopping chan struct{}
	once     sync.Once

	mu   sync.Mutex
	wg   sync.WaitGroup
	errs []error
}

// WithContext returns a new Context wrapping parent.
func WithContext(parent context.Context) *Context {
	return &Context{Context: parent, stopping: make(chan struct{})}
}

// Go starts fn in its own goroutine, tracked by the Context's
// WaitGroup. Any error fn returns is collected and surfaced by Stop.
func (c *Context) Go(fn func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(c); err != nil {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
		}
	}()
}

// Stopping returns a channel closed once Stop has been called, for
// use in a select alongside ctx.Done() so a task can distinguish a
// graceful stop request from outright cancellation.
func (c *Context) Stopping() <-chan struct{} { return c.stopping }

// IsStopping reports whether Stop has been called.
func (c *Context) IsStopping() bool {
	select {
	case <-c.stopping:
		return true
	default:
		return false
	}
}

// Stop signals every task started with Go to wind down and waits up
// to grace for them to return. If grace elapses before all tasks
// finish, Stop returns context.DeadlineExceeded without killing the
// remaining goroutines. Collected task errors are joined via
// errors.Wrap chaining, earliest first.
func (c *Context) Stop(grace time.Duration) error {
	c.once.Do(func() { close(c.stopping) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		return context.DeadlineExceeded
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) == 0 {
		return nil
	}
	err := c.errs[0]
	for _, e := range c.errs[1:] {
		err = errors.Wrap(e, err.Error())
	}
	return err
}
