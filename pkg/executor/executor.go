// Copyright 2024 zhengshuai.xiao@outlook.com
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/client"
)

var logger = internal.GetLogger("dsync_executor")

// Params sizes the worker pool. Go worker goroutines are cheap, so the
// processes x threads product from the operator config is simply the
// goroutine budget; there is no separate process tier.
type Params struct {
	Processes  int
	Threads    int
	MaxRetries int
}

func (p Params) pool() int {
	procs := p.Processes
	if procs < 1 {
		procs = 1
	}
	threads := p.Threads
	if threads < 1 {
		threads = 1
	}
	return procs * threads
}

func (p Params) maxRetries() int {
	if p.MaxRetries <= 0 {
		return 3
	}
	return p.MaxRetries
}

// WorkerFunc performs one item's transfer, obtaining whatever backend
// clients it needs through the mux.
type WorkerFunc func(ctx context.Context, in *WorkerInput, clients *client.Mux, progress ProgressUpdater) (*WorkerOutput, error)

// JobContext is the final state of one RunJob invocation. Output is the
// folded total of all successful items; Errors collects per-item failures
// plus any systemic error that stopped dispatch.
type JobContext struct {
	Output    *WorkerOutput
	Errors    []error
	StartTime time.Time
	EndTime   time.Time
}

// RunJob drains the lazy input stream through a bounded pool of workers.
//
// The coordinator pulls items one at a time (the stream is never
// materialized) and hands them to pool() workers. Transient errors are
// retried with exponential backoff up to the retry budget, then recorded
// under the item's error key without stopping the job. A fatal error
// (credential, systemic) stops new dispatch; items already handed out are
// drained before the context closes. A generator error is recorded as
// systemic and likewise stops dispatch.
func RunJob(ctx context.Context, worker WorkerFunc, inputs InputIterator, clients *client.Mux, progress ProgressUpdater, params Params) *JobContext {
	if progress == nil {
		progress = NopProgress{}
	}
	jc := &JobContext{Output: &WorkerOutput{}, StartTime: time.Now()}

	var mu sync.Mutex
	record := func(err error) {
		mu.Lock()
		jc.Errors = append(jc.Errors, err)
		mu.Unlock()
	}
	fold := func(out *WorkerOutput) {
		mu.Lock()
		jc.Output.Add(out)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	ch := make(chan *WorkerInput)

	// coordinator: single-threaded lazy pull
	g.Go(func() error {
		defer close(ch)
		for inputs.Next() {
			select {
			case ch <- inputs.Get():
			case <-gctx.Done():
				return nil
			}
		}
		if err := inputs.Err(); err != nil {
			serr := &internal.SystemicError{Err: fmt.Errorf("input generation failed: %w", err)}
			record(serr)
			return serr
		}
		return nil
	})

	for i := 0; i < params.pool(); i++ {
		g.Go(func() error {
			for in := range ch {
				out, retries, err := runItem(ctx, worker, in, clients, progress, params.maxRetries())
				if out == nil {
					out = &WorkerOutput{}
				}
				out.Retries += retries
				if err != nil {
					record(fmt.Errorf("%s: %w", in.ErrorKey(), err))
					fold(&WorkerOutput{Retries: retries})
					if internal.IsFatal(err) {
						// stops the coordinator; siblings keep draining ch
						return err
					}
					continue
				}
				fold(out)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Errorf("job stopped early: %v", err)
	}
	jc.EndTime = time.Now()
	return jc
}

// runItem executes one item with bounded retries on transient errors.
func runItem(ctx context.Context, worker WorkerFunc, in *WorkerInput, clients *client.Mux, progress ProgressUpdater, maxRetries int) (*WorkerOutput, int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second

	retries := 0
	for {
		out, err := worker(ctx, in, clients, progress)
		if err == nil {
			return out, retries, nil
		}
		if !internal.IsTransient(err) || retries >= maxRetries {
			return nil, retries, err
		}
		retries++
		wait := bo.NextBackOff()
		logger.Warnf("retrying %s after %v (attempt %d/%d): %v", in.ErrorKey(), wait, retries, maxRetries, err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, retries, ctx.Err()
		}
	}
}
