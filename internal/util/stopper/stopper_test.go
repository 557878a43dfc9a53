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

package stopper_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/util/stopper"
)

func TestGoTasksStopOnSignal(t *testing.T) {
	ctx := stopper.WithContext(context.Background())
	ran := make(chan struct{})
	ctx.Go(func(context.Context) error {
		<-ctx.Stopping()
		close(ran)
		return nil
	})

	err := ctx.Stop(time.Second)
	require.NoError(t, err)
	select {
	case <-ran:
	default:
		t.Fatal("task did not observe stop signal")
	}
}

func TestStopCollectsTaskErrors(t *testing.T) {
	ctx := stopper.WithContext(context.Background())
	ctx.Go(func(context.Context) error { return errors.New("boom") })

	err := ctx.Stop(time.Second)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestStopTimesOutIfTaskNeverReturns(t *testing.T) {
	ctx := stopper.WithContext(context.Background())
	block := make(chan struct{})
	ctx.Go(func(context.Context) error {
		<-block
		return nil
	})

	err := ctx.Stop(10 * time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(block)
}

func TestIsStoppingReflectsState(t *testing.T) {
	ctx := stopper.WithContext(context.Background())
	require.False(t, ctx.IsStopping())
	go ctx.Stop(time.Second)
	<-ctx.Stopping()
	require.True(t, ctx.IsStopping())
}
