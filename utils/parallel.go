// Package utils contains small helpers shared by the calibration packages.
package utils

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ParallelFactor controls the default level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

type (
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int) error
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func()
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// GroupWorkParallel splits `totalSize` work items into at most `numGroups` contiguous groups and
// runs each group on its own goroutine. A non-positive `numGroups` uses ParallelFactor. The group
// done functions run on the group's goroutine, so merge stages writing shared state must lock.
// The first member error, panic or context cancellation stops the remaining members of every group.
func GroupWorkParallel(ctx context.Context, totalSize, numGroups int, groupWork GroupWorkFunc) error {
	if totalSize <= 0 {
		return ctx.Err()
	}
	if numGroups <= 0 {
		numGroups = ParallelFactor
	}
	if numGroups > totalSize {
		numGroups = totalSize
	}
	groupSize := totalSize / numGroups
	extra := totalSize % numGroups

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wait     sync.WaitGroup
		errMu    sync.Mutex
		combined error
	)
	storeError := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		combined = multierr.Combine(combined, err)
		cancel()
	}

	runGroup := func(groupNum, from, to, thisGroupSize int) {
		defer func() {
			if thePanic := recover(); thePanic != nil {
				storeError(errors.Errorf("got panic running group %d in parallel: %v", groupNum, thePanic))
			}
			wait.Done()
		}()
		memberWork, groupWorkDone := groupWork(groupNum, thisGroupSize, from, to)
		if memberWork != nil {
			memberNum := 0
			for workNum := from; workNum < to; workNum++ {
				if ctx.Err() != nil {
					return
				}
				if err := memberWork(memberNum, workNum); err != nil {
					storeError(err)
					return
				}
				memberNum++
			}
		}
		if groupWorkDone != nil {
			groupWorkDone()
		}
	}

	wait.Add(numGroups)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		thisGroupSize := groupSize
		thisExtra := 0
		if groupNum == numGroups-1 {
			thisExtra = extra
			thisGroupSize += thisExtra
		}
		from := groupSize * groupNum
		to := groupSize*(groupNum+1) + thisExtra
		go runGroup(groupNum, from, to, thisGroupSize)
	}
	wait.Wait()

	if combined != nil {
		return combined
	}
	return ctx.Err()
}
