package utils

import (
	"context"
	"math"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. This might be useful
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
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) MemberWorkFunc
)

// GroupWorkParallel splits totalSize work items into contiguous groups, one per worker,
// and returns the first error any member reports. The last group absorbs the remainder.
func GroupWorkParallel(ctx context.Context, totalSize int, groupWork GroupWorkFunc) error {
	if totalSize <= 0 {
		return nil
	}
	numGroups := ParallelFactor
	if numGroups > totalSize {
		numGroups = totalSize
	}
	groupSize := int(math.Floor(float64(totalSize) / float64(numGroups)))
	extra := totalSize - groupSize*numGroups

	g, ctx := errgroup.WithContext(ctx)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		groupNum := groupNum
		thisGroupSize := groupSize
		thisExtra := 0
		if groupNum == numGroups-1 {
			thisExtra = extra
			thisGroupSize += thisExtra
		}
		from := groupSize * groupNum
		to := groupSize*(groupNum+1) + thisExtra
		memberWork := groupWork(groupNum, thisGroupSize, from, to)
		if memberWork == nil {
			continue
		}
		g.Go(func() (err error) {
			defer func() {
				if thePanic := recover(); thePanic != nil {
					err = errors.Errorf("got panic running group %d in parallel: %v", groupNum, thePanic)
				}
			}()
			memberNum := 0
			for workNum := from; workNum < to; workNum++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := memberWork(memberNum, workNum); err != nil {
					return err
				}
				memberNum++
			}
			return nil
		})
	}
	return g.Wait()
}

// ParallelForEachRow calls f for every row index in [0, rows), in parallel row bands.
func ParallelForEachRow(ctx context.Context, rows int, f func(row int)) error {
	return GroupWorkParallel(ctx, rows, func(groupNum, groupSize, from, to int) MemberWorkFunc {
		return func(memberNum, workNum int) error {
			f(workNum)
			return nil
		}
	})
}
