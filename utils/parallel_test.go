package utils

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.viam.com/test"
)

func TestGroupWorkParallel(t *testing.T) {
	for _, size := range []int{1, 7, 100, 1013} {
		seen := make([]int32, size)
		var calls atomic.Int32
		err := GroupWorkParallel(context.Background(), size, func(groupNum, groupSize, from, to int) MemberWorkFunc {
			test.That(t, to-from, test.ShouldEqual, groupSize)
			return func(memberNum, workNum int) error {
				if workNum != from+memberNum {
					return errors.New("member out of order")
				}
				atomic.AddInt32(&seen[workNum], 1)
				calls.Add(1)
				return nil
			}
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, int(calls.Load()), test.ShouldEqual, size)
		for _, s := range seen {
			test.That(t, s, test.ShouldEqual, int32(1))
		}
	}

	test.That(t, GroupWorkParallel(context.Background(), 0, nil), test.ShouldBeNil)
}

func TestGroupWorkParallelErrors(t *testing.T) {
	bad := errors.New("bad")
	err := GroupWorkParallel(context.Background(), 50, func(groupNum, groupSize, from, to int) MemberWorkFunc {
		return func(memberNum, workNum int) error {
			if workNum == 25 {
				return bad
			}
			return nil
		}
	})
	test.That(t, errors.Is(err, bad), test.ShouldBeTrue)

	err = GroupWorkParallel(context.Background(), 10, func(groupNum, groupSize, from, to int) MemberWorkFunc {
		return func(memberNum, workNum int) error {
			panic(1)
		}
	})
	test.That(t, err, test.ShouldNotBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = ParallelForEachRow(ctx, 10, func(row int) {})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestParallelForEachRow(t *testing.T) {
	rows := make([]int32, 480)
	err := ParallelForEachRow(context.Background(), len(rows), func(row int) {
		atomic.AddInt32(&rows[row], int32(row))
	})
	test.That(t, err, test.ShouldBeNil)
	for i, r := range rows {
		test.That(t, r, test.ShouldEqual, int32(i))
	}
}
