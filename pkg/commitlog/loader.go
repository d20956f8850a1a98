package commitlog

import (
	"errors"
	"fmt"

	"commitlog/pkg/commitlog/device"
	"commitlog/pkg/commitlog/metastore"
	"commitlog/pkg/commitlog/recovery"

	"k8s.io/klog/v2"
)

var ErrNoValidCheckpoint = errors.New("commitlog: no valid checkpoint")

type LoadResult struct {
	// Fresh is set when the store held no readable commit.
	Fresh bool
	// Record is the newest readable commit, nil when Fresh.
	Record *recovery.Record
	// NextCommitNum is above every number present in the store, readable or
	// not, so new commits never reuse a number.
	NextCommitNum int64
	// Skipped lists the commits passed over as unreadable, newest first.
	Skipped []int64
}

// Load finds the newest commit in store that decodes cleanly. Corrupt or
// vanished commits are skipped in favor of older ones; a commit written by a
// newer version stops the search. With requirePrior, finding nothing fails
// with ErrNoValidCheckpoint.
func Load(store metastore.Store, requirePrior bool) (*LoadResult, error) {
	nums, err := store.List()
	if err != nil {
		return nil, device.Wrap("list commits", -1, err)
	}

	res := &LoadResult{}
	if len(nums) > 0 {
		res.NextCommitNum = nums[0] + 1
	}

	for _, num := range nums {
		data, err := store.Read(num)
		if err == nil {
			var rec *recovery.Record
			rec, err = recovery.Decode(data)
			if err == nil {
				if rec.CommitNum < 0 {
					// legacy records carry no number, the key stands in
					rec.CommitNum = num
				}
				if rec.CommitNum >= res.NextCommitNum {
					res.NextCommitNum = rec.CommitNum + 1
				}
				res.Record = rec
				recoveredCommit.Set(float64(rec.CommitNum))
				klog.Infof("commitlog: recovered %v", rec)
				return res, nil
			}
		}

		switch {
		case errors.Is(err, recovery.ErrUnsupportedVersion):
			return nil, fmt.Errorf("commit %d: %w", num, err)
		case errors.Is(err, recovery.ErrCorruptMetadata),
			errors.Is(err, metastore.ErrCorrupt),
			errors.Is(err, metastore.ErrNotFound):
			recoveryFallbacks.Inc()
			res.Skipped = append(res.Skipped, num)
			klog.Warningf("commitlog: skipping commit %d: %v", num, err)
		default:
			return nil, device.Wrap("read commit", num, err)
		}
	}

	if requirePrior {
		return nil, fmt.Errorf("%w: %d commits listed, none readable", ErrNoValidCheckpoint, len(nums))
	}
	res.Fresh = true
	recoveredCommit.Set(-1)
	return res, nil
}
