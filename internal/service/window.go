package service

import (
	"context"

	"lpr-gate-service/internal/domain/lpr"
)

// findPriorReads returns all reads for locationTag in the trailing window
// [read.TimestampMs-windowMs, read.TimestampMs). The interval normally sits
// inside the read's own day partition; when the window start falls before
// UTC midnight of the read's day the query also covers the earlier
// partitions. Results are the unordered concatenation of the per-partition
// queries, so callers scan the whole set rather than assume ordering.
func (s *VerifyService) findPriorReads(ctx context.Context, read *lpr.ReadRecord, windowMs int64, locationTag string) ([]lpr.ReadRecord, error) {
	startMs := read.TimestampMs - windowMs
	endMs := read.TimestampMs

	var out []lpr.ReadRecord
	for p := lpr.DayPartitionFor(startMs); p <= read.DayPartition; p++ {
		reads, err := s.reads.QueryByPartitionAndRange(ctx, p, locationTag, startMs, endMs)
		if err != nil {
			return nil, err
		}
		out = append(out, reads...)
	}
	return out, nil
}
