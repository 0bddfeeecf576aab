package tenancy

// NextPortOffset computes the next free port offset from two sources: the
// offsets already recorded for non-deleted tenants and the number of stacks
// currently live on the container platform.
//
// The live stack count guards against drift: a stack created out-of-band (or
// whose tenant record was lost) still occupies ports, so the result must
// clear both the recorded maximum and the inferred live-stack index plus a
// safety margin. With no recorded allocations the live count alone decides.
//
// The result is strictly greater than every recorded allocation. It is NOT
// safe against concurrent invocation; serialize calls or use
// Store.AllocateOffset for an atomic variant.
func NextPortOffset(existing []int, liveStackCount, safetyMargin int) int {
	fromLive := liveStackCount + safetyMargin

	if len(existing) == 0 {
		return fromLive
	}

	max := existing[0]
	for _, offset := range existing[1:] {
		if offset > max {
			max = offset
		}
	}

	next := max + 1
	if fromLive > next {
		return fromLive
	}
	return next
}
