// Package params carries the read-only chain constants the checkpoint
// verifier and the rest of zecd consume but never compute: slow-start
// subsidy bounds, target spacing, and network magic bytes.
package params

// SlowStartInterval is the initial period from genesis during which the
// block subsidy is gradually incremented. See the Zcash protocol spec §7.8.
const SlowStartInterval = 20_000

// SlowStartShift is SlowStartShift() from the protocol spec. Exact because
// SlowStartInterval is divisible by 2.
const SlowStartShift = SlowStartInterval / 2

// ZIP208 block target intervals, in seconds.
const (
	// PreBlossomTargetSpacing is the block target interval before the
	// Blossom upgrade.
	PreBlossomTargetSpacing = 150
	// PostBlossomTargetSpacing is the block target interval after the
	// Blossom upgrade.
	PostBlossomTargetSpacing = 75
)

// BlossomTargetSpacingRatio is the ratio between pre- and post-Blossom
// target spacing, used for timing calculations that cross the Blossom
// boundary.
const BlossomTargetSpacingRatio = PreBlossomTargetSpacing / PostBlossomTargetSpacing

// Default transaction expiry deltas, in blocks.
const (
	// DefaultPreBlossomExpiryDelta is the default number of blocks, before
	// Blossom, after which a transaction expires.
	DefaultPreBlossomExpiryDelta = 20
	// DefaultPostBlossomExpiryDelta is the default number of blocks, after
	// Blossom, after which a transaction expires.
	DefaultPostBlossomExpiryDelta = DefaultPreBlossomExpiryDelta * BlossomTargetSpacingRatio
)

func init() {
	if !(PreBlossomTargetSpacing > PostBlossomTargetSpacing) {
		panic("params: Blossom target spacing must be less than pre-Blossom target spacing")
	}
	if PreBlossomTargetSpacing%PostBlossomTargetSpacing != 0 {
		panic("params: Blossom target spacing must exactly divide pre-Blossom target spacing")
	}
	if BlossomTargetSpacingRatio*PostBlossomTargetSpacing != PreBlossomTargetSpacing {
		panic("params: invalid BlossomTargetSpacingRatio")
	}
}
