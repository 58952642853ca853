package explosion

// Explosion depth limits. MaxLevels outside [MinLevels, MaxLevelsBound] is
// clamped rather than rejected, since settings arrive from per-client
// configuration that may predate the current bounds.
const (
	MinLevels      = 1
	MaxLevelsBound = 10
	DefaultLevels  = 5
)

// Settings is the per-client explosion configuration, fetched as a versioned
// snapshot at the start of each run and never mutated mid-run.
type Settings struct {
	// MaxLevels bounds path depth below the root, guaranteeing termination
	// independent of cycle detection.
	MaxLevels int

	// CycleDetection controls whether cyclic branches are flagged on the
	// result. When off, cyclic branches are still truncated (the traversal
	// always terminates) but silently, a degraded mode retained for
	// compatibility.
	CycleDetection bool

	// IncludeProducedAt controls whether requirements are additionally
	// grouped by production stage.
	IncludeProducedAt bool

	// Version identifies the configuration snapshot this run used.
	Version int
}

// DefaultSettings returns the operational defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxLevels:         DefaultLevels,
		CycleDetection:    true,
		IncludeProducedAt: true,
	}
}

// Normalized returns a copy with MaxLevels clamped to the supported range.
func (s Settings) Normalized() Settings {
	if s.MaxLevels < MinLevels {
		s.MaxLevels = DefaultLevels
	}

	if s.MaxLevels > MaxLevelsBound {
		s.MaxLevels = MaxLevelsBound
	}

	return s
}
