package funding

import (
	"fmt"
	"strings"
)

// MaxStageIDLength matches the width of the stage id columns
const MaxStageIDLength = 64

// reservedStageIDs collide with fixed path segments under /stages
var reservedStageIDs = map[string]struct{}{
	"current": {},
}

// DefaultCatalog returns the stage sequence used when a tracker is created
// without explicit seeds.
func DefaultCatalog() []StageSeed {
	return []StageSeed{
		{
			ID:           "pre-seed",
			Name:         "Pre-seed",
			TargetAmount: 250000,
			Description:  "Initial capital from founders, friends and angels to validate the idea.",
		},
		{
			ID:           "seed",
			Name:         "Seed",
			TargetAmount: 1000000,
			Description:  "Funding to reach product-market fit and build the core team.",
		},
		{
			ID:           "series-a",
			Name:         "Series A",
			TargetAmount: 5000000,
			Description:  "Capital to scale a proven business model and grow the user base.",
		},
		{
			ID:           "series-b",
			Name:         "Series B",
			TargetAmount: 15000000,
			Description:  "Expansion into new markets and scaling of operations.",
		},
	}
}

// ValidateCatalog checks that seeds can form a tracker
func ValidateCatalog(seeds []StageSeed) error {
	if len(seeds) == 0 {
		return fmt.Errorf("%w: at least one stage is required", ErrInvalidCatalog)
	}
	seen := make(map[string]struct{}, len(seeds))
	for i, seed := range seeds {
		if strings.TrimSpace(seed.ID) == "" {
			return fmt.Errorf("%w: stage %d has no id", ErrInvalidCatalog, i)
		}
		if len(seed.ID) > MaxStageIDLength {
			return fmt.Errorf("%w: stage id %q is longer than %d bytes", ErrInvalidCatalog, seed.ID, MaxStageIDLength)
		}
		if strings.Contains(seed.ID, "/") {
			return fmt.Errorf("%w: stage id %q contains '/'", ErrInvalidCatalog, seed.ID)
		}
		if _, reserved := reservedStageIDs[seed.ID]; reserved {
			return fmt.Errorf("%w: stage id %q is reserved", ErrInvalidCatalog, seed.ID)
		}
		if strings.TrimSpace(seed.Name) == "" {
			return fmt.Errorf("%w: stage %q has no name", ErrInvalidCatalog, seed.ID)
		}
		if _, dup := seen[seed.ID]; dup {
			return fmt.Errorf("%w: duplicate stage id %q", ErrInvalidCatalog, seed.ID)
		}
		seen[seed.ID] = struct{}{}
	}
	return nil
}
