package types

import "fmt"

// TierKind is the pricing rule applied within one usage tier.
type TierKind string

const (
	// TierKindUnit charges usageInTier * UnitPrice.
	TierKindUnit TierKind = "unit"
	// TierKindFlat charges FlatPrice once for any non-zero occupancy of the
	// tier, never pro-rated within the tier.
	TierKindFlat TierKind = "flat"
	// TierKindPackage charges ceil(usageInTier / PackageSize) * PackagePrice.
	TierKindPackage TierKind = "package"
)

func (k TierKind) Validate() error {
	switch k {
	case TierKindUnit, TierKindFlat, TierKindPackage:
		return nil
	default:
		return fmt.Errorf("invalid tier kind: %s", k)
	}
}
