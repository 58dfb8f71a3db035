package model

// Combo is a concession item (popcorn/drink bundle) with a unit price and
// remaining stock. Stock is decremented at settlement only, floored at
// zero by an atomic update so two simultaneously completing orders cannot
// drive it negative.
type Combo struct {
	ID             uint64 // combos.id
	Name           string // combos.name
	UnitPriceCents int64  // combos.unit_price_cents
	Stock          uint32 // combos.stock
}
