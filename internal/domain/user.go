package domain

import "math/big"

// User is the derived per-address trading profile. Users are created lazily
// on first reference and never deleted. UnsettledVolume and PotentialProfit
// may go negative: cancels subtract without a floor, and swap mark-to-model
// can lose money. That mirrors the producing contract's accounting.
type User struct {
	Address         string   `json:"address"` // lowercase hex account address
	VolumeTraded    *big.Int `json:"volume_traded"`
	UnsettledVolume *big.Int `json:"unsettled_volume"`
	Profit          *big.Int `json:"profit"`
	PotentialProfit *big.Int `json:"potential_profit"`
	LastApplied     Cursor   `json:"last_applied"`
}

// NewUser returns a user record with zeroed accumulators.
func NewUser(address string) User {
	return User{
		Address:         address,
		VolumeTraded:    new(big.Int),
		UnsettledVolume: new(big.Int),
		Profit:          new(big.Int),
		PotentialProfit: new(big.Int),
	}
}

// Stale reports whether an event at cursor c has already been folded into
// this user.
func (u User) Stale(c Cursor) bool {
	return c.AtOrBefore(u.LastApplied)
}

// Clone returns a deep copy.
func (u User) Clone() User {
	out := u
	out.VolumeTraded = cloneInt(u.VolumeTraded)
	out.UnsettledVolume = cloneInt(u.UnsettledVolume)
	out.Profit = cloneInt(u.Profit)
	out.PotentialProfit = cloneInt(u.PotentialProfit)
	return out
}
