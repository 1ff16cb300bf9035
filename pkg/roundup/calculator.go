package roundup

// ItemRoundUp returns the pence needed to round one feed item up to the next
// whole currency unit. Items with a non-positive amount contribute nothing,
// and an exact multiple of 100 contributes 0.
//
// Examples: 450 -> 50, 500 -> 0, 1 -> 99.
func ItemRoundUp(item FeedItem) int64 {
	amount := item.AmountMinorUnits
	if amount <= 0 {
		return 0
	}
	next := ((amount + MinorUnitsPerMajor - 1) / MinorUnitsPerMajor) * MinorUnitsPerMajor
	return next - amount
}

// RoundUp returns the total round-up for a list of feed items.
// It is pure: the same input always yields the same result, and an empty or
// nil list yields 0.
func RoundUp(items []FeedItem) int64 {
	var total int64
	for _, item := range items {
		total += ItemRoundUp(item)
	}
	return total
}
