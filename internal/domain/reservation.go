package domain

import "time"

// DefaultHoldTTL is how long a hold keeps its stock reserved.
const DefaultHoldTTL = 2 * time.Minute

func NewHold(productID int64, quantity int, now time.Time, ttl time.Duration) Hold {
	return Hold{
		ProductID: productID,
		Quantity:  quantity,
		ExpiresAt: now.Add(ttl),
		Consumed:  false,
		CreatedAt: now,
	}
}

// IsExpired reports whether expires_at has passed at now.
func (h Hold) IsExpired(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}

// IsValid reports whether the hold can still be converted into an order.
func (h Hold) IsValid(now time.Time) bool {
	return !h.Consumed && !h.IsExpired(now)
}

// HoldCursor is a position in the (expires_at, id) ordering of holds. The
// zero cursor sits before every hold.
type HoldCursor struct {
	ExpiresAt time.Time
	ID        int64
}

// CursorOf returns the cursor positioned at h.
func CursorOf(h Hold) HoldCursor {
	return HoldCursor{ExpiresAt: h.ExpiresAt, ID: h.ID}
}

// Precedes reports whether h comes strictly after the cursor.
func (c HoldCursor) Precedes(h Hold) bool {
	if h.ExpiresAt.Equal(c.ExpiresAt) {
		return h.ID > c.ID
	}
	return h.ExpiresAt.After(c.ExpiresAt)
}
