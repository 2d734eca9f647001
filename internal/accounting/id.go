package accounting

import "github.com/google/uuid"

// newPositionID mints a fresh position identifier. Grounded on
// chidi150c-coinbase's use of google/uuid for entity IDs.
func newPositionID() string {
	return uuid.NewString()
}
