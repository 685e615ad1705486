package billing

import (
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	invoicePrefix = "INV-"
	receiptPrefix = "REC-"
	numberLayout  = "20060102150405"

	// maxNumberAttempts bounds the collision loop when minting numbers.
	maxNumberAttempts = 50
)

// documentNumber returns prefix plus the UTC timestamp. Attempts after the
// first append a random four digit suffix.
func documentNumber(prefix string, at time.Time, attempt int, suffix func() int) string {
	base := prefix + at.UTC().Format(numberLayout)
	if attempt == 0 {
		return base
	}
	return fmt.Sprintf("%s-%04d", base, suffix())
}

func randomSuffix() int {
	return 1000 + rand.IntN(9000)
}
