package pharmacy

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

const saleAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// walkInNumbers returns the sale and invoice numbers of a walk-in sale:
// WALKIN-YYYYMMDD-XXXXXX and INV-YYYYMMDD-NNNNNNNN.
func walkInNumbers(at time.Time) (sale, invoice string) {
	day := at.UTC().Format("20060102")
	var b strings.Builder
	for i := 0; i < 6; i++ {
		b.WriteByte(saleAlphabet[rand.IntN(len(saleAlphabet))])
	}
	return "WALKIN-" + day + "-" + b.String(),
		fmt.Sprintf("INV-%s-%08d", day, rand.IntN(100000000))
}
