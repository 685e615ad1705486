package identity

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

const numberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// patientNumber returns PAT-XXXXXX with six uppercase letters or digits.
func patientNumber() string {
	var b strings.Builder
	b.WriteString("PAT-")
	for i := 0; i < 6; i++ {
		b.WriteByte(numberAlphabet[rand.IntN(len(numberAlphabet))])
	}
	return b.String()
}

// registrationNumber returns REG-NNNNN in the range 10000..99999.
func registrationNumber() string {
	return fmt.Sprintf("REG-%d", 10000+rand.IntN(90000))
}
