package visit

import (
	"crypto/rand"
	"fmt"
	"time"
)

// Appointment codes look like APT-20260901-7KQ4M: a fixed tag, the
// booking date, and a short random suffix. Uniqueness is enforced by the
// unique index on visits.appointment_code, not by the generator; the
// booking transaction retries on collision.

const (
	codePrefix      = "APT"
	codeSuffixLen   = 5
	codeAlphabet    = "23456789ABCDEFGHJKMNPQRSTUVWXYZ" // no 0/O/1/I/L
	MaxCodeAttempts = 3
)

// CodeGenerator produces appointment codes. Swappable in tests to force
// collisions.
type CodeGenerator interface {
	NewCode(now time.Time) (string, error)
}

type randomCodeGenerator struct{}

func NewCodeGenerator() CodeGenerator {
	return randomCodeGenerator{}
}

func (randomCodeGenerator) NewCode(now time.Time) (string, error) {
	buf := make([]byte, codeSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random suffix: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return fmt.Sprintf("%s-%s-%s", codePrefix, now.Format("20060102"), buf), nil
}
