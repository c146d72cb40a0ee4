package engine

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewSeed returns a fresh 32-byte server seed, hex encoded.
func NewSeed() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// SeedHash returns the sha256 commitment for a seed. The hash is published
// when betting opens; the seed itself is revealed in the crash event so
// clients can verify the draw.
func SeedHash(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// CrashPoint derives the round's crash multiplier from its seed:
// HMAC-SHA256(seed, roundID) mapped uniformly onto the tick grid between
// min and max thousandths inclusive. Aligning the draw to the tick step
// guarantees the flight's final tick equals the drawn value exactly, so the
// published final tick and the persisted settlement value can never diverge.
func CrashPoint(seed string, roundID uuid.UUID, min, max, step int64) int64 {
	mac := hmac.New(sha256.New, []byte(seed))
	mac.Write([]byte(roundID.String()))
	sum := mac.Sum(nil)

	v := binary.BigEndian.Uint64(sum[:8])
	span := (max-min)/step + 1
	return min + int64(v%uint64(span))*step
}

// VerifyDraw recomputes a revealed round's draw against its published
// commitment.
func VerifyDraw(seed, seedHash string, roundID uuid.UUID, crashPoint, min, max, step int64) bool {
	if SeedHash(seed) != seedHash {
		return false
	}
	return CrashPoint(seed, roundID, min, max, step) == crashPoint
}
