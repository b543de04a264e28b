package fee

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

const (
	receiptTimeLayout = "20060102150405"
	receiptSuffixLen  = 8 // tail of the ULID entropy
	maxMintAttempts   = 5
)

// Sequencer mints receipt numbers: <PREFIX><YYYYMMDDHHMMSS>-<suffix>.
// The timestamp part keeps numbers from one writer non-decreasing; the suffix comes from a
// monotonic ULID entropy source so numbers minted within the same second still differ.
type Sequencer struct {
	prefix string

	mu      sync.Mutex
	entropy io.Reader
}

func NewSequencer(prefix string) *Sequencer {
	return &Sequencer{
		prefix:  strings.ToUpper(strings.TrimSpace(prefix)),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Next returns a receipt number for a settlement made at t.
func (s *Sequencer) Next(t time.Time) string {
	t = t.UTC()

	s.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(t), s.entropy)
	if err != nil {
		// monotonic overflow within the same millisecond: start over from fresh entropy
		s.entropy = ulid.Monotonic(rand.Reader, 0)
		id = ulid.MustNew(ulid.Timestamp(t), s.entropy)
	}
	s.mu.Unlock()

	str := id.String()
	return s.prefix + t.Format(receiptTimeLayout) + "-" + str[len(str)-receiptSuffixLen:]
}

// NextUnique mints numbers until exists reports a free one.
// A nil exists skips the check (the repository still rejects duplicates).
func (s *Sequencer) NextUnique(t time.Time, exists func(string) (bool, error)) (string, error) {
	for i := 0; i < maxMintAttempts; i++ {
		code := s.Next(t)
		if exists == nil {
			return code, nil
		}
		taken, err := exists(code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.Errorf("failed to mint a unique receipt number after %d attempts", maxMintAttempts)
}
