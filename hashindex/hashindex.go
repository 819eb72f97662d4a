// Package hashindex provides exact-threshold Hamming search over the
// perceptual hashes stored in the metadata store.
//
// There is no separate persistent structure: a search streams the store's
// hash listing and ranks by bit distance. Cost is O(store size) per query,
// which is accepted at the target scale.
package hashindex

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/cardexio/cardex/distance"
)

// HashHexLen is the length of a fully formatted fingerprint: 64 bits as
// 16 hex digits.
const HashHexLen = 16

// ErrInvalidHash is returned for a malformed perceptual hash string.
type ErrInvalidHash struct {
	Value string
}

func (e *ErrInvalidHash) Error() string {
	return fmt.Sprintf("invalid perceptual hash %q", e.Value)
}

// ParseHash parses a hex fingerprint into its 64-bit value. Input shorter
// than 16 digits is zero-padded on the left; legacy rows produced by older
// hashers may carry stripped leading zeros.
func ParseHash(s string) (uint64, error) {
	if s == "" || len(s) > HashHexLen {
		return 0, &ErrInvalidHash{Value: s}
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, &ErrInvalidHash{Value: s}
	}
	return v, nil
}

// FormatHash formats a 64-bit fingerprint as 16 hex digits.
func FormatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// Source streams stored (card_id, hash) pairs in insertion order.
// The metadata store implements this.
type Source interface {
	ScanHashes(ctx context.Context, fn func(cardID string, hash uint64) error) error
}

// Match is one hash search result.
type Match struct {
	CardID   string
	Distance int
}

// Scanner performs Hamming-distance searches over a hash source.
type Scanner struct {
	source Source
}

// NewScanner creates a Scanner over the given source.
func NewScanner(source Source) *Scanner {
	return &Scanner{source: source}
}

// FindWithin returns the cards whose stored hash is within maxDistance bits
// of queryHash, ascending by distance. Ties keep insertion order (the scan
// order of the source), so the sort must be stable.
func (s *Scanner) FindWithin(ctx context.Context, queryHash uint64, maxDistance int) ([]Match, error) {
	if maxDistance < 0 {
		maxDistance = 0
	}

	var matches []Match
	err := s.source.ScanHashes(ctx, func(cardID string, hash uint64) error {
		if d := distance.Hamming(queryHash, hash); d <= maxDistance {
			matches = append(matches, Match{CardID: cardID, Distance: d})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})

	return matches, nil
}
