// Package match holds the pure matching primitives shared by the dedup
// engine and the categorization pipeline: description normalization and
// similarity, subset-sum search over small amount sets, and the hash/key
// derivations used for duplicate detection.
package match

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

var (
	longDigitsRe = regexp.MustCompile(`\d{4,}`)
	hashNumRe    = regexp.MustCompile(`#\d+`)
	decoratorRe  = regexp.MustCompile(`[*#]`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// NormalizeDescription canonicalizes a bank transaction description for
// matching: uppercase, digit runs of 4+ stripped, "#123" patterns and
// '*'/'#' decorators stripped, whitespace collapsed.
func NormalizeDescription(desc string) string {
	desc = strings.ToUpper(desc)
	desc = longDigitsRe.ReplaceAllString(desc, "")
	desc = hashNumRe.ReplaceAllString(desc, "")
	desc = decoratorRe.ReplaceAllString(desc, "")
	desc = multiSpaceRe.ReplaceAllString(desc, " ")
	return strings.TrimSpace(desc)
}

// ImportHash is the exact-content duplicate key:
// SHA-256(account|date|amount|raw description).
func ImportHash(accountID string, date civil.Date, amount float64, rawDesc string) string {
	key := fmt.Sprintf("%s|%s|%.2f|%s", accountID, date.String(), amount, rawDesc)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// DedupKey is the coarse pre-filter key: account:date:amount-in-cents.
// Minor units go through decimal arithmetic so -116.98 never rounds to
// -11697.
func DedupKey(accountID string, date civil.Date, amount float64) string {
	cents := decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	return fmt.Sprintf("%s:%s:%d", accountID, date.String(), cents)
}

// FileHash returns the SHA-256 of an entire file's contents, used to
// reject whole-file re-imports.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("FileHash: open %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("FileHash: read %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WholeUnit reports whether an amount has no fractional cents, within
// half a cent of tolerance. Matches positive and negative amounts alike.
func WholeUnit(amount float64) bool {
	return math.Abs(amount-math.Round(amount)) < 0.005
}

// AmountsClose reports whether two amounts are within tol of each other.
func AmountsClose(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
