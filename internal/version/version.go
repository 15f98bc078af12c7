// Package version implements Debian-style version numbers and
// version-constrained dependency specifications.
//
// Syntax and comparison rules are taken from Debian's. See:
//   - https://www.debian.org/doc/debian-policy/ch-controlfields.html#s-f-version
//   - https://www.debian.org/doc/debian-policy/ch-relationships.html
package version

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

// Characters permitted in the upstream part of a version number
const upstreamChars = "A-Za-z0-9.+~-"

// Characters permitted in the revision part of a version number
const revisionChars = "A-Za-z0-9.+~"

var (
	upstreamRegex = regexp.MustCompile("^[" + upstreamChars + "]+$")
	revisionRegex = regexp.MustCompile("^[" + revisionChars + "]+$")
)

// InvalidVersionError is returned when parsing of an invalid version is
// attempted.
type InvalidVersionError struct {
	Message string
}

// Error implements the error interface
func (e *InvalidVersionError) Error() string {
	return e.Message
}

// Version is a package version number made of an epoch, an upstream part
// and a revision part. Versions are immutable and totally ordered.
type Version struct {
	Epoch    int
	Upstream string
	Revision string

	// Original spelling of the version, kept for round-trip rendering
	original string
}

// New creates a version from its three components.
func New(epoch int, upstream, revision string) (*Version, error) {
	if epoch < 0 {
		return nil, &InvalidVersionError{
			Message: fmt.Sprintf("Invalid epoch '%d', only non-negative values are allowed", epoch),
		}
	}

	if upstream == "" {
		return nil, &InvalidVersionError{Message: "Upstream version cannot be empty"}
	}

	if !upstreamRegex.MatchString(upstream) {
		return nil, &InvalidVersionError{
			Message: fmt.Sprintf("Invalid chars in upstream version '%s', allowed chars are %s", upstream, upstreamChars),
		}
	}

	if revision == "" {
		return nil, &InvalidVersionError{Message: "Revision cannot be empty"}
	}

	if !revisionRegex.MatchString(revision) {
		return nil, &InvalidVersionError{
			Message: fmt.Sprintf("Invalid chars in revision '%s', allowed chars are %s", revision, revisionChars),
		}
	}

	return &Version{Epoch: epoch, Upstream: upstream, Revision: revision}, nil
}

// Parse parses a version number of the form [epoch:]upstream[-revision].
func Parse(version string) (*Version, error) {
	original := version
	epoch := 0

	if firstColon := strings.Index(version, ":"); firstColon != -1 {
		epochText := version[:firstColon]
		version = version[firstColon+1:]

		parsed, err := strconv.Atoi(epochText)
		if err != nil {
			return nil, &InvalidVersionError{
				Message: fmt.Sprintf("Invalid epoch '%s', must be numeric", epochText),
			}
		}

		epoch = parsed
	}

	revision := "0"

	if lastDash := strings.LastIndex(version, "-"); lastDash != -1 {
		revision = version[lastDash+1:]
		version = version[:lastDash]
	}

	result, err := New(epoch, version, revision)
	if err != nil {
		return nil, err
	}

	result.original = original
	return result, nil
}

// String renders the version, preferring the original spelling when the
// version was obtained through Parse.
func (v *Version) String() string {
	if v.original != "" {
		return v.original
	}

	epoch := ""
	if v.Epoch != 0 {
		epoch = strconv.Itoa(v.Epoch) + ":"
	}

	revision := "-" + v.Revision
	if v.Revision == "0" && !strings.Contains(v.Upstream, "-") {
		revision = ""
	}

	return epoch + v.Upstream + revision
}

// Equal reports structural equality on the (epoch, upstream, revision)
// triple, ignoring the original spelling.
func (v *Version) Equal(other *Version) bool {
	return v.Epoch == other.Epoch &&
		v.Upstream == other.Upstream &&
		v.Revision == other.Revision
}

// Compare returns a negative number if v sorts before other, zero if they
// are equal and a positive number otherwise.
func (v *Version) Compare(other *Version) int {
	if v.Epoch != other.Epoch {
		return v.Epoch - other.Epoch
	}

	if cmp := compareVersionParts(v.Upstream, other.Upstream); cmp != 0 {
		return cmp
	}

	return compareVersionParts(v.Revision, other.Revision)
}

// Sorting ranks for non-digit chars: '~' sorts lower than anything, even
// an exhausted string, which itself sorts below any letter.
func alphaRank(c byte) int {
	switch {
	case c == '~':
		return 0
	case c >= 'A' && c <= 'Z':
		return 2 + int(c-'A')
	case c >= 'a' && c <= 'z':
		return 28 + int(c-'a')
	case c == '+':
		return 54
	case c == '-':
		return 55
	case c == '.':
		return 56
	}
	return 57
}

const absentRank = 1

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func splitRun(s string, digits bool) (string, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) == digits {
		i++
	}
	return s[:i], s[i:]
}

// compareVersionParts compares two parts of a version string according to
// Debian version sorting rules: alternating non-digit and digit runs are
// peeled off both strings in lock-step, non-digit runs are compared by
// alphaRank with the shorter run padded, digit runs are compared as
// arbitrary-precision integers.
func compareVersionParts(left, right string) int {
	for left != "" || right != "" {
		leftAlpha, leftRest := splitRun(left, false)
		rightAlpha, rightRest := splitRun(right, false)
		left, right = leftRest, rightRest

		maxLen := len(leftAlpha)
		if len(rightAlpha) > maxLen {
			maxLen = len(rightAlpha)
		}

		for i := 0; i < maxLen; i++ {
			leftRank := absentRank
			if i < len(leftAlpha) {
				leftRank = alphaRank(leftAlpha[i])
			}

			rightRank := absentRank
			if i < len(rightAlpha) {
				rightRank = alphaRank(rightAlpha[i])
			}

			if leftRank != rightRank {
				return leftRank - rightRank
			}
		}

		leftDigit, leftRest := splitRun(left, true)
		rightDigit, rightRest := splitRun(right, true)
		left, right = leftRest, rightRest

		if cmp := compareNumeric(leftDigit, rightDigit); cmp != 0 {
			return cmp
		}
	}

	return 0
}

func compareNumeric(left, right string) int {
	leftNum := new(big.Int)
	rightNum := new(big.Int)

	if left != "" {
		leftNum.SetString(left, 10)
	}
	if right != "" {
		rightNum.SetString(right, 10)
	}

	return leftNum.Cmp(rightNum)
}
