package utils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// --- 1. CLI Error Reporting ---

// ErrUnsafeName is returned for upload names that could escape their directory.
var ErrUnsafeName = errors.New("unsafe file name")

// exit is swapped in tests.
var exit = os.Exit

// ShowError prints a formatted error box to w without exiting.
// hint, when non-empty, is printed below the details.
func ShowError(w io.Writer, context string, err error, hint string) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 SPECTRA ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}
	if hint != "" {
		fmt.Fprintf(w, "\nHINT: %s\n", hint)
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy for Spectra.
// It prints the error box to stderr and exits with status 1.
func Die(context string, err error, hint string) {
	ShowError(os.Stderr, context, err, hint)
	exit(1)
}

// --- 2. File Names ---

// SafeName rejects names that are empty, contain "..", or carry a path separator.
func SafeName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty name", ErrUnsafeName)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q contains ..", ErrUnsafeName, name)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, filepath.Separator):
		return fmt.Errorf("%w: %q contains a path separator", ErrUnsafeName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains NUL", ErrUnsafeName, name)
	}
	return nil
}

// Stem returns name without its final extension.
func Stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// --- 3. Natural Ordering ---

// NaturalLess orders strings so that embedded digit runs compare numerically:
// "frame_2.png" < "frame_10.png".
func NaturalLess(a, b string) bool {
	for a != "" && b != "" {
		pa, na, ra := splitDigits(a)
		pb, nb, rb := splitDigits(b)
		if pa != pb || na == "" || nb == "" {
			break
		}
		if c := compareDigits(na, nb); c != 0 {
			return c < 0
		}
		a, b = ra, rb
	}
	return a < b
}

// SortNatural sorts names in place with NaturalLess.
func SortNatural(names []string) {
	sort.SliceStable(names, func(i, j int) bool { return NaturalLess(names[i], names[j]) })
}

// splitDigits splits s into the non-digit prefix, the first digit run and the rest.
func splitDigits(s string) (prefix, digits, rest string) {
	i := strings.IndexFunc(s, isDigit)
	if i < 0 {
		return s, "", ""
	}
	j := i
	for j < len(s) && isDigit(rune(s[j])) {
		j++
	}
	return s[:i], s[i:j], s[j:]
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// compareDigits compares two digit runs by value without overflowing.
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
