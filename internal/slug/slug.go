// Package slug derives article slugs from a title, an author handle and a timestamp.
package slug

import (
	"crypto/rand"
	"io"
	"math/big"
	"regexp"
	"strings"
	"time"
)

const (
	maxTitleLength  = 50
	maxHandleLength = 20
	suffixLength    = 4
	suffixAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var (
	titleDisallowed  = regexp.MustCompile(`[^a-z0-9-]+`)
	handleDisallowed = regexp.MustCompile(`[^a-z0-9]+`)
	repeatedHyphens  = regexp.MustCompile(`-{2,}`)
	whitespace       = regexp.MustCompile(`\s+`)
)

// Generator builds slugs. Rand supplies the random suffix and defaults to crypto/rand.
type Generator struct {
	Rand io.Reader
}

// GenerateUnique is Generator{}.Generate.
func GenerateUnique(title, authorHandle string, now time.Time) string {
	return Generator{}.Generate(title, authorHandle, now)
}

// Generate returns title-handle-YYYY-MM-DD-HHMM-xxxx. No lookup is made, so
// uniqueness rests on the minute timestamp plus the random suffix.
func (g Generator) Generate(title, authorHandle string, now time.Time) string {
	parts := make([]string, 0, 5)
	if t := normaliseTitle(title); t != "" {
		parts = append(parts, t)
	}
	if h := normaliseHandle(authorHandle); h != "" {
		parts = append(parts, h)
	}
	now = now.UTC()
	parts = append(parts, now.Format("2006-01-02"), now.Format("1504"), g.suffix())
	return strings.Join(parts, "-")
}

func normaliseTitle(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = whitespace.ReplaceAllString(s, "-")
	s = titleDisallowed.ReplaceAllString(s, "")
	s = repeatedHyphens.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxTitleLength {
		s = strings.TrimRight(s[:maxTitleLength], "-")
	}
	return s
}

func normaliseHandle(handle string) string {
	s := handleDisallowed.ReplaceAllString(strings.ToLower(handle), "")
	if len(s) > maxHandleLength {
		s = s[:maxHandleLength]
	}
	return s
}

func (g Generator) suffix() string {
	r := g.Rand
	if r == nil {
		r = rand.Reader
	}
	max := big.NewInt(int64(len(suffixAlphabet)))
	var b strings.Builder
	for i := 0; i < suffixLength; i++ {
		n, err := rand.Int(r, max)
		if err != nil {
			// A broken reader still has to yield a well-formed slug.
			n = big.NewInt(time.Now().UnixNano() % int64(len(suffixAlphabet)))
		}
		b.WriteByte(suffixAlphabet[n.Int64()])
	}
	return b.String()
}
