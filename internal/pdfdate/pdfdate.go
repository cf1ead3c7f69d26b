// Package pdfdate pulls the issued date out of uploaded quotation PDFs so
// the due date can be derived without manual entry.
package pdfdate

import (
	"bytes"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// ErrNoDate is returned when no plausible issued date is found.
var ErrNoDate = errors.New("no issued date found")

var monthsByAbbrev = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// datePattern knows how to recognize one textual date form and turn a match
// into a time.Time.
type datePattern struct {
	re    *regexp.Regexp
	parse func(m []string) (time.Time, bool)
}

// Patterns are tried in order of how unambiguous they are.
var datePatterns = []datePattern{
	// 15-Mar-2026
	{
		re: regexp.MustCompile(`(?i)\b(\d{1,2})-([A-Za-z]{3})-(\d{4})\b`),
		parse: func(m []string) (time.Time, bool) {
			return makeDate(m[3], m[2], m[1])
		},
	},
	// 15/03/2026 or 15-03-2026 (day first)
	{
		re: regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4})\b`),
		parse: func(m []string) (time.Time, bool) {
			return makeNumericDate(m[3], m[2], m[1])
		},
	},
	// Mar 15, 2026 or Mar 15 2026
	{
		re: regexp.MustCompile(`(?i)\b([A-Za-z]{3})[a-z]*\.?\s+(\d{1,2}),?\s+(\d{4})\b`),
		parse: func(m []string) (time.Time, bool) {
			return makeDate(m[3], m[1], m[2])
		},
	},
	// 2026-03-15
	{
		re: regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`),
		parse: func(m []string) (time.Time, bool) {
			return makeNumericDate(m[1], m[2], m[3])
		},
	},
}

var issuedLineRe = regexp.MustCompile(`(?i)ISSUED\s+([^\n\r]+)`)

// ExtractIssuedDate reads the PDF's plain text and scans it for an issued
// date.
func ExtractIssuedDate(data []byte, now time.Time) (time.Time, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return time.Time{}, err
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return time.Time{}, err
	}
	text, err := io.ReadAll(textReader)
	if err != nil {
		return time.Time{}, err
	}
	return ExtractFromText(string(text), now)
}

// ExtractFromText finds the most plausible issued date in free text. Text
// after an "ISSUED" keyword wins; otherwise the whole text is scanned and
// only dates within two years of now are accepted, so part numbers and other
// digit runs do not masquerade as dates.
func ExtractFromText(text string, now time.Time) (time.Time, error) {
	if m := issuedLineRe.FindStringSubmatch(text); m != nil {
		for _, p := range datePatterns {
			if sub := p.re.FindStringSubmatch(m[1]); sub != nil {
				if d, ok := p.parse(sub); ok {
					return d, nil
				}
			}
		}
	}

	earliest := time.Date(now.Year()-2, time.January, 1, 0, 0, 0, 0, time.UTC)
	latest := time.Date(now.Year()+2, time.December, 31, 0, 0, 0, 0, time.UTC)
	for _, p := range datePatterns {
		for _, sub := range p.re.FindAllStringSubmatch(text, -1) {
			d, ok := p.parse(sub)
			if !ok {
				continue
			}
			if d.Before(earliest) || d.After(latest) {
				continue
			}
			return d, nil
		}
	}
	return time.Time{}, ErrNoDate
}

func makeDate(year, monthAbbrev, day string) (time.Time, bool) {
	month, ok := monthsByAbbrev[strings.ToLower(monthAbbrev)[:3]]
	if !ok {
		return time.Time{}, false
	}
	y, _ := strconv.Atoi(year)
	d, _ := strconv.Atoi(day)
	return validDate(y, month, d)
}

func makeNumericDate(year, month, day string) (time.Time, bool) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if m < 1 || m > 12 {
		return time.Time{}, false
	}
	return validDate(y, time.Month(m), d)
}

// validDate rejects day overflow: time.Date normalizes Feb 30 into March,
// so a round trip catches it.
func validDate(y int, m time.Month, d int) (time.Time, bool) {
	if d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || t.Month() != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}
