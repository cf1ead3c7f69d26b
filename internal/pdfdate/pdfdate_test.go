package pdfdate

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

func TestExtractFromText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want time.Time
	}{
		{
			name: "day-abbrev-year",
			text: "Quotation valid for 30 days.\nDate: 15-Mar-2026\nTotal: 4,200.00",
			want: time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "slash numeric day first",
			text: "Prepared on 07/04/2026 for Northwind.",
			want: time.Date(2026, time.April, 7, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "dash numeric day first",
			text: "Prepared on 07-04-2026 for Northwind.",
			want: time.Date(2026, time.April, 7, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "month name day year",
			text: "Quotation date: March 9, 2026",
			want: time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "iso",
			text: "doc generated 2026-02-28",
			want: time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "issued keyword wins over earlier dates",
			text: "Printed 01-Jan-2020\nISSUED 12-May-2026\nValid until 12-Jun-2026",
			want: time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "issued keyword is case insensitive",
			text: "issued 3/2/2026",
			want: time.Date(2026, time.February, 3, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractFromText(tt.text, testNow)
			if err != nil {
				t.Fatalf("ExtractFromText failed: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractFromTextRejectsImplausible(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no date at all", "Pump skid, 3 units, FOB works."},
		{"too old without issued keyword", "Catalog ref 12-Mar-1999"},
		{"too far in the future", "Serial 15-Aug-2031"},
		{"day overflow", "30/02/2026"},
		{"month overflow", "15/13/2026"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, err := ExtractFromText(tt.text, testNow); !errors.Is(err, ErrNoDate) {
				t.Errorf("got (%v, %v), want ErrNoDate", got, err)
			}
		})
	}
}

func TestExtractFromTextSkipsInvalidThenFindsValid(t *testing.T) {
	text := "Ref 99-99-2026\nIssued date 18-Feb-2026"
	got, err := ExtractFromText(text, testNow)
	if err != nil {
		t.Fatalf("ExtractFromText failed: %v", err)
	}
	want := time.Date(2026, time.February, 18, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
