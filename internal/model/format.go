package model

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatArea renders square footage with thousands separators, e.g. "2,150 sq ft".
func FormatArea(sqft float64) string {
	return printer.Sprintf("%.0f sq ft", sqft)
}

// FormatPercent renders a 0-1 ratio as a whole percentage.
func FormatPercent(ratio float64) string {
	return printer.Sprintf("%.0f%%", ratio*100)
}
