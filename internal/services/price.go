package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// The BGN amount is the run of digits, group separators and decimal comma right
// before "лв". NBSP variants show up in some feed exports.
var reBGN = regexp.MustCompile(`([\d\s\x{00A0}\x{202F},]+)\s*лв`)

var groupSep = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "\t", "", "\n", "", "\r", "")

// ParsePrice extracts the BGN amount from a price description such as
// "35 858,96 € / 70 134,03 лв.". It returns +Inf when there is no BGN amount or
// it does not parse, so unpriced listings rank last.
func ParsePrice(text string) float64 {
	if text == "" {
		return math.Inf(1)
	}
	m := reBGN.FindStringSubmatch(text)
	if m == nil {
		return math.Inf(1)
	}
	clean := strings.ReplaceAll(groupSep.Replace(m[1]), ",", ".")
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}
