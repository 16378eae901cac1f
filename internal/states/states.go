// Package states knows the 50 US state names the fire-call backend reports
// and normalises operator input ("tx", "new york") to those names.
package states

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Unknown is reported for locations without a recognisable state suffix.
const Unknown = "Unknown"

var byAbbreviation = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas",
	"CA": "California", "CO": "Colorado", "CT": "Connecticut", "DE": "Delaware",
	"FL": "Florida", "GA": "Georgia", "HI": "Hawaii", "ID": "Idaho",
	"IL": "Illinois", "IN": "Indiana", "IA": "Iowa", "KS": "Kansas",
	"KY": "Kentucky", "LA": "Louisiana", "ME": "Maine", "MD": "Maryland",
	"MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota", "MS": "Mississippi",
	"MO": "Missouri", "MT": "Montana", "NE": "Nebraska", "NV": "Nevada",
	"NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico", "NY": "New York",
	"NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio", "OK": "Oklahoma",
	"OR": "Oregon", "PA": "Pennsylvania", "RI": "Rhode Island", "SC": "South Carolina",
	"SD": "South Dakota", "TN": "Tennessee", "TX": "Texas", "UT": "Utah",
	"VT": "Vermont", "VA": "Virginia", "WA": "Washington", "WV": "West Virginia",
	"WI": "Wisconsin", "WY": "Wyoming",
}

var (
	names  []string
	byName = make(map[string]string, len(byAbbreviation))
	titler = cases.Title(language.AmericanEnglish)
)

func init() {
	for _, name := range byAbbreviation {
		names = append(names, name)
		byName[strings.ToLower(name)] = name
	}
	sort.Strings(names)
}

// All returns the state names in alphabetical order.
func All() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// IsState reports whether name is one of the canonical state names.
func IsState(name string) bool {
	canonical, ok := byName[strings.ToLower(name)]
	return ok && canonical == name
}

// Normalize maps an abbreviation or a name in any letter case to the canonical
// state name.
func Normalize(input string) (string, error) {
	trimmed := strings.Join(strings.Fields(input), " ")
	if trimmed == "" {
		return "", fmt.Errorf("empty state name")
	}
	if name, ok := byAbbreviation[strings.ToUpper(trimmed)]; ok {
		return name, nil
	}
	if name, ok := byName[strings.ToLower(trimmed)]; ok {
		return name, nil
	}
	return "", fmt.Errorf("unknown US state %q", titler.String(trimmed))
}

// NormalizeAll normalises every entry and drops duplicates, keeping first-seen order.
func NormalizeAll(inputs []string) ([]string, error) {
	seen := make(map[string]bool, len(inputs))
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		name, err := Normalize(in)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}

// FromLocation derives the state from a "City, ST" location string.
func FromLocation(location string) string {
	parts := strings.Split(location, ",")
	if len(parts) < 2 {
		return Unknown
	}
	abbr := strings.ToUpper(strings.TrimSpace(parts[len(parts)-1]))
	if name, ok := byAbbreviation[abbr]; ok {
		return name
	}
	return abbr
}
