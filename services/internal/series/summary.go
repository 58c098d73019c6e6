package series

import "regexp"

var icons = []struct {
	re   *regexp.Regexp
	icon string
}{
	{regexp.MustCompile(`(?i)Temp:`), "&#127777;"},
	{regexp.MustCompile(`(?i)Pluie:`), "&#x1F327;"},
	{regexp.MustCompile(`(?i)Hum:`), "&#x1F4A7;"},
}

// summaryLabel swaps the measurement prefixes for compact icons.
func summaryLabel(label string) string {
	for _, ic := range icons {
		label = ic.re.ReplaceAllLiteralString(label, ic.icon)
	}
	return label
}

// summarize computes min, max and the value at idx. An all-nil series has
// nil min and max.
func summarize(ds Dataset, idx int) SummaryRow {
	row := SummaryRow{Label: summaryLabel(ds.Label)}
	for _, v := range ds.Data {
		if v == nil {
			continue
		}
		if row.Min == nil || *v < *row.Min {
			row.Min = v
		}
		if row.Max == nil || *v > *row.Max {
			row.Max = v
		}
	}
	if idx >= 0 && idx < len(ds.Data) {
		row.Curr = ds.Data[idx]
	}
	return row
}
