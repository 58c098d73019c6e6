package series

import (
	"strings"
	"time"
)

const (
	// AllDevices selects every known device. Matched case-insensitively.
	AllDevices = "all"

	// YearlyDepth is the depth (hours) from which the yearly weekly view is served.
	YearlyDepth = 8760

	// MaxHours bounds depth and forecast.
	MaxHours = 10 * YearlyDepth
)

// Default rendering hints, used when a device has no colour of its own.
const (
	DefaultTempColor = "#FF6384"
	DefaultHumColor  = "#36A2EB"
	RainColor        = "#4BC0C0"

	rightAxis = "right-y-axis"
	leftAxis  = "left-y-axis"
)

// Window is a query over [now-Depth, now+Forecast] hours for one device or all.
type Window struct {
	Depth    int
	Forecast int
	Device   string
}

// AllDevices reports whether the window covers every device. An empty
// filter means all.
func (w Window) AllDevices() bool {
	return IsAll(w.Device)
}

// TotalHours is the span the sampling step is chosen from.
func (w Window) TotalHours() int {
	return w.Depth + w.Forecast
}

// IsAll reports whether a device filter is the "all" sentinel.
func IsAll(device string) bool {
	return device == "" || strings.EqualFold(device, AllDevices)
}

// Dataset is one aligned series with its chart rendering hints.
type Dataset struct {
	Label       string     `json:"label"`
	Fill        bool       `json:"fill"`
	BorderColor string     `json:"borderColor"`
	Data        []*float64 `json:"data"`
	YAxisID     string     `json:"yAxisID"`
	Type        string     `json:"type,omitempty"`
}

// ChartData is the shared label axis plus every dataset aligned to it.
type ChartData struct {
	Labels      []string  `json:"labels"`
	Datasets    []Dataset `json:"datasets"`
	BorderWidth int       `json:"borderWidth"`
}

// SummaryRow holds the statistics of one dataset. Nil means no value.
type SummaryRow struct {
	Label string   `json:"label"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Curr  *float64 `json:"curr"`
}

// Result is the response of a normal window query.
type Result struct {
	ChartData ChartData    `json:"chartdata"`
	Summary   []SummaryRow `json:"summary"`
	Timestamp string       `json:"timestamp"`

	// Axis holds the times behind ChartData.Labels.
	Axis []time.Time `json:"-"`
	// CurrentIndex is the axis position of "now", -1 for an empty axis.
	CurrentIndex int `json:"-"`
}

// EmptyResult is a valid result with no series.
func EmptyResult() *Result {
	return &Result{
		ChartData: ChartData{
			Labels:      []string{},
			Datasets:    []Dataset{},
			BorderWidth: 1,
		},
		Summary:      []SummaryRow{},
		Axis:         []time.Time{},
		CurrentIndex: -1,
	}
}

// Candle is the weekly statistics of one measurement kind.
type Candle struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// YearResult is the response of the yearly view: one candle per week.
type YearResult struct {
	ChartType   string    `json:"chartType"`
	Labels      []string  `json:"labels"`
	DeviceLabel string    `json:"deviceLabel"`
	TempColor   string    `json:"tempColor"`
	HumColor    string    `json:"humColor"`
	TempData    []*Candle `json:"tempData"`
	HumData     []*Candle `json:"humData"`

	// WeekStarts holds the Monday behind each label.
	WeekStarts []time.Time `json:"-"`
}
