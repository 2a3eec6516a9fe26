package statistics

import (
	"encoding/json"

	"github.com/hopsworks/expat/internal/fault"
)

// legacyFile is a statistics file written by the profiling job before
// descriptive statistics moved into the database.
type legacyFile struct {
	Columns []legacyColumn `json:"columns"`
}

type legacyColumn struct {
	Column         string    `json:"column"`
	DataType       string    `json:"dataType"`
	Count          *int64    `json:"count"`
	Completeness   *float64  `json:"completeness"`
	NumNonNull     *int64    `json:"numRecordsNonNull"`
	NumNull        *int64    `json:"numRecordsNull"`
	ApproxDistinct *int64    `json:"approximateNumDistinctValues"`
	Min            *float64  `json:"minimum"`
	Max            *float64  `json:"maximum"`
	Sum            *float64  `json:"sum"`
	Mean           *float64  `json:"mean"`
	StdDev         *float64  `json:"stdDev"`
	Percentiles    []float64 `json:"approxPercentiles"`
	Distinctness   *float64  `json:"distinctness"`
	Entropy        *float64  `json:"entropy"`
	Uniqueness     *float64  `json:"uniqueness"`
	ExactDistinct  *int64    `json:"exactNumDistinctValues"`

	Histogram    json.RawMessage `json:"histogram,omitempty"`
	Correlations json.RawMessage `json:"correlations,omitempty"`
	KLL          json.RawMessage `json:"kll,omitempty"`
	UniqueValues json.RawMessage `json:"unique_values,omitempty"`
}

// extended holds the statistics kept in a file next to the database row.
type extended struct {
	Histogram    json.RawMessage `json:"histogram,omitempty"`
	Correlations json.RawMessage `json:"correlations,omitempty"`
	KLL          json.RawMessage `json:"kll,omitempty"`
	UniqueValues json.RawMessage `json:"unique_values,omitempty"`
}

func parseLegacy(data []byte) ([]legacyColumn, error) {
	var f legacyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fault.DataShape.New("unreadable statistics file: %v", err)
	}
	for i, c := range f.Columns {
		if c.Column == "" {
			return nil, fault.DataShape.New("statistics column %d has no name", i)
		}
	}
	return f.Columns, nil
}

// extendedJSON returns the file content of the extended statistics, or nil
// when the column has none.
func (c legacyColumn) extendedJSON() ([]byte, error) {
	e := extended{Histogram: c.Histogram, Correlations: c.Correlations, KLL: c.KLL, UniqueValues: c.UniqueValues}
	if len(e.Histogram) == 0 && len(e.Correlations) == 0 && len(e.KLL) == 0 && len(e.UniqueValues) == 0 {
		return nil, nil
	}
	return json.Marshal(e)
}

// percentiles is stored as a JSON array.
func (c legacyColumn) percentiles() any {
	if len(c.Percentiles) == 0 {
		return nil
	}
	b, _ := json.Marshal(c.Percentiles)
	return b
}

// value dereferences p so that nil pointers become SQL NULL and logged
// arguments show values rather than addresses.
func value[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
