package model

import "encoding/json"

// QueryResult is the normalized outcome of running a query on one node.
// Either Rows or Error is meaningful, never both.
type QueryResult struct {
	Node       string
	Rows       [][]any
	Error      string
	PingTimeMs *float64
}

// Failed reports whether the result carries an error instead of rows.
func (r QueryResult) Failed() bool {
	return r.Error != ""
}

// WithPingTime returns a copy of r carrying the probe latency of the chosen node.
func (r QueryResult) WithPingTime(ms float64) QueryResult {
	r.PingTimeMs = &ms
	return r
}

type queryResultJSON struct {
	Node     string   `json:"node"`
	Result   []any    `json:"result"`
	PingTime *float64 `json:"ping_time,omitempty"`
}

// MarshalJSON encodes the result as {"node", "result", "ping_time"}.
// A failed result encodes its error as a single-element result array.
func (r QueryResult) MarshalJSON() ([]byte, error) {
	out := queryResultJSON{
		Node:     r.Node,
		Result:   make([]any, 0, len(r.Rows)),
		PingTime: r.PingTimeMs,
	}
	if r.Failed() {
		out.Result = append(out.Result, r.Error)
	} else {
		for _, row := range r.Rows {
			if row == nil {
				row = []any{}
			}
			out.Result = append(out.Result, row)
		}
	}
	return json.Marshal(out)
}
