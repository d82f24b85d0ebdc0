package types

// QueryResult is a single ranked search hit
type QueryResult struct {
	Text      string     `json:"text"`
	Reference string     `json:"url"`
	Name      string     `json:"file"`
	Source    SourceKind `json:"source"`
	Distance  float64    `json:"distance"` // smaller is closer
}

// SearchResponse is the envelope returned across the tool boundary.
// Error is set only on failure, in which case Results is empty.
type SearchResponse struct {
	Error   string        `json:"error,omitempty"`
	Results []QueryResult `json:"results"`
}

// NewErrorResponse builds a failure envelope with an empty, non-nil result list
func NewErrorResponse(err error) SearchResponse {
	return SearchResponse{
		Error:   err.Error(),
		Results: []QueryResult{},
	}
}

// NewResultResponse builds a success envelope
func NewResultResponse(results []QueryResult) SearchResponse {
	if results == nil {
		results = []QueryResult{}
	}
	return SearchResponse{Results: results}
}

// Ordered reports whether results are sorted by non-decreasing distance
func Ordered(results []QueryResult) bool {
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			return false
		}
	}
	return true
}
