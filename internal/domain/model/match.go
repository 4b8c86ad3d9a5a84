package model

// MatchStatus classifies the outcome of a TxID resolution.
type MatchStatus string

const (
	MatchExact     MatchStatus = "exact"
	MatchFuzzy     MatchStatus = "fuzzy"
	MatchAmbiguous MatchStatus = "ambiguous"
	MatchNotFound  MatchStatus = "not_found"
)

func (s MatchStatus) String() string {
	return string(s)
}

// MatchResult is the resolver output. Record is set for exact and fuzzy
// outcomes; Candidates carries the tied records for ambiguous outcomes,
// ordered score descending then recency descending.
type MatchResult struct {
	Status     MatchStatus
	Record     *Record
	Candidates []Record
	Confidence float64
}
