package models

// SearchResult is a single ranked hit.
type SearchResult struct {
	Record *Record `json:"record"`
	// Score is the boosted similarity used for ranking.
	Score float64 `json:"score"`
	// Similarity is the raw metric similarity before boosts.
	Similarity float64 `json:"similarity"`
	ChunkID    string  `json:"chunk_id"`
	Rank       int     `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Requested int             `json:"requested"`
	// Incomplete is set when fewer than Requested results survived filtering.
	Incomplete bool `json:"incomplete"`
	// Partial is set when a deadline stopped the search before every chunk was searched.
	Partial        bool  `json:"partial"`
	ChunksSearched int   `json:"chunks_searched"`
	ChunksTotal    int   `json:"chunks_total"`
	Filtered       int   `json:"filtered"`
	QueryTime      int64 `json:"query_time_ms"`
}

// StreamBatch is one pull from a streaming search session.
type StreamBatch struct {
	Handle   string          `json:"handle"`
	Results  []*SearchResult `json:"results"`
	Complete bool            `json:"complete"`
	// Exhausted is set when the pull found no more chunks to search.
	Exhausted bool `json:"exhausted"`
	Partial   bool `json:"partial"`
}
