package models

// StatusConfig is the configuration summary reported by status.
type StatusConfig struct {
	IndexType       string `json:"index_type"`
	DistanceMetric  string `json:"distance_metric"`
	Dimension       int    `json:"dimension"`
	ChunkCapacity   int    `json:"chunk_capacity"`
	MaxActiveChunks int    `json:"max_active_chunks"`
	StorageBackend  string `json:"storage_backend"`
	ChunksPath      string `json:"chunks_path,omitempty"`
	CatalogPath     string `json:"catalog_path,omitempty"`
}

// StatusResponse is the shape of GET /api/v1/status.
type StatusResponse struct {
	Records        int64         `json:"records"`
	Chunks         int64         `json:"chunks"`
	ActiveChunks   int           `json:"active_chunks"`
	OpenStreams    int           `json:"open_streams"`
	DiskUsageBytes *int64        `json:"disk_usage_bytes,omitempty"`
	Config         *StatusConfig `json:"config,omitempty"`
}
