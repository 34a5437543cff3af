package storage

import (
	"encoding/json"
	"fmt"
)

const DefaultNodeCacheSize = 4096

// Config configures a LevelDBNodeStore.
type Config struct {
	Path          string `json:"path"`            // empty keeps the database in memory
	NodeCacheSize int    `json:"node_cache_size"` // decoded nodes kept in the read cache
}

func DefaultConfig() Config {
	return Config{NodeCacheSize: DefaultNodeCacheSize}
}

func (c Config) String() string {
	enc, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error marshaling JSON: %v", err)
	}
	return string(enc)
}
