package main

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/statetree/storage"
)

// CommandConfig holds the global flags shared by every subcommand.
type CommandConfig struct {
	DataDir       string `json:"datadir"`
	LogLevel      string `json:"log_level"`
	LogJSON       bool   `json:"log_json"`
	DebugModules  string `json:"debug"`
	NodeCacheSize int    `json:"node_cache_size"`
}

func (c *CommandConfig) StoreConfig() storage.Config {
	return storage.Config{Path: c.DataDir, NodeCacheSize: c.NodeCacheSize}
}

func (c *CommandConfig) String() string {
	enc, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error marshaling JSON: %v", err)
	}
	return string(enc)
}
