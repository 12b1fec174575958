package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

const (
	defaultServerCachedObjects = 64
	defaultFetchSize           = 512
)

type Member struct {
	Addr       string `json:"addr" toml:"addr" yaml:"addr"`
	Datacenter string `json:"datacenter" toml:"datacenter" yaml:"datacenter"`
}

type NodeCfg struct {
	LogLevel   string `json:"log_level" toml:"log_level" yaml:"log_level"`
	Addr       string `json:"addr" toml:"addr" yaml:"addr"`
	Datacenter string `json:"datacenter" toml:"datacenter" yaml:"datacenter"`

	Seeds   []string `json:"seeds" toml:"seeds" yaml:"seeds"`
	Members []Member `json:"members" toml:"members" yaml:"members"`

	ReplicationFactor int `json:"replication_factor" toml:"replication_factor" yaml:"replication_factor"`

	// Prepared-statement id window kept by peers; commands whose id falls out
	// of the window must re-prepare.
	ServerCachedObjects int `json:"server_cached_objects" toml:"server_cached_objects" yaml:"server_cached_objects"`
	FetchSize           int `json:"fetch_size" toml:"fetch_size" yaml:"fetch_size"`
}

var cfgNode = NodeCfg{
	ServerCachedObjects: defaultServerCachedObjects,
	FetchSize:           defaultFetchSize,
}

func LoadNodeCfg(cfgPath string) error {
	file, err := os.Open(cfgPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()

	if err := yaml.NewDecoder(file).Decode(&cfgNode); err != nil {
		return err
	}

	if cfgNode.ServerCachedObjects == 0 {
		cfgNode.ServerCachedObjects = defaultServerCachedObjects
	}
	if cfgNode.FetchSize == 0 {
		cfgNode.FetchSize = defaultFetchSize
	}
	return nil
}

func NodeConfig() *NodeCfg {
	return &cfgNode
}
