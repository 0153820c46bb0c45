// Package config loads the TOML configuration file describing a
// simulation run, in the style of the teacher lineage's cmd/ranger/config.go
// loader.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"
	"unicode"

	"github.com/naoina/toml"
)

// tomlSettings keeps TOML keys identical to the Go struct field names,
// exactly as the teacher's ranger config loader configures it.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see godoc for %s#%s", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// AccountConfig is one simulated account: its address and the shared
// fixture key used to produce its keyed-MAC "signature" (spec §1, §9).
// Accounts start at a zero balance: the only source of new supply is the
// coinbase reward a miner collects, matching the spec's Bitcoin-derived
// economic model.
type AccountConfig struct {
	Address string
	Key     string
}

// PeerConfig is a dialable bootstrap peer.
type PeerConfig struct {
	Host string
	Port int
}

// NodeConfig is one simulated node's settings.
type NodeConfig struct {
	PeerID       string
	ListenPort   int
	MinerAddress string
	AutoMine     bool
	KnownPeers   []PeerConfig
}

// NetworkConfig describes fault injection settings for the nodes'
// transports (spec §4.5, §6). It is decoded from the TOML file only; the
// simnode entrypoint does not apply it to any node's transport.
type NetworkConfig struct {
	DropProbability float64
	DelayMs         int
	UniformDelay    bool
}

// Config is the top-level simulation run description, loaded from a TOML
// file and overlaid with CLI flags.
type Config struct {
	Difficulty       int
	BlockReward      float64
	MaxTxsPerBlock   int
	ChainSyncTimeout time.Duration
	OrphanBufferSize int

	Accounts []AccountConfig
	Nodes    []NodeConfig
	Network  NetworkConfig
}

// Default returns a Config with the simulation defaults used when no TOML
// file is supplied.
func Default() Config {
	return Config{
		Difficulty:       2,
		BlockReward:      50,
		MaxTxsPerBlock:   500,
		ChainSyncTimeout: 5 * time.Second,
		OrphanBufferSize: 64,
	}
}

// Load reads and decodes a TOML configuration file on top of Default().
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	return cfg, err
}
