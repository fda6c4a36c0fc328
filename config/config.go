package config

import "time"

type (
	// Torrent identifies the torrent this node participates in and where
	// its bytes live.
	Torrent struct {
		// InitialSegment is the full name of the first torrent-file
		// segment, e.g. /ntd/demo/torrent-file/0/<digest>.
		InitialSegment string `yaml:"initialSegment"`
		// DataDir is where reconstructed payload files are written.
		DataDir string `yaml:"dataDir"`
		// SeedOnly keeps the node alive to serve requests once (or
		// instead of) downloading.
		SeedOnly bool `yaml:"seedOnly"`
	}

	// Tuning contains the request-scheduling knobs.
	Tuning struct {
		// WindowSize is the maximum number of in-flight interests.
		WindowSize int `yaml:"windowSize"`
		// MaxRetries is the number of consecutive failures before the
		// peer cursor advances.
		MaxRetries int `yaml:"maxRetries"`
		// SortingInterval is the number of interests between stats-table
		// re-sorts.
		SortingInterval int `yaml:"sortingInterval"`
		// PacketCacheSize bounds the seeder's packet read cache.
		PacketCacheSize int `yaml:"packetCacheSize"`
		// AliveInterval is how long the peer view stays fresh.
		AliveInterval time.Duration `yaml:"aliveInterval"`
	}

	// Peer maps a peer's routable prefix to its UDP address.
	Peer struct {
		Prefix  string `yaml:"prefix"`
		Address string `yaml:"address"`
	}

	// Face contains the transport settings.
	Face struct {
		// ListenAddress is the UDP address this node receives on.
		ListenAddress string `yaml:"listenAddress"`
		// OwnPrefix is this node's routable prefix.
		OwnPrefix string `yaml:"ownPrefix"`
		// Peers are the initial members of the stats table.
		Peers []Peer `yaml:"peers"`
	}

	// API contains the listen address of the API server
	API struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
	}

	// Log contains the log settings
	Log struct {
		Level string `yaml:"level"`
	}

	// Config contains the configuration for ntd
	Config struct {
		Torrent Torrent `yaml:"torrent"`
		Tuning  Tuning  `yaml:"tuning"`
		Face    Face    `yaml:"face"`
		API     API     `yaml:"api"`
		Log     Log     `yaml:"log"`
	}
)
