package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/andres-erbsen/clock"
	"github.com/ndn-torrent/ntd/build"
	"github.com/ndn-torrent/ntd/config"
	shttp "github.com/ndn-torrent/ntd/http"
	"github.com/ndn-torrent/ntd/manager"
	"github.com/ndn-torrent/ntd/ndn"
	"github.com/ndn-torrent/ntd/ndn/udpface"
	"github.com/ndn-torrent/ntd/peers"
	"github.com/ndn-torrent/ntd/persist/badger"
	"github.com/ndn-torrent/ntd/storage"
	"github.com/ndn-torrent/ntd/torrent"
	"github.com/ndn-torrent/ntd/update"
	"go.sia.tech/jape"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var (
	dir        = "."
	createName = ""
	cfg        = config.Config{
		Torrent: config.Torrent{
			DataDir: "data",
		},
		Face: config.Face{
			ListenAddress: ":6363",
		},
		API: config.API{
			Address: ":8081",
		},
		Log: config.Log{
			Level: "info",
		},
	}
)

// mustLoadConfig loads the config file.
func mustLoadConfig(dir string, log *zap.Logger) {
	configPath := filepath.Join(dir, "ntd.yml")

	// If the config file doesn't exist, don't try to load it.
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return
	}

	f, err := os.Open(configPath)
	if err != nil {
		log.Fatal("failed to open config file", zap.Error(err))
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		log.Fatal("failed to decode config file", zap.Error(err))
	}
}

// mustCreateTorrent packetizes the data directory into a descriptor tree,
// persists it under the appdata directory, and returns the initial segment
// full name.
func mustCreateTorrent(name, dataDir, appDir string, log *zap.Logger) ndn.Name {
	built, err := torrent.Build(dataDir, torrent.BuildOptions{
		TorrentPrefix: ndn.Name{}.AppendString("ntd", name),
	})
	if err != nil {
		log.Fatal("failed to build torrent", zap.Error(err))
	}
	for _, s := range built.Segments {
		if err := storage.WriteSegment(s, filepath.Join(appDir, "torrent_files")); err != nil {
			log.Fatal("failed to persist torrent segment", zap.Error(err))
		}
	}
	for _, m := range built.Manifests {
		if err := storage.WriteManifest(m, filepath.Join(appDir, "manifests")); err != nil {
			log.Fatal("failed to persist manifest", zap.Error(err))
		}
	}
	log.Info("created torrent",
		zap.Int("segments", len(built.Segments)),
		zap.Int("manifests", len(built.Manifests)),
		zap.Stringer("initialSegment", built.InitialName()))
	return built.InitialName()
}

func main() {
	// configure console logging note: this is configured before anything else
	// to have consistent logging. The level is replaced with the configured
	// one after the cli flags and config are parsed
	consoleCfg := zap.NewProductionEncoderConfig()
	consoleCfg.TimeKey = "" // prevent duplicate timestamps
	consoleCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	consoleCfg.EncodeDuration = zapcore.StringDurationEncoder
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleCfg.StacktraceKey = ""
	consoleCfg.CallerKey = ""
	consoleEncoder := zapcore.NewConsoleEncoder(consoleCfg)

	// log info messages to console until the configured level is known
	consoleCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), zap.NewAtomicLevelAt(zap.InfoLevel))
	log := zap.New(consoleCore, zap.AddCaller())
	defer log.Sync()
	// redirect stdlib log to zap
	zap.RedirectStdLog(log.Named("stdlib"))

	flag.StringVar(&dir, "dir", dir, "directory to use for data")
	flag.StringVar(&createName, "create", createName, "packetize the data directory as a new torrent with this name and seed it")
	flag.Parse()

	mustLoadConfig(dir, log)

	var level zap.AtomicLevel
	switch cfg.Log.Level {
	case "debug":
		level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		log.Fatal("invalid log level", zap.String("level", cfg.Log.Level))
	}

	log = log.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level)
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	dataDir := cfg.Torrent.DataDir
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(dir, dataDir)
	}

	var initial ndn.Name
	if createName != "" {
		appDir := filepath.Join(dir, ".appdata", createName)
		initial = mustCreateTorrent(createName, dataDir, appDir, log)
		cfg.Torrent.SeedOnly = true
	} else {
		var err error
		initial, err = ndn.ParseName(cfg.Torrent.InitialSegment)
		if err != nil {
			log.Fatal("failed to parse initial segment name", zap.Error(err))
		} else if torrent.Classify(initial) != torrent.EntitySegment || !initial.HasDigest() {
			log.Fatal("initial segment name must be a torrent-file full name", zap.Stringer("name", initial))
		}
	}
	torrentName := string(initial.Get(1))
	appDir := filepath.Join(dir, ".appdata", torrentName)

	db, err := badger.OpenDatabase(filepath.Join(dir, "ntd.badgerdb"), log.Named("badger"))
	if err != nil {
		log.Fatal("failed to open badger database", zap.Error(err))
	}
	defer db.Close()

	ownPrefix, err := ndn.ParseName(cfg.Face.OwnPrefix)
	if err != nil {
		log.Fatal("failed to parse own prefix", zap.Error(err))
	}

	var routes []udpface.Route
	var peerPrefixes []ndn.Name
	for _, p := range cfg.Face.Peers {
		prefix, err := ndn.ParseName(p.Prefix)
		if err != nil {
			log.Fatal("failed to parse peer prefix", zap.String("prefix", p.Prefix), zap.Error(err))
		}
		routes = append(routes, udpface.Route{Prefix: prefix, Addr: p.Address})
		peerPrefixes = append(peerPrefixes, prefix)
	}

	clk := clock.New()
	face, err := udpface.New(cfg.Face.ListenAddress, routes, clk, log.Named("face"))
	if err != nil {
		log.Fatal("failed to open face", zap.Error(err))
	}
	defer face.Stop()

	table := peers.NewTable(peerPrefixes...)
	upd := update.NewAliveHandler(face, ownPrefix, cfg.Tuning.AliveInterval, clk, log.Named("update"))
	store := storage.New(appDir, dataDir, initial, log.Named("storage"))

	mgr, err := manager.New(face, store, table, upd, db, initial, manager.Options{
		WindowSize:      cfg.Tuning.WindowSize,
		MaxRetries:      cfg.Tuning.MaxRetries,
		SortingInterval: cfg.Tuning.SortingInterval,
		PacketCacheSize: cfg.Tuning.PacketCacheSize,
		SeedOnly:        cfg.Torrent.SeedOnly,
	}, log.Named("manager"))
	if err != nil {
		log.Fatal("failed to create torrent manager", zap.Error(err))
	}

	if err := mgr.Initialize(); err != nil {
		log.Fatal("failed to initialize torrent manager", zap.Error(err))
	}
	// never pick ourselves as a forwarding hint
	mgr.ErasePeer(ownPrefix)

	apiListener, err := net.Listen("tcp", cfg.API.Address)
	if err != nil {
		log.Fatal("failed to listen", zap.Error(err))
	}
	defer apiListener.Close()

	apiServer := &http.Server{
		Handler: jape.BasicAuth(cfg.API.Password)(shttp.NewAPIHandler(mgr, log.Named("api"))),
	}
	defer apiServer.Close()

	go func() {
		if err := apiServer.Serve(apiListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to serve api", zap.Error(err))
		}
	}()

	log.Info("ntd started",
		zap.Stringer("initialSegment", initial),
		zap.String("listenAddress", face.LocalAddr().String()),
		zap.String("apiAddress", apiListener.Addr().String()),
		zap.Bool("seedOnly", cfg.Torrent.SeedOnly),
		zap.String("version", build.Version()),
		zap.String("revision", build.Commit()))

	if !cfg.Torrent.SeedOnly {
		mgr.DownloadAll(func(name ndn.Name, reason string) {
			log.Warn("request failed", zap.Stringer("name", name), zap.String("reason", reason))
		})
	}

	select {
	case <-ctx.Done():
		mgr.Shutdown()
	case <-mgr.Done():
	}
}
