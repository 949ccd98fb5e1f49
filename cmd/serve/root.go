package serve

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cmdUtil "github.com/stratadb/strata/cmd/util"
	"github.com/stratadb/strata/lib/cluster"
	"github.com/stratadb/strata/lib/command"
	"github.com/stratadb/strata/lib/db"
	"github.com/stratadb/strata/lib/node"
	"github.com/stratadb/strata/lib/outbound"
	"github.com/stratadb/strata/lib/plugin"
	"github.com/stratadb/strata/lib/plugin/builtin"
	"github.com/stratadb/strata/rpc/common"
	"github.com/stratadb/strata/rpc/server"

	_ "net/http/pprof"
)

var log = logger.GetLogger("server")

// Version is the version string reported to clients. The root command sets
// it before execution.
var Version = "dev"

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a strata node",
		Long:    `Start a strata node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is STRATA_<flag> (e.g. STRATA_LOG_LEVEL=debug)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "name"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Node name reported to clients (defaults to the hostname)"))

	key = "db"
	ServeCmd.PersistentFlags().String(key, "strata.db", cmdUtil.WrapString("Path of the SQLite database file"))

	key = "cache-size"
	ServeCmd.PersistentFlags().Int(key, 10000, cmdUtil.WrapString("Page cache budget of the SQL engine in KB"))

	key = "max-journal-size"
	ServeCmd.PersistentFlags().Int64(key, 1000000, cmdUtil.WrapString("Number of journal rows retained after a commit"))

	key = "read-only"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Reject all write commands on this node"))

	key = "priority"
	ServeCmd.PersistentFlags().Uint64(key, 100, cmdUtil.WrapString("Election priority of this node, reported to clients"))

	key = "plugins"
	ServeCmd.PersistentFlags().String(key, "Status,DB,Jobs", cmdUtil.WrapString("Comma-separated list of plugins to enable"))

	key = "synchronous-commands"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of commands that are never pipelined: the server answers them before reading the next request from the same connection"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "localhost:8888", cmdUtil.WrapString("The address the command server listens on (host:port or unix:///path/to.sock)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional address serving Prometheus metrics and pprof (e.g. localhost:9090)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 60, cmdUtil.WrapString("Connection read/write timeout in seconds"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "quorum-checkpoint"
	ServeCmd.PersistentFlags().Uint64(key, 1000, cmdUtil.WrapString("Force a WAL checkpoint after this many commits (0 disables)"))

	key = "replica-id"
	ServeCmd.PersistentFlags().Uint64(key, 1, cmdUtil.WrapString("(Cluster Mode) Unique ID of this replica within the cluster"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(Cluster Mode) Comma-separated list of RAFT addresses in the format '1=localhost:63001,2=localhost:63002'. Leave empty to run standalone"))

	key = "join"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("(Cluster Mode) Join an already-running cluster instead of bootstrapping a new one"))

	key = "shard-id"
	ServeCmd.PersistentFlags().Uint64(key, 100, cmdUtil.WrapString("(Cluster Mode) RAFT shard ID shared by all cluster members"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(Cluster Mode) Directory for the RAFT log and snapshots"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Uint64(key, 100, cmdUtil.WrapString("(Cluster Mode) Average round trip time between cluster members in milliseconds. Election and heartbeat intervals are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Uint64(key, 10000, cmdUtil.WrapString("(Cluster Mode) Number of applied entries between automatic snapshots"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Uint64(key, 5000, cmdUtil.WrapString("(Cluster Mode) Number of entries retained below a snapshot for slow followers"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// the node identity defaults to the hostname
	name := viper.GetString("name")
	if name == "" {
		name, _ = os.Hostname()
	}
	if name == "" {
		name = "strata"
	}

	serveCmdConfig.Node = common.NodeConfig{
		Name:                name,
		Version:             Version,
		Priority:            viper.GetUint64("priority"),
		DBPath:              viper.GetString("db"),
		CacheSizeKB:         viper.GetInt("cache-size"),
		MaxJournalSize:      viper.GetInt64("max-journal-size"),
		ReadOnly:            viper.GetBool("read-only"),
		Plugins:             splitList(viper.GetString("plugins")),
		SynchronousCommands: splitList(viper.GetString("synchronous-commands")),
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	clusterConf := cluster.DefaultConfig()
	clusterConf.ShardID = viper.GetUint64("shard-id")
	clusterConf.ReplicaID = viper.GetUint64("replica-id")
	clusterConf.Join = viper.GetBool("join")
	clusterConf.DataDir = viper.GetString("data-dir")
	clusterConf.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	clusterConf.SnapshotEntries = viper.GetUint64("snapshot-entries")
	clusterConf.CompactionOverhead = viper.GetUint64("compaction-overhead")
	clusterConf.QuorumCheckpoint = viper.GetUint64("quorum-checkpoint")

	// parse cluster members, an empty list runs the node standalone
	if members := viper.GetString("cluster-members"); members != "" {
		clusterConf.Members = make(map[uint64]string)
		for _, member := range strings.Split(members, ",") {
			parts := strings.Split(member, "=")
			if len(parts) != 2 {
				return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
			}
			id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid replica ID %s: %v", parts[0], err)
			}
			clusterConf.Members[id] = strings.TrimSpace(parts[1])
		}

		// this node's RAFT address comes from the members list
		if _, ok := clusterConf.Members[clusterConf.ReplicaID]; !ok {
			return fmt.Errorf("no address found for replica ID %d in cluster members", clusterConf.ReplicaID)
		}
		serveCmdConfig.Standalone = false
	} else {
		serveCmdConfig.Standalone = true
	}
	serveCmdConfig.Cluster = clusterConf

	return nil
}

// run assembles the node and serves commands until interrupted
func run(_ *cobra.Command, _ []string) error {
	conf := serveCmdConfig

	common.InitLoggers(conf.LogLevel)

	// the SQL engine
	database, err := db.Open(conf.Node.ToDBConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	// the plugins commands are dispatched to
	registry := plugin.NewRegistry()
	registry.Register(builtin.NewStatus())
	registry.Register(builtin.NewDB())
	registry.Register(builtin.NewJobs())
	registry.Configure(conf.Node.Plugins)

	// the manager for outbound sub-requests (webhooks etc.)
	out := outbound.NewManager(time.Duration(conf.TimeoutSecond) * time.Second)
	defer out.Close()

	// the command pipeline
	n := node.New(node.Options{
		Name:     conf.Node.Name,
		Version:  conf.Node.Version,
		ReadOnly: conf.Node.ReadOnly,
		Registry: registry,
		Outbound: out,
	})

	// the committer: standalone nodes commit locally, cluster members
	// replicate every commit through RAFT
	var committer cluster.ICommitter
	var events *cluster.Events
	if conf.Standalone {
		committer = cluster.NewLocalCommitter(database, conf.Cluster.QuorumCheckpoint)
	} else {
		events = cluster.NewEvents(conf.Cluster.ShardID, conf.Cluster.ReplicaID)

		nodeHost, err := dragonboat.NewNodeHost(conf.Cluster.ToNodeHostConfig(events))
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}

		initialMembers := conf.Cluster.Members
		if conf.Cluster.Join {
			initialMembers = nil
		}
		factory := cluster.CreateStateMachineFactory(database, conf.Cluster.QuorumCheckpoint)
		if err := nodeHost.StartOnDiskReplica(initialMembers, conf.Cluster.Join, factory, conf.Cluster.ToDragonboatConfig()); err != nil {
			nodeHost.Close()
			return fmt.Errorf("failed to start replica: %w", err)
		}

		committer = cluster.NewDistributedCommitter(nodeHost, conf.Cluster, database, events)
		n.SetState(node.StateWaiting)
	}
	defer committer.Close()

	serv := server.NewServer(*conf, n, database, committer)

	if events == nil {
		// standalone nodes upgrade their schema right at startup
		if !conf.Node.ReadOnly {
			serv.Submit(command.NewRequest(command.MethodUpgradeDatabase))
		}
	} else {
		// leadership changes drive the node state, the first election win
		// triggers the schema upgrade
		var upgraded atomic.Bool
		events.Notify(func(leading, hasLeader bool) {
			switch {
			case leading:
				n.SetState(node.StateLeading)
				if upgraded.CompareAndSwap(false, true) {
					serv.Submit(command.NewRequest(command.MethodUpgradeDatabase))
				}
			case hasLeader:
				n.SetState(node.StateFollowing)
			default:
				n.SetState(node.StateWaiting)
			}
		})

		// report when the cluster becomes usable
		go func() {
			if !events.WaitForLeader() {
				log.Warningf("no leader elected within the patience window")
				return
			}
			count, err := committer.CommitCount()
			if err != nil {
				log.Warningf("cluster readiness probe failed: %v", err)
				return
			}
			log.Infof("cluster ready at commit count %d", count)
		}()
	}

	if conf.MetricsEndpoint != "" {
		serveMetrics(conf.MetricsEndpoint, serv, database, out)
	}

	// serve until the process is interrupted
	errCh := make(chan error, 1)
	go func() { errCh <- serv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
		serv.Stop()
		return nil
	}
}

// serveMetrics exposes Prometheus metrics and pprof on its own listener.
func serveMetrics(endpoint string, serv *server.Server, database *db.DB, out *outbound.Manager) {
	metrics.NewGauge(`strata_server_queue_depth`, func() float64 {
		return float64(serv.QueueDepth())
	})
	metrics.NewGauge(`strata_db_commit_count`, func() float64 {
		return float64(database.CommitCount())
	})
	metrics.NewGauge(`strata_outbound_open_transactions`, func() float64 {
		return float64(out.Outstanding())
	})

	http.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	go func() {
		log.Infof("metrics listening on %s", endpoint)
		if err := http.ListenAndServe(endpoint, nil); err != nil {
			log.Errorf("metrics server: %v", err)
		}
	}()
}

// splitList splits a comma-separated flag value, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("strata")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
