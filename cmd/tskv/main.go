// Command tskv runs one TSKV cluster node: its vnode storage engine,
// the Raft replica group(s) it hosts, and the gRPC/HTTP surfaces other
// nodes and operators reach it through.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"github.com/spf13/cobra"

	"github.com/tskvio/tskv/pkg/api"
	"github.com/tskvio/tskv/pkg/config"
	"github.com/tskvio/tskv/pkg/log"
	"github.com/tskvio/tskv/pkg/meta"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/replication"
	"github.com/tskvio/tskv/pkg/security"
	"github.com/tskvio/tskv/pkg/vnode"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tskv",
	Short:   "TSKV - a distributed LSM time-series store",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("tskv version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (defaults if absent)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd, bootstrapCmd, statusCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	asJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: asJSON})
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// serverCmd starts one node's storage, replication, and RPC surfaces.
// A node hosts one vnode replica group per invocation;
// a multi-vnode deployment runs one tskv process per hosted vnode, the
// same one-process-per-shard model the replication core's per-group
// raft.Raft instances assume (§4.10).
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run a TSKV node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		tenant, _ := cmd.Flags().GetString("tenant")
		database, _ := cmd.Flags().GetString("database")
		replicaID, _ := cmd.Flags().GetUint32("replica-id")
		vnodeID, _ := cmd.Flags().GetUint32("vnode-id")
		raftBindAddr, _ := cmd.Flags().GetString("raft-addr")
		peerAddrs, _ := cmd.Flags().GetStringSlice("peer")

		nodeID := models.NodeID(cfg.NodeBasic.NodeID)

		clusterID, err := loadClusterID(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("load cluster id (did you run \"tskv bootstrap\"?): %w", err)
		}
		if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(clusterID)); err != nil {
			return err
		}

		metaDir, err := meta.OpenBoltDirectory(filepath.Join(cfg.Storage.Path, "meta.db"))
		if err != nil {
			return fmt.Errorf("open meta directory: %w", err)
		}
		defer metaDir.Close()

		store, err := vnode.Open(vnode.Options{
			Tenant:         tenant,
			Database:       database,
			VnodeID:        models.VnodeID(vnodeID),
			NodeID:         nodeID,
			Dir:            filepath.Join(cfg.Storage.Path, fmt.Sprintf("vnode-%d", vnodeID)),
			MaxBufferSize:  cfg.Cache.MaxBufferSize,
			CompactTrigger: cfg.Storage.CompactTrigger,
			MaxCompactSize: cfg.Storage.MaxCompactSize,
		})
		if err != nil {
			return fmt.Errorf("open vnode store: %w", err)
		}

		local := replication.NewManager(nodeID, cfg.Storage.Path, replication.DefaultGroupConfig())
		peers, err := parsePeers(peerAddrs)
		if err != nil {
			return err
		}
		group, err := local.OpenGroup(models.ReplicaID(replicaID), models.VnodeID(vnodeID), store, raftBindAddr, peers)
		if err != nil {
			return fmt.Errorf("open raft group: %w", err)
		}
		log.Info(fmt.Sprintf("opened replica %d (vnode %d) at %s", group.ReplicaID, group.VnodeID, raftBindAddr))

		grpcAddr := fmt.Sprintf(":%d", cfg.Cluster.GRPCListenPort)
		apiServer, err := api.NewServer(nodeID, metaDir, local, tlsFilesFromConfigAPI(cfg))
		if err != nil {
			return fmt.Errorf("build rpc server: %w", err)
		}
		errCh := make(chan error, 1)
		go func() { errCh <- apiServer.Serve(grpcAddr) }()

		healthServer := api.NewHealthServer(local, metaDir)
		httpAddr := fmt.Sprintf(":%d", cfg.Cluster.HTTPListenPort)
		go func() {
			if err := healthServer.Start(httpAddr); err != nil && err != http.ErrServerClosed {
				log.Error(fmt.Sprintf("health server stopped: %v", err))
			}
		}()

		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		go func() {
			for range ticker.C {
				local.ReportLeaderMetrics()
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			log.Info("shutting down")
		case err := <-errCh:
			log.Error(fmt.Sprintf("rpc server error: %v", err))
		}

		apiServer.Stop()
		return local.Shutdown()
	},
}

func clusterIDPath(storagePath string) string {
	return filepath.Join(storagePath, "cluster-id")
}

func saveClusterID(storagePath, clusterID string) error {
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return err
	}
	return os.WriteFile(clusterIDPath(storagePath), []byte(clusterID), 0o600)
}

func loadClusterID(storagePath string) (string, error) {
	data, err := os.ReadFile(clusterIDPath(storagePath))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parsePeers(addrs []string) ([]raft.Server, error) {
	var peers []raft.Server
	for _, a := range addrs {
		host, _, err := net.SplitHostPort(a)
		_ = host
		if err != nil {
			return nil, fmt.Errorf("invalid peer address %q: %w", a, err)
		}
		peers = append(peers, raft.Server{ID: raft.ServerID(a), Address: raft.ServerAddress(a)})
	}
	return peers, nil
}

func tlsFilesFromConfigAPI(cfg *config.Config) api.TLSFiles {
	if cfg.Security.TLS.Certificate == "" {
		return api.TLSFiles{}
	}
	dir := filepath.Dir(cfg.Security.TLS.Certificate)
	return api.TLSFiles{
		Cert:   cfg.Security.TLS.Certificate,
		Key:    cfg.Security.TLS.PrivateKey,
		CACert: filepath.Join(dir, "ca.crt"),
	}
}

// bootstrapCmd initializes a fresh cluster's meta directory, cluster id,
// and root CA, and registers this node's own record. It does not issue
// a leaf certificate for the node.
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Initialize a new cluster's meta directory and certificate authority",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		metaDir, err := meta.OpenBoltDirectory(filepath.Join(cfg.Storage.Path, "meta.db"))
		if err != nil {
			return fmt.Errorf("open meta directory: %w", err)
		}
		defer metaDir.Close()

		clusterID := uuid.New().String()
		if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(clusterID)); err != nil {
			return err
		}
		if err := saveClusterID(cfg.Storage.Path, clusterID); err != nil {
			return fmt.Errorf("persist cluster id: %w", err)
		}

		caStore, err := security.OpenCAStore(filepath.Join(cfg.Storage.Path, "ca.db"))
		if err != nil {
			return fmt.Errorf("open ca store: %w", err)
		}
		defer caStore.Close()

		ca := security.NewCertAuthority(caStore)
		if err := ca.Initialize(); err != nil {
			return fmt.Errorf("initialize ca: %w", err)
		}
		if err := ca.SaveToStore(); err != nil {
			return fmt.Errorf("persist ca: %w", err)
		}

		nodeID := models.NodeID(cfg.NodeBasic.NodeID)
		grpcAddr := fmt.Sprintf("%s:%d", cfg.NodeBasic.Host, cfg.Cluster.GRPCListenPort)
		if err := metaDir.PutNode(meta.Node{ID: nodeID, Addr: grpcAddr}); err != nil {
			return fmt.Errorf("register node: %w", err)
		}

		fmt.Printf("Cluster bootstrapped. Node %d registered at %s.\n", nodeID, grpcAddr)
		fmt.Printf("Meta directory: %s\n", filepath.Join(cfg.Storage.Path, "meta.db"))
		return nil
	},
}

// statusCmd queries a running node's HTTP readiness endpoint.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a node's readiness endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/ready", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("query %s: %w", addr, err)
		}
		defer resp.Body.Close()

		fmt.Printf("status: %s\n", resp.Status)
		return nil
	},
}

func init() {
	serverCmd.Flags().String("tenant", "default", "Tenant this node's vnode belongs to")
	serverCmd.Flags().String("database", "default", "Database this node's vnode belongs to")
	serverCmd.Flags().Uint32("replica-id", 1, "Replica group ID this process hosts")
	serverCmd.Flags().Uint32("vnode-id", 1, "Vnode ID this process hosts")
	serverCmd.Flags().String("raft-addr", "127.0.0.1:8913", "Bind address for this vnode's Raft transport")
	serverCmd.Flags().StringSlice("peer", nil, "host:port of each peer to bootstrap the replica group with (leave empty to bootstrap single-node)")

	statusCmd.Flags().String("addr", "127.0.0.1:8902", "host:port of the node's HTTP health endpoint")
}
