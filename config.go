package omniq

import (
	"context"
	"crypto/tls"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClusterNode names one seed node of a Redis Cluster deployment.
type ClusterNode struct {
	Host string
	Port int
}

// ConnectOptions is the typed connection surface accepted by
// Client.Create.
//
// Exactly one of the three shapes should be populated: RedisURL, the
// discrete standalone fields, or the cluster fields. RedisURL, if set,
// wins over the discrete fields.
type ConnectOptions struct {
	// RedisURL, if non-empty, is parsed with redis.ParseURL and used
	// as-is.
	RedisURL string

	// Standalone connection fields, used when RedisURL is empty and
	// Cluster is false. Username, Password and SSL also apply in
	// cluster mode.
	Host                   string
	Port                   int
	DB                     int
	Username               string
	Password               string
	SSL                    bool
	SocketTimeoutMs        int
	SocketConnectTimeoutMs int

	// Cluster connection fields, used when Cluster is true.
	Cluster      bool
	ClusterNodes []ClusterNode
}

// clusterRejectSubstrings are the case-insensitive error-message
// fragments that mean "this server refused to act as a cluster node".
// This list is intentionally small and reviewed whenever the transport
// driver is upgraded; it is not meant to be exhaustive.
var clusterRejectSubstrings = []string{
	"cluster support disabled",
	"cluster mode is not enabled",
	"moved",
	"ask",
}

func looksLikeClusterRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range clusterRejectSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// storeClient is the narrow surface OmniQ needs from a Redis-compatible
// connection. Both *redis.Client and *redis.ClusterClient satisfy it,
// and so does *redis.Client wrapping a *miniredis.Miniredis address in
// tests.
type storeClient interface {
	redis.UniversalClient
}

// buildStoreClient resolves opts into a live connection, falling back
// from cluster mode to standalone mode if the server rejects cluster
// commands.
func buildStoreClient(ctx context.Context, opts ConnectOptions) (storeClient, error) {
	if opts.RedisURL != "" {
		parsed, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, configError("invalid redis url: %v", err)
		}
		return redis.NewClient(parsed), nil
	}

	if opts.Cluster {
		addrs := make([]string, 0, len(opts.ClusterNodes))
		for _, n := range opts.ClusterNodes {
			addrs = append(addrs, clusterAddr(n))
		}
		cc := redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:     addrs,
			Username:  opts.Username,
			Password:  opts.Password,
			TLSConfig: tlsConfigFor(opts.SSL),
		})
		if err := cc.Ping(ctx).Err(); err != nil && looksLikeClusterRejection(err) {
			_ = cc.Close()
			if len(opts.ClusterNodes) == 0 {
				return nil, configError("cluster requested but no seed nodes provided")
			}
			first := opts.ClusterNodes[0]
			return redis.NewClient(&redis.Options{
				Addr:      clusterAddr(first),
				Username:  opts.Username,
				Password:  opts.Password,
				TLSConfig: tlsConfigFor(opts.SSL),
			}), nil
		}
		return cc, nil
	}

	return redis.NewClient(&redis.Options{
		Addr:         standaloneAddr(opts),
		DB:           opts.DB,
		Username:     opts.Username,
		Password:     opts.Password,
		TLSConfig:    tlsConfigFor(opts.SSL),
		DialTimeout:  msOr(opts.SocketConnectTimeoutMs, 5*time.Second),
		ReadTimeout:  msOr(opts.SocketTimeoutMs, 3*time.Second),
		WriteTimeout: msOr(opts.SocketTimeoutMs, 3*time.Second),
	}), nil
}

// tlsConfigFor returns a TLS config when ssl is set, or nil to leave
// the connection in plaintext. ServerName is left blank: go-redis's
// dialer fills it in per-connection from the address it dials, which
// is what lets one config serve every node of a multi-host cluster.
func tlsConfigFor(ssl bool) *tls.Config {
	if !ssl {
		return nil
	}
	return &tls.Config{}
}

func clusterAddr(n ClusterNode) string {
	port := n.Port
	if port == 0 {
		port = 6379
	}
	return n.Host + ":" + strconv.Itoa(port)
}

func standaloneAddr(opts ConnectOptions) string {
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Port
	if port == 0 {
		port = 6379
	}
	return host + ":" + strconv.Itoa(port)
}

func msOr(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
