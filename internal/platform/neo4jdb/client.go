package neo4jdb

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

// Client wraps the neo4j driver for the insight graph mirror. The mirror is
// an optional read model; when NEO4J_URI is unset NewFromEnv returns
// (nil, nil) and the mirror stays disabled.
type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
	log      *logger.Logger
}

type config struct {
	uri      string
	user     string
	password string
	database string
	timeout  time.Duration
	maxPool  int
}

func configFromEnv() config {
	return config{
		uri:      envutil.Str("NEO4J_URI", ""),
		user:     envutil.Str("NEO4J_USER", "neo4j"),
		password: envutil.Str("NEO4J_PASSWORD", ""),
		database: envutil.Str("NEO4J_DATABASE", ""),
		timeout:  envutil.Duration("NEO4J_TIMEOUT", 10*time.Second),
		maxPool:  envutil.Int("NEO4J_MAX_POOL_SIZE", 50),
	}
}

func NewFromEnv(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}
	cfg := configFromEnv()
	if cfg.uri == "" {
		return nil, nil
	}

	driver, err := neo4j.NewDriverWithContext(cfg.uri,
		neo4j.BasicAuth(cfg.user, cfg.password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = cfg.maxPool
			c.SocketConnectTimeout = cfg.timeout
		})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jdb: verify connectivity: %w", err)
	}

	return &Client{
		Driver:   driver,
		Database: cfg.database,
		log:      log.With("client", "Neo4jDB"),
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}
