package serv

import (
	"context"

	retry "github.com/avast/retry-go"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qbloq/docstore/internal/util"
)

// DB is the process-wide store connection: established once and shared by
// every collection facade built on it.
type DB struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// NewLogger builds the service logger from config.
func NewLogger(conf *Config) *zap.SugaredLogger {
	level, err := zapcore.ParseLevel(conf.LogLevel)
	if err != nil {
		level = zapcore.DebugLevel
	}
	return util.NewLogger(conf.LogFormat == "json", level).Sugar()
}

// Connect dials the store and verifies it with a ping, retrying transient
// dial failures. This is the only place retries happen; facade operations
// never retry.
func Connect(ctx context.Context, conf *Config, log *zap.SugaredLogger) (*DB, error) {
	var client *mongo.Client

	// zero attempts would skip the dial entirely and hand back a nil client
	attempts := conf.DB.ConnectRetries
	if attempts == 0 {
		attempts = 1
	}

	err := retry.Do(
		func() error {
			var err error
			client, err = mongo.Connect(options.Client().
				ApplyURI(conf.DB.URI).
				SetTimeout(conf.DB.ConnectTimeout))
			if err != nil {
				return err
			}
			pctx, cancel := context.WithTimeout(ctx, conf.DB.ConnectTimeout)
			defer cancel()
			if err := client.Ping(pctx, nil); err != nil {
				_ = client.Disconnect(ctx)
				return err
			}
			return nil
		},
		retry.Attempts(attempts),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf("database connection attempt %d failed: %s", n+1, err)
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to database: %s", conf.DB.DBName)
	}

	log.Infof("connected to database: %s", conf.DB.DBName)
	return &DB{Client: client, DB: client.Database(conf.DB.DBName)}, nil
}

// Close tears the shared connection down.
func (d *DB) Close(ctx context.Context) error {
	return d.Client.Disconnect(ctx)
}
