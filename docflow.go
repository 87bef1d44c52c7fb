// Package docflow runs document-driven workflows: a dispatcher consumes the
// change feed of a document collection and routes every change to the handler
// registered for the document's type and state.
package docflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"go.pilab.hu/docflow/cache"
	redisstore "go.pilab.hu/docflow/cache/redis"
	"go.pilab.hu/docflow/config"
	"go.pilab.hu/docflow/docstate"
	"go.pilab.hu/docflow/domain"
	"go.pilab.hu/docflow/log"
	"go.pilab.hu/docflow/mongodb"
	"go.pilab.hu/docflow/objectstore"
	"go.pilab.hu/docflow/postgres"
	"go.pilab.hu/docflow/services"
)

const defaultDedupTTL = 10 * time.Minute

// Options wires an Engine. Docs, Users, Credentials, Provisioner and Source are required.
type Options struct {
	Docs         domain.DocumentStore
	Users        domain.DocumentStore
	Credentials  domain.CredentialStore
	Provisioner  domain.NamespaceProvisioner
	Mailer       domain.Mailer
	Source       docstate.FeedSource
	Checkpointer docstate.Checkpointer
	Logger       log.Logger

	Pairing  services.PairingConfig
	Channels services.ChannelConfig

	// DedupTTL bounds how long handled revisions are remembered. Negative disables de-dup.
	// Reentrant transitions are never de-duplicated.
	DedupTTL           time.Duration
	MaxConflictRetries int
	MaxConcurrency     int
	OnOutcome          docstate.OutcomeHook
}

func (o *Options) validate() error {
	switch {
	case o.Docs == nil:
		return errors.New("docflow: document store is required")
	case o.Users == nil:
		return errors.New("docflow: users store is required")
	case o.Credentials == nil:
		return errors.New("docflow: credential store is required")
	case o.Provisioner == nil:
		return errors.New("docflow: namespace provisioner is required")
	case o.Source == nil:
		return errors.New("docflow: change feed source is required")
	}
	return nil
}

// Engine is an assembled set of workflows and the dispatcher driving them.
type Engine struct {
	Docs       domain.DocumentStore
	Workflows  *services.Workflows
	Table      *docstate.Table
	Dispatcher *docstate.Dispatcher

	dedup   *cache.RevisionCache
	closers []func(ctx context.Context)
}

// New assembles the workflows, builds the transition table and creates the dispatcher.
func New(opts Options) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Mailer == nil {
		opts.Mailer = services.LogMailer{Logger: opts.Logger}
	}
	if opts.DedupTTL == 0 {
		opts.DedupTTL = defaultDedupTTL
	}

	wf := &services.Workflows{
		Pairing:  services.NewPairingService(opts.Docs, opts.Users, opts.Credentials, opts.Mailer, opts.Logger, opts.Pairing),
		Channels: services.NewChannelService(opts.Docs, opts.Provisioner, opts.Logger, opts.Channels),
	}
	table, err := wf.Table()
	if err != nil {
		return nil, fmt.Errorf("docflow: %w", err)
	}

	var dedup *cache.RevisionCache
	if opts.DedupTTL > 0 {
		dedup = cache.NewRevisionCache(opts.DedupTTL)
	}

	d, err := docstate.NewDispatcher(table, docstate.Options{
		Store:              opts.Docs,
		Source:             opts.Source,
		Checkpointer:       opts.Checkpointer,
		Logger:             opts.Logger,
		Dedup:              dedup,
		MaxConflictRetries: opts.MaxConflictRetries,
		MaxConcurrency:     opts.MaxConcurrency,
		OnOutcome:          opts.OnOutcome,
	})
	if err != nil {
		if dedup != nil {
			_ = dedup.Close()
		}
		return nil, err
	}

	return &Engine{
		Docs:       opts.Docs,
		Workflows:  wf,
		Table:      table,
		Dispatcher: d,
		dedup:      dedup,
	}, nil
}

// Run dispatches changes until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.Dispatcher.Start(ctx)
}

// Close releases the de-dup cache and any backend connections opened by FromConfig.
func (e *Engine) Close(ctx context.Context) {
	if e.dedup != nil {
		_ = e.dedup.Close()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i](ctx)
	}
}

// FromConfig builds an Engine on the backends selected by cfg.
// mongodb.InitMongoDB must have been called.
func FromConfig(ctx context.Context, cfg *config.ServerConfig, logger log.Logger) (*Engine, error) {
	repos, err := mongodb.NewRepositoryProvider(mongodb.GetClient(), mongodb.GetDB(), cfg.DocsCollection, cfg.UsersCollection)
	if err != nil {
		return nil, fmt.Errorf("docflow: %w", err)
	}
	if err := repos.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("docflow: indexes: %w", err)
	}

	creds, closeCreds, err := openCredentialStore(ctx, cfg, repos)
	if err != nil {
		return nil, err
	}

	provisioner, err := openProvisioner(cfg, repos)
	if err != nil {
		if closeCreds != nil {
			closeCreds(ctx)
		}
		return nil, err
	}

	engine, err := New(Options{
		Docs:         repos.Documents(),
		Users:        repos.Users(),
		Credentials:  creds,
		Provisioner:  provisioner,
		Source:       repos.ChangeSource(),
		Checkpointer: repos.Checkpoints(),
		Logger:       logger,
		Pairing: services.PairingConfig{
			EmailTimeout:      cfg.EmailTimeout,
			CredentialTimeout: cfg.CredentialTimeout,
		},
		Channels: services.ChannelConfig{
			PublicSyncURL:    cfg.PublicSyncURL,
			NamespaceTimeout: cfg.NamespaceTimeout,
		},
		DedupTTL:           cfg.DedupTTL,
		MaxConflictRetries: cfg.MaxConflictRetries,
		MaxConcurrency:     cfg.MaxConcurrency,
	})
	if err != nil {
		if closeCreds != nil {
			closeCreds(ctx)
		}
		return nil, err
	}
	if closeCreds != nil {
		engine.closers = append(engine.closers, closeCreds)
	}

	return engine, nil
}

func openCredentialStore(ctx context.Context, cfg *config.ServerConfig, repos *mongodb.RepositoryProvider) (domain.CredentialStore, func(context.Context), error) {
	switch cfg.CredentialBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("docflow: redis: %w", err)
		}
		return redisstore.NewCredentialStore(client, cfg.RedisPrefix), func(context.Context) { _ = client.Close() }, nil
	case config.BackendPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("docflow: %w", err)
		}
		return store, func(context.Context) { store.Close() }, nil
	default:
		return repos.Credentials(), nil, nil
	}
}

func openProvisioner(cfg *config.ServerConfig, repos *mongodb.RepositoryProvider) (domain.NamespaceProvisioner, error) {
	if cfg.NamespaceBackend != config.BackendMinIO {
		return repos.Namespaces(), nil
	}
	client, err := objectstore.NewMinIOClient(objectstore.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		UseSSL:    cfg.MinIOUseSSL,
		Region:    cfg.MinIORegion,
	})
	if err != nil {
		return nil, fmt.Errorf("docflow: minio: %w", err)
	}
	return objectstore.NewProvisioner(client, cfg.MinIORegion), nil
}

// Start connects to the MongoDB deployment at storeURI, watches collection and
// runs every workflow with default settings until ctx is cancelled.
// The database is taken from the URI path, "docflow" when absent.
func Start(ctx context.Context, storeURI, collection string) error {
	cfg := config.Defaults()
	cfg.MongoURI = storeURI
	if collection != "" {
		cfg.DocsCollection = collection
	}
	cs, err := connstring.ParseAndValidate(storeURI)
	if err != nil {
		return fmt.Errorf("docflow: store uri: %w", err)
	}
	if cs.Database != "" {
		cfg.MongoDBName = cs.Database
	}

	logger := log.NewZerologAdapter(zerolog.InfoLevel, false)

	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		return err
	}
	defer mongodb.CloseMongoDB(context.WithoutCancel(ctx))

	engine, err := FromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close(context.WithoutCancel(ctx))

	logger.Info(ctx, "docflow started", map[string]interface{}{
		"database":    cfg.MongoDBName,
		"collection":  cfg.DocsCollection,
		"transitions": engine.Table.Len(),
	})
	return engine.Run(ctx)
}
