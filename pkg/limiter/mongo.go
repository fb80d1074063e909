package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/retry-go"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CAS retry bounds. Conflicts only happen when another process updated the
// same bucket between our read and write, so a handful of jittered retries is
// enough even under heavy contention.
const (
	casAttempts  = 8
	casBaseDelay = 2 * time.Millisecond
	casMaxDelay  = 50 * time.Millisecond
)

// errVersionConflict marks a lost compare-and-swap race. It never escapes
// consume; the retry loop re-reads and tries again.
var errVersionConflict = errors.New("bucket version conflict")

// bucketDoc is the persisted bucket state. The version field changes on every
// write and is what update filters compare against.
type bucketDoc struct {
	ID         string    `bson:"_id"`
	Tokens     float64   `bson:"tokens"`
	LastRefill float64   `bson:"last_refill"`
	Version    string    `bson:"version"`
	ExpiresAt  time.Time `bson:"expires_at"`
}

// MongoLimiter enforces the same shared token bucket contract as
// RedisLimiter against a store without atomic server-side scripting. Each
// attempt reads the versioned bucket document, computes the refill and debit
// from the Mongo server's clock, and writes back filtered on the version it
// read; a concurrent writer makes the filter miss and the attempt re-reads.
// Idle buckets are reclaimed by a TTL index on expires_at, refreshed on every
// write.
type MongoLimiter struct {
	client   *mongo.Client
	db       *mongo.Database
	col      *mongo.Collection
	cfg      Config
	key      string
	recorder MetricsRecorder
}

// NewMongoLimiter connects to mongoURI, verifies the server is reachable, and
// ensures the TTL index exists. Database and collection names default to
// DefaultMongoDatabase/DefaultMongoCollection; override with WithDatabase and
// WithCollection.
func NewMongoLimiter(mongoURI string, cfg Config, opts ...Option) (*MongoLimiter, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	s := newSettings(opts)

	client, err := mongo.Connect(options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	m := &MongoLimiter{
		client:   client,
		db:       client.Database(s.database),
		cfg:      cfg,
		key:      cfg.bucketKey(),
		recorder: s.recorder,
	}
	m.col = m.db.Collection(s.collection)

	ctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout)
	defer cancel()

	if _, err := m.serverNow(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	// expireAfterSeconds 0 means "expire at the expires_at value itself".
	_, err = m.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("create ttl index: %w", err)
	}

	return m, nil
}

// Acquire attempts to obtain a permit. See RateLimiter.
func (m *MongoLimiter) Acquire(ctx context.Context, blocking bool) (bool, error) {
	return acquire(ctx, blocking, m.cfg.CheckEvery, m.consume)
}

// AcquireAsync delivers the outcome of Acquire on a channel. See RateLimiter.
func (m *MongoLimiter) AcquireAsync(ctx context.Context, blocking bool) <-chan AcquireResult {
	return acquireAsync(ctx, blocking, m.cfg.CheckEvery, m.consume)
}

// Allow makes a single debit attempt and reports the outcome immediately.
func (m *MongoLimiter) Allow(ctx context.Context) (bool, error) {
	return m.Acquire(ctx, false)
}

// Wait polls until a permit is granted or ctx is done.
func (m *MongoLimiter) Wait(ctx context.Context) error {
	_, err := m.Acquire(ctx, true)
	return err
}

// Close disconnects from the server.
func (m *MongoLimiter) Close() error {
	return m.client.Disconnect(context.Background())
}

// consume performs one debit attempt. Version conflicts are the CAS
// equivalent of the Redis script's serialization and are retried with jitter;
// genuine store errors are unrecoverable and surface immediately.
func (m *MongoLimiter) consume(ctx context.Context) (bool, error) {
	start := time.Now()

	var granted bool
	err := retry.Do(func() error {
		g, err := m.casAttempt(ctx)
		if err != nil {
			return err
		}
		granted = g
		return nil
	},
		retry.Attempts(casAttempts),
		retry.Delay(casBaseDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxDelay(casMaxDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		observeAttempt(m.recorder, start, outcomeError)
		return false, err
	}
	if granted {
		observeAttempt(m.recorder, start, outcomeGranted)
	} else {
		observeAttempt(m.recorder, start, outcomeDenied)
	}
	return granted, nil
}

// casAttempt runs one read-compute-write cycle. It returns errVersionConflict
// when another writer won the race, which the caller retries.
func (m *MongoLimiter) casAttempt(ctx context.Context) (bool, error) {
	now, err := m.serverNow(ctx)
	if err != nil {
		return false, retry.Unrecoverable(err)
	}

	var doc bucketDoc
	fresh := false
	err = m.col.FindOne(ctx, bson.M{"_id": m.key}).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		fresh = true
		doc.Tokens = m.cfg.MaxBucketSize
		doc.LastRefill = now
	case err != nil:
		return false, retry.Unrecoverable(fmt.Errorf("read bucket: %w", err))
	}

	tokens, lastRefill, granted := refillAndDebit(
		doc.Tokens, doc.LastRefill, now, m.cfg.MaxBucketSize, m.cfg.RequestsPerSecond)
	expiresAt := time.UnixMicro(int64(lastRefill * 1e6)).Add(m.cfg.StateTTL)

	if fresh {
		_, err := m.col.InsertOne(ctx, bucketDoc{
			ID:         m.key,
			Tokens:     tokens,
			LastRefill: lastRefill,
			Version:    uuid.NewString(),
			ExpiresAt:  expiresAt,
		})
		if mongo.IsDuplicateKeyError(err) {
			// Another process created the bucket first.
			return false, errVersionConflict
		}
		if err != nil {
			return false, retry.Unrecoverable(fmt.Errorf("create bucket: %w", err))
		}
		return granted, nil
	}

	res, err := m.col.UpdateOne(ctx,
		bson.M{"_id": m.key, "version": doc.Version},
		bson.M{"$set": bson.M{
			"tokens":      tokens,
			"last_refill": lastRefill,
			"version":     uuid.NewString(),
			"expires_at":  expiresAt,
		}},
	)
	if err != nil {
		return false, retry.Unrecoverable(fmt.Errorf("update bucket: %w", err))
	}
	if res.MatchedCount == 0 {
		return false, errVersionConflict
	}
	return granted, nil
}

// serverNow reads the Mongo server's clock so every process computes refill
// against the same time source.
func (m *MongoLimiter) serverNow(ctx context.Context) (float64, error) {
	var hello struct {
		LocalTime time.Time `bson:"localTime"`
	}
	if err := m.db.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		return 0, fmt.Errorf("read server clock: %w", err)
	}
	return epochSeconds(hello.LocalTime), nil
}
