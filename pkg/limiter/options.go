package limiter

import "time"

// Defaults for construction-time settings.
const (
	DefaultConnectTimeout  = 5 * time.Second
	DefaultMongoDatabase   = "ratelimiter"
	DefaultMongoCollection = "buckets"
)

// Option customizes a limiter at construction time. Options that do not apply
// to the backend being constructed are ignored by it.
type Option func(*settings)

// settings is the resolved option set the constructors read.
type settings struct {
	client         RedisClient
	recorder       MetricsRecorder
	connectTimeout time.Duration
	database       string
	collection     string
}

func newSettings(opts []Option) settings {
	s := settings{
		recorder:       &NoOpMetricsRecorder{},
		connectTimeout: DefaultConnectTimeout,
		database:       DefaultMongoDatabase,
		collection:     DefaultMongoCollection,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithClient makes NewRedisLimiter reuse an already-constructed client instead
// of dialing the Redis URL. The caller keeps ownership: Close will not close an
// injected client.
func WithClient(c RedisClient) Option {
	return func(s *settings) { s.client = c }
}

// WithRecorder injects a custom metrics backend.
func WithRecorder(r MetricsRecorder) Option {
	return func(s *settings) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithConnectTimeout bounds the construction-time connectivity check and
// script preload. The default is DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithDatabase overrides the MongoDB database NewMongoLimiter keeps bucket
// state in.
func WithDatabase(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.database = name
		}
	}
}

// WithCollection overrides the MongoDB collection NewMongoLimiter keeps bucket
// state in.
func WithCollection(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.collection = name
		}
	}
}
