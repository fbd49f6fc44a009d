package auth

import (
	"time"

	storage "github.com/mnuddindev/disasterlink/internal/db"
	"github.com/mnuddindev/disasterlink/pkg/logger"
	"gorm.io/gorm"
)

type Options struct {
	DB         *gorm.DB
	Rclient    *storage.RedisClient
	Logger     *logger.Logger
	Policy     *Policy
	Secure     bool
	RefreshTTL time.Duration
}

// Option configures Options.
type Option func(*Options)

func WithDB(db *gorm.DB) Option {
	return func(o *Options) { o.DB = db }
}

func WithRedis(rclient *storage.RedisClient) Option {
	return func(o *Options) { o.Rclient = rclient }
}

func WithLogger(log *logger.Logger) Option {
	return func(o *Options) { o.Logger = log }
}

func WithPolicy(p *Policy) Option {
	return func(o *Options) { o.Policy = p }
}

// WithSecureCookies marks session cookies Secure (production).
func WithSecureCookies(secure bool) Option {
	return func(o *Options) { o.Secure = secure }
}

func WithRefreshTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl > 0 {
			o.RefreshTTL = ttl
		}
	}
}

// NewOptions builds the shared auth dependencies.
func NewOptions(opts ...Option) Options {
	o := Options{RefreshTTL: 7 * 24 * time.Hour}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o Options) hasRedis() bool {
	return o.Rclient != nil && o.Rclient.Client != nil
}
