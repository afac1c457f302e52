// Package backend opens the session storage described by a config.Config.
package backend

import (
	"context"
	"net/http"

	"code.kerpass.org/sessions/internal/observability"
	"code.kerpass.org/sessions/internal/serializer"
	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/config"
	"code.kerpass.org/sessions/pkg/session"
	"code.kerpass.org/sessions/pkg/session/boltdb"
	"code.kerpass.org/sessions/pkg/session/cookie"
	"code.kerpass.org/sessions/pkg/session/filedb"
	"code.kerpass.org/sessions/pkg/session/httpsession"
	"code.kerpass.org/sessions/pkg/session/memcachedb"
	"code.kerpass.org/sessions/pkg/session/memdb"
	"code.kerpass.org/sessions/pkg/session/pgdb"
	"code.kerpass.org/sessions/pkg/session/redisdb"
	"code.kerpass.org/sessions/pkg/session/sqlitedb"
)

// Backend serves the session.Adapter of each request.
type Backend interface {
	httpsession.Binder

	// Close releases the resources held by the Backend.
	Close() error
}

// Factory opens a Backend from its configuration.
type Factory func(ctx context.Context, cfg config.BackendConfig) (Backend, error)

var factories = utils.NewRegistry[string, Factory]()

// Register makes factory available for backend kind.
// It errors if kind is already registered.
func Register(kind string, factory Factory) error {
	return utils.RegistrySet(factories, kind, factory)
}

// Kinds returns the sorted registered backend kinds.
func Kinds() []string {
	return utils.RegistryNames(factories)
}

func mustRegister(kind string, factory Factory) {
	if err := Register(kind, factory); nil != err {
		panic(err)
	}
}

func init() {
	mustRegister(config.KindMemory, openCookie)
	mustRegister(config.KindCookie, openCookie)
	mustRegister(config.KindFile, openFile)
	mustRegister(config.KindCache, openCache)
	mustRegister(config.KindDocument, openDocument)
	mustRegister(config.KindRelational, openRelational)
	mustRegister(config.KindInproc, openInproc)
}

// Open returns the Backend configured by cfg.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	if nil == cfg {
		return nil, utils.NewError(0, session.ErrInvalidArgument, "nil Config")
	}
	factory, found := utils.RegistryGet(factories, cfg.Backend.Kind)
	if !found {
		return nil, utils.NewError(0, session.ErrBackend, "unknown backend kind %q", cfg.Backend.Kind)
	}

	ctx = observability.WithAttrs(ctx, "kind", cfg.Backend.Kind)
	b, err := factory(ctx, cfg.Backend)
	if nil != err {
		return nil, err
	}
	observability.Log(ctx).Info("session backend opened")

	return b, nil
}

// OpenAdapter returns the session.Adapter configured by cfg.
// It errors for request bound backends such as cookie.
func OpenAdapter(ctx context.Context, cfg *config.Config) (session.Adapter, error) {
	b, err := Open(ctx, cfg)
	if nil != err {
		return nil, err
	}
	ab, ok := b.(*adapterBackend)
	if !ok {
		b.Close()
		return nil, utils.NewError(0, session.ErrBackend, "backend kind %q is request bound", cfg.Backend.Kind)
	}

	return ab.Adapter, nil
}

// ManagerOptions returns the session.ManagerOption set by cfg.
func ManagerOptions(cfg *config.Config) ([]session.ManagerOption, error) {
	srz, err := serializer.ByName(cfg.Backend.Codec)
	if nil != err {
		return nil, utils.WrapError(err, 0, session.ErrInvalidArgument, "invalid codec")
	}

	return []session.ManagerOption{
		session.WithRestart(cfg.Session.AllowRestart),
		session.WithStoreOptions(
			session.WithCodec(session.NewCodec(srz)),
			session.WithWriteThrough(cfg.Session.WriteThrough),
		),
	}, nil
}

// Middleware returns an httpsession.Middleware serving sessions from b as configured by cfg.
func Middleware(cfg *config.Config, b Backend) (httpsession.Middleware, error) {
	opts, err := ManagerOptions(cfg)
	if nil != err {
		return httpsession.Middleware{}, err
	}

	return httpsession.Middleware{
		Binder: b,
		Cookie: httpsession.CookieOptions{
			Name:     cfg.Session.CookieName,
			Secure:   cfg.Backend.Cookie.Secure,
			Lifetime: cfg.Session.Lifetime,
		},
		ManagerOptions: opts,
		AutoStart:      cfg.Session.AutoStart,
	}, nil
}

// adapterBackend serves the same Adapter to every request.
type adapterBackend struct {
	session.Adapter
}

func (self *adapterBackend) Bind(w http.ResponseWriter, r *http.Request) session.Adapter {
	return self.Adapter
}

// cookieBackend serves a cookie Adapter bound to each request.
type cookieBackend struct {
	jar *cookie.Jar
}

func (self *cookieBackend) Bind(w http.ResponseWriter, r *http.Request) session.Adapter {
	return self.jar.Bind(w, r)
}

func (self *cookieBackend) Close() error {
	return nil
}

var _ Backend = &adapterBackend{}
var _ Backend = &cookieBackend{}

func openCookie(ctx context.Context, cfg config.BackendConfig) (Backend, error) {
	cc := cfg.Cookie
	key := []byte(cc.Key)
	if 0 == len(key) {
		var err error
		key, err = cookie.DeriveKey([]byte(cc.Secret))
		if nil != err {
			return nil, utils.WrapError(err, 0, session.ErrBackend, "failed cookie key derivation")
		}
	}
	cipher, err := cookie.NewAEAD(key)
	if nil != err {
		return nil, utils.WrapError(err, 0, session.ErrBackend, "failed cookie cipher creation")
	}
	sameSite, err := config.ParseSameSite(cc.SameSite)
	if nil != err {
		return nil, err
	}

	jar, err := cookie.NewJar(cipher, cookie.Options{
		Name:     cc.Name,
		TTL:      cc.TTL,
		Path:     cc.Path,
		Domain:   cc.Domain,
		Secure:   cc.Secure,
		SameSite: sameSite,
	})
	if nil != err {
		return nil, err
	}

	return &cookieBackend{jar: jar}, nil
}

func openFile(ctx context.Context, cfg config.BackendConfig) (Backend, error) {
	adapter, err := filedb.New(cfg.File.Dir, filedb.Options{Prefix: cfg.File.Prefix})
	if nil != err {
		return nil, err
	}

	return &adapterBackend{Adapter: adapter}, nil
}

func openCache(ctx context.Context, cfg config.BackendConfig) (Backend, error) {
	cc := cfg.Cache
	if config.DriverMemcached == cc.Driver {
		return openMemcached(ctx, cc)
	}

	adapter, err := redisdb.New(redisdb.Options{
		Addr:         cc.Addr,
		Username:     cc.Username,
		Password:     cc.Password,
		DB:           cc.DB,
		Prefix:       cc.Prefix,
		TTL:          cc.TTL,
		DialTimeout:  cc.DialTimeout,
		ReadTimeout:  cc.ReadTimeout,
		WriteTimeout: cc.WriteTimeout,
	})
	if nil != err {
		return nil, err
	}
	err = adapter.Ping(ctx)
	if nil != err {
		adapter.Close()
		return nil, err
	}

	return &adapterBackend{Adapter: adapter}, nil
}

func openMemcached(ctx context.Context, cc config.CacheConfig) (Backend, error) {
	adapter, err := memcachedb.New(memcachedb.Options{
		Servers: cc.Servers(),
		Prefix:  cc.Prefix,
		TTL:     cc.TTL,
		Timeout: cc.ReadTimeout,
	})
	if nil != err {
		return nil, err
	}
	err = adapter.Ping(ctx)
	if nil != err {
		adapter.Close()
		return nil, err
	}

	return &adapterBackend{Adapter: adapter}, nil
}

func openDocument(ctx context.Context, cfg config.BackendConfig) (Backend, error) {
	adapter, err := boltdb.New(cfg.Document.Path, boltdb.Options{
		Collection: cfg.Document.Collection,
		Timeout:    cfg.Document.Timeout,
	})
	if nil != err {
		return nil, err
	}

	return &adapterBackend{Adapter: adapter}, nil
}

func openRelational(ctx context.Context, cfg config.BackendConfig) (Backend, error) {
	rc := cfg.Relational
	switch rc.Driver {
	case config.DriverPostgres:
		opts := pgdb.Options{
			Table:       rc.Table,
			Columns:     rc.Columns,
			BindAddress: rc.BindAddress,
			Timeout:     rc.Timeout,
		}
		adapter, err := pgdb.New(ctx, rc.DSN, opts)
		if nil != err {
			return nil, err
		}
		if rc.Migrate {
			err = pgdb.Migrate(ctx, adapter.DB(), opts)
			if nil != err {
				adapter.Close()
				return nil, err
			}
		}
		return &adapterBackend{Adapter: adapter}, nil

	case config.DriverSQLite:
		adapter, err := sqlitedb.New(ctx, rc.DSN, sqlitedb.Options{
			BindAddress: rc.BindAddress,
			Timeout:     rc.Timeout,
		})
		if nil != err {
			return nil, err
		}
		return &adapterBackend{Adapter: adapter}, nil

	default:
		return nil, utils.NewError(0, session.ErrBackend, "unknown relational driver %q", rc.Driver)
	}
}

func openInproc(ctx context.Context, cfg config.BackendConfig) (Backend, error) {
	return &adapterBackend{Adapter: memdb.New()}, nil
}
