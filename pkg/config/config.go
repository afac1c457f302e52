// Package config loads the YAML configuration of the session storage.
package config

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"code.kerpass.org/sessions/internal/observability"
	"code.kerpass.org/sessions/internal/serializer"
	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/session/cookie"
	"code.kerpass.org/sessions/pkg/session/pgdb"
)

// Backend kinds.
const (
	KindMemory     = "memory"
	KindCookie     = "cookie"
	KindFile       = "file"
	KindCache      = "cache"
	KindDocument   = "document"
	KindRelational = "relational"
	KindInproc     = "inproc"
)

// Relational drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Cache drivers.
const (
	DriverRedis     = "redis"
	DriverMemcached = "memcached"
)

const DefaultLifetime = 24 * time.Hour

// Config is the root of the configuration file.
type Config struct {
	Session SessionConfig           `yaml:"session"`
	Backend BackendConfig           `yaml:"backend"`
	GC      GCConfig                `yaml:"gc"`
	Log     observability.LogConfig `yaml:"log"`
}

type SessionConfig struct {
	// CookieName is the name of the cookie carrying the session id.
	CookieName string `yaml:"cookie_name"`

	// Lifetime is the default record lifetime, it is used as cookie & cache ttl and GC max age.
	Lifetime     time.Duration `yaml:"lifetime"`
	WriteThrough bool          `yaml:"write_through"`
	AllowRestart bool          `yaml:"allow_restart"`
	AutoStart    bool          `yaml:"auto_start"`
}

type BackendConfig struct {
	Kind       string           `yaml:"kind"`
	Codec      string           `yaml:"codec"` // cbor, json
	Cookie     CookieConfig     `yaml:"cookie"`
	File       FileConfig       `yaml:"file"`
	Cache      CacheConfig      `yaml:"cache"`
	Document   DocumentConfig   `yaml:"document"`
	Relational RelationalConfig `yaml:"relational"`
}

type CookieConfig struct {
	Name string `yaml:"name"`

	// Key is the hex encoded cipher key, Secret is used to derive it when Key is empty.
	Key    utils.HexBinary `yaml:"key"`
	Secret string          `yaml:"secret"`

	TTL      time.Duration `yaml:"ttl"`
	Path     string        `yaml:"path"`
	Domain   string        `yaml:"domain"`
	Secure   bool          `yaml:"secure"`
	SameSite string        `yaml:"same_site"` // lax, strict, none
}

type FileConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
}

type CacheConfig struct {
	// Driver is redis or memcached, defaults to redis.
	Driver string `yaml:"driver"`

	// Addr is the server host:port, memcached accepts a comma separated list of servers.
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Prefix       string        `yaml:"prefix"`
	TTL          time.Duration `yaml:"ttl"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DocumentConfig struct {
	Path       string        `yaml:"path"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

type RelationalConfig struct {
	Driver      string        `yaml:"driver"`
	DSN         string        `yaml:"dsn"`
	Table       string        `yaml:"table"`
	Columns     pgdb.Columns  `yaml:"columns"`
	BindAddress bool          `yaml:"bind_address"`
	Migrate     bool          `yaml:"migrate"`
	Timeout     time.Duration `yaml:"timeout"`
}

type GCConfig struct {
	MaxAge time.Duration `yaml:"max_age"`

	// Every is the interval between collections, 0 runs a single collection.
	Every time.Duration `yaml:"every"`
}

// Load reads the configuration file at path and validates it.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if "" == path {
		return nil, invalid("empty config path")
	}

	raw, err := os.ReadFile(path)
	if nil != err {
		return nil, utils.WrapError(err, 0, Error, "failed reading config file %s", path)
	}

	return Parse(raw)
}

// Parse decodes YAML configuration data and validates it.
// Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	err := dec.Decode(cfg)
	if nil != err && !errors.Is(err, io.EOF) {
		return nil, utils.WrapError(err, 0, ErrInvalid, "failed parsing config yaml")
	}

	err = cfg.Validate()
	if nil != err {
		return nil, err
	}

	return cfg, nil
}

// Validate applies defaults and checks the configuration.
func (self *Config) Validate() error {
	if nil == self {
		return invalid("nil Config")
	}

	if self.Session.Lifetime <= 0 {
		self.Session.Lifetime = DefaultLifetime
	}
	if self.GC.MaxAge <= 0 {
		self.GC.MaxAge = self.Session.Lifetime
	}
	if self.GC.Every < 0 {
		return invalid("negative gc interval %s", self.GC.Every)
	}

	switch strings.ToLower(strings.TrimSpace(self.Log.Format)) {
	case "", "text", "json":
	default:
		return invalid("unknown log format %q", self.Log.Format)
	}

	return self.Backend.validate(self.Session.Lifetime)
}

func (self *BackendConfig) validate(lifetime time.Duration) error {
	self.Kind = strings.ToLower(strings.TrimSpace(self.Kind))
	if "" == self.Kind {
		self.Kind = KindInproc
	}

	_, err := serializer.ByName(self.Codec)
	if nil != err {
		return utils.WrapError(err, 0, ErrInvalid, "unknown codec")
	}

	switch self.Kind {
	case KindMemory, KindCookie:
		return self.Cookie.validate(lifetime)
	case KindFile:
		if "" == self.File.Dir {
			return invalid("file backend requires dir")
		}
	case KindCache:
		return self.Cache.validate(lifetime)
	case KindDocument:
		if "" == self.Document.Path {
			return invalid("document backend requires path")
		}
	case KindRelational:
		return self.Relational.validate()
	case KindInproc:
	default:
		return invalid("unknown backend kind %q", self.Kind)
	}

	return nil
}

func (self *CookieConfig) validate(lifetime time.Duration) error {
	switch {
	case 0 != len(self.Key) && cookie.KeySize != len(self.Key):
		return invalid("cookie key must be %d bytes, got %d", cookie.KeySize, len(self.Key))
	case 0 == len(self.Key) && "" == self.Secret:
		return invalid("cookie backend requires key or secret")
	}
	if self.TTL <= 0 {
		self.TTL = lifetime
	}
	_, err := ParseSameSite(self.SameSite)

	return err
}

func (self *CacheConfig) validate(lifetime time.Duration) error {
	self.Driver = strings.ToLower(strings.TrimSpace(self.Driver))
	switch self.Driver {
	case "":
		self.Driver = DriverRedis
	case DriverRedis, DriverMemcached:
	default:
		return invalid("unknown cache driver %q", self.Driver)
	}
	if 0 == len(self.Servers()) {
		return invalid("cache backend requires addr")
	}
	if 0 == self.TTL {
		self.TTL = lifetime
	}

	return nil
}

// Servers returns the server addresses listed in Addr.
func (self CacheConfig) Servers() []string {
	var servers []string
	for _, addr := range strings.Split(self.Addr, ",") {
		addr = strings.TrimSpace(addr)
		if "" != addr {
			servers = append(servers, addr)
		}
	}
	return servers
}

func (self *RelationalConfig) validate() error {
	self.Driver = strings.ToLower(strings.TrimSpace(self.Driver))
	switch self.Driver {
	case DriverPostgres, DriverSQLite:
	case "":
		return invalid("relational backend requires driver")
	default:
		return invalid("unknown relational driver %q", self.Driver)
	}
	if "" == self.DSN {
		return invalid("relational backend requires dsn")
	}

	return nil
}

// ParseSameSite converts a same_site configuration value to http.SameSite.
// The empty string maps to 0, which lets the cookie package apply its default.
func ParseSameSite(name string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return 0, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, invalid("unknown same_site %q", name)
	}
}
