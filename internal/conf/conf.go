package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Set with -ldflags "-X github.com/xebook/readium-encrypt/internal/conf.Version=..."
var (
	Version     = "dev"
	VersionLong = ""
	BuildTime   = ""
)

const (
	ConfigDirName = ".readium-encrypt"
	EnvPrefix     = "READIUM_ENCRYPT"
)

type Config struct {
	Tool          ToolConfig          `mapstructure:"tool" yaml:"tool"`
	LicenseServer LicenseServerConfig `mapstructure:"licenseserver" yaml:"licenseserver"`
	S3            S3Config            `mapstructure:"s3" yaml:"s3"`
	HTTP          HTTPConfig          `mapstructure:"http" yaml:"http,omitempty"`
	AMQP          AMQPConfig          `mapstructure:"amqp" yaml:"amqp"`
	DB            DBConfig            `mapstructure:"db" yaml:"db,omitempty"`
	Server        ServerConfig        `mapstructure:"server" yaml:"server,omitempty"`
	Log           LogConfig           `mapstructure:"log" yaml:"log,omitempty"`
	LockFile      string              `mapstructure:"lockfile" yaml:"lockfile,omitempty"`
	TempDir       string              `mapstructure:"tempdir" yaml:"tempdir,omitempty"`
}

type ToolConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type LicenseServerConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	Profile  string `mapstructure:"profile" yaml:"profile"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"accesskeyid" yaml:"accesskeyid,omitempty"`
	SecretAccessKey string `mapstructure:"secretaccesskey" yaml:"secretaccesskey,omitempty"`
	UsePathStyle    bool   `mapstructure:"usepathstyle" yaml:"usepathstyle,omitempty"`
}

type HTTPConfig struct {
	ClientID     string   `mapstructure:"clientid" yaml:"clientid,omitempty"`
	ClientSecret string   `mapstructure:"clientsecret" yaml:"clientsecret,omitempty"`
	TokenURL     string   `mapstructure:"tokenurl" yaml:"tokenurl,omitempty"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes,omitempty"`
}

type AMQPConfig struct {
	DSN          string `mapstructure:"dsn" yaml:"dsn"`
	Exchange     string `mapstructure:"exchange" yaml:"exchange,omitempty"`
	ExchangeKind string `mapstructure:"exchangekind" yaml:"exchangekind,omitempty"`
	RoutingKey   string `mapstructure:"routingkey" yaml:"routingkey,omitempty"`
	MessageType  string `mapstructure:"messagetype" yaml:"messagetype,omitempty"`
	SigningKey   string `mapstructure:"signingkey" yaml:"signingkey,omitempty"`
}

type DBConfig struct {
	URL   string `mapstructure:"url" yaml:"url,omitempty"`
	Atlas string `mapstructure:"atlas" yaml:"atlas,omitempty"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr" yaml:"addr,omitempty"`
	AllowedOrigins []string `mapstructure:"allowedorigins" yaml:"allowedorigins,omitempty"`
	OIDCIssuer     string   `mapstructure:"oidcissuer" yaml:"oidcissuer,omitempty"`
	OIDCClientID   string   `mapstructure:"oidcclientid" yaml:"oidcclientid,omitempty"`
	// SourceDir is the only tree file sources may be read from over HTTP.
	SourceDir      string   `mapstructure:"sourcedir" yaml:"sourcedir,omitempty"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level,omitempty"`
	Format string `mapstructure:"format" yaml:"format,omitempty"`
}

// legacyEnv maps config keys to the environment variables deployments of the
// tool already define in their .env files.
var legacyEnv = map[string]string{
	"tool.path":              "ENCRYPT_TOOL",
	"licenseserver.endpoint": "LICENSE_SERVER_ENDPOINT",
	"licenseserver.username": "LICENSE_SERVER_USERNAME",
	"licenseserver.password": "LICENSE_SERVER_PASSWORD",
	"licenseserver.profile":  "LICENSE_SERVER_PROFILE",
	"s3.bucket":              "AWS_S3_BUCKET",
	"s3.region":              "AWS_REGION",
	"amqp.dsn":               "AMQP_DSN",
	"db.url":                 "DB_URL",
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("licenseserver.profile", "basic")
	v.SetDefault("amqp.exchange", "messages")
	v.SetDefault("amqp.exchangekind", "fanout")
	v.SetDefault("amqp.messagetype", "EncryptedResource")
	v.SetDefault("db.atlas", "atlas")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowedorigins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("lockfile", filepath.Join(os.TempDir(), "readium-encrypt.lock"))
	v.SetDefault("tempdir", os.TempDir())
}

// DefaultDir is $HOME/.readium-encrypt.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDirName), nil
}

// Load reads dotenv files, the environment and the config file into v and
// returns the decoded configuration. A missing config file is not an error.
func Load(v *viper.Viper, configFile string, dotenv ...string) (*Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("could not load %s: %w", f, err)
		}
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := DefaultDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(ConfigDirName)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(configFile == "" && errors.Is(err, fs.ErrNotExist)) {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports settings every encryption run needs.
func (c *Config) Validate() error {
	if c.Tool.Path == "" {
		return errors.New("no encrypt tool configured: set tool.path or ENCRYPT_TOOL")
	}
	return nil
}
