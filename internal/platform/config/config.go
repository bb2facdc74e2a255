package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	dErrors "credentials/pkg/domain-errors"
	s "credentials/pkg/platform/strings"
)

// Data model identifiers accepted by VC_FORCED_DATA_MODEL.
const (
	DataModelVC11 = "vc"
	DataModelOBv3 = "obv3"
)

// DefaultStatusListLength is the number of entries in every issuer's revocation bitmap.
const DefaultStatusListLength = 131072

// Server captures HTTP server level configuration.
type Server struct {
	Addr        string
	Environment string
	LogLevel    string
}

// Stores captures the connection settings of the backing services.
// Empty URLs select the in-memory implementations.
type Stores struct {
	DatabaseURL string
	RedisURL    string
}

// Kafka captures event bus settings.
type Kafka struct {
	Brokers        string
	GroupID        string
	LearningTopics []string
	AwardedTopic   string
	RevokedTopic   string
}

// Badges captures badge processing settings.
type Badges struct {
	// EventTypes is the allowlist of event types requirements may reference.
	EventTypes []string
}

// Verifiable captures verifiable credential issuance settings.
type Verifiable struct {
	DefaultIssuerID   string
	DefaultIssuerKey  string
	DefaultIssuerName string
	ForcedDataModel   string
	DefaultStorages   []string
	StatusListLength  int
	StatusListDir     string
	PublicBaseURL     string
	SignerURL         string
	SignerTimeout     time.Duration
}

// Credly captures badge provider API settings.
type Credly struct {
	BaseURL string
	Timeout time.Duration
}

// Config is built once at process start and passed to every component.
type Config struct {
	Server     Server
	Stores     Stores
	Kafka      Kafka
	Badges     Badges
	Verifiable Verifiable
	Credly     Credly
}

// DefaultBadgeEventTypes lists the learning events badges can be earned from
// when BADGES_EVENT_TYPES is not set.
var DefaultBadgeEventTypes = []string{
	"org.openedx.learning.course.passing.status.updated.v1",
	"org.openedx.learning.ccx.course.passing.status.updated.v1",
	"org.openedx.learning.certificate.created.v1",
}

// KnownStorages lists the wallet storages the service can issue into.
var KnownStorages = []string{"lc_wallet", "web_wallet"}

// FromEnv builds the config from environment variables, loading a .env file first when present.
func FromEnv() Config {
	_ = godotenv.Load() //nolint:errcheck // .env is optional

	return Config{
		Server: Server{
			Addr:        getEnv("CREDENTIALS_ADDR", ":8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Stores: Stores{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			RedisURL:    os.Getenv("REDIS_URL"),
		},
		Kafka: Kafka{
			Brokers:        os.Getenv("KAFKA_BROKERS"),
			GroupID:        getEnv("KAFKA_GROUP_ID", "credentials-badges"),
			LearningTopics: listEnv("KAFKA_LEARNING_TOPICS", []string{"learning-course-passing-status"}),
			AwardedTopic:   getEnv("KAFKA_BADGE_AWARDED_TOPIC", "learning-badges-lifecycle"),
			RevokedTopic:   getEnv("KAFKA_BADGE_REVOKED_TOPIC", "learning-badges-lifecycle"),
		},
		Badges: Badges{
			EventTypes: listEnv("BADGES_EVENT_TYPES", DefaultBadgeEventTypes),
		},
		Verifiable: Verifiable{
			DefaultIssuerID:   os.Getenv("VC_DEFAULT_ISSUER_ID"),
			DefaultIssuerKey:  os.Getenv("VC_DEFAULT_ISSUER_KEY"),
			DefaultIssuerName: getEnv("VC_DEFAULT_ISSUER_NAME", "Default issuer"),
			ForcedDataModel:   os.Getenv("VC_FORCED_DATA_MODEL"),
			DefaultStorages:   listEnv("VC_DEFAULT_STORAGES", KnownStorages),
			StatusListLength:  intEnv("VC_STATUS_LIST_LENGTH", DefaultStatusListLength),
			StatusListDir:     getEnv("VC_STATUS_LIST_DIR", "./var"),
			PublicBaseURL:     getEnv("VC_PUBLIC_BASE_URL", "http://localhost:8080"),
			SignerURL:         os.Getenv("VC_SIGNER_URL"),
			SignerTimeout:     durationEnv("VC_SIGNER_TIMEOUT", 10*time.Second),
		},
		Credly: Credly{
			BaseURL: getEnv("CREDLY_BASE_URL", "https://api.credly.com/v1"),
			Timeout: durationEnv("CREDLY_TIMEOUT", 10*time.Second),
		},
	}
}

// Validate fails with a configuration error when the service cannot start safely.
func (c Config) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(c.Verifiable.DefaultIssuerID) == "" {
		fields["VC_DEFAULT_ISSUER_ID"] = "default issuer is required"
	}
	if strings.TrimSpace(c.Verifiable.DefaultIssuerKey) == "" {
		fields["VC_DEFAULT_ISSUER_KEY"] = "default issuer key is required"
	}
	if len(c.Badges.EventTypes) == 0 {
		fields["BADGES_EVENT_TYPES"] = "at least one event type is required"
	}
	if m := c.Verifiable.ForcedDataModel; m != "" && m != DataModelVC11 && m != DataModelOBv3 {
		fields["VC_FORCED_DATA_MODEL"] = fmt.Sprintf("unknown data model %q", m)
	}
	if len(c.Verifiable.DefaultStorages) == 0 {
		fields["VC_DEFAULT_STORAGES"] = "at least one storage is required"
	}
	for _, st := range c.Verifiable.DefaultStorages {
		if !slices.Contains(KnownStorages, st) {
			fields["VC_DEFAULT_STORAGES"] = fmt.Sprintf("unknown storage %q", st)
		}
	}
	if c.Verifiable.StatusListLength <= 0 || c.Verifiable.StatusListLength%8 != 0 {
		fields["VC_STATUS_LIST_LENGTH"] = "must be a positive multiple of 8"
	}
	if len(fields) == 0 {
		return nil
	}
	return &dErrors.Error{Code: dErrors.CodeConfiguration, Message: "invalid configuration", Fields: fields}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func listEnv(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return slices.Clone(fallback)
	}
	return s.SplitList(v)
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
