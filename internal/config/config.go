// Package config загружает и валидирует конфигурацию движка сбора: учётные
// данные подключения, списки сидов и блокировок, корзины ключевых слов,
// настройки сбора/перевода/discovery/краулинга/обслуживания. Значения
// берутся из одного YAML-файла; DEEPL_API_KEY/DEEPL_API_URL дополнительно
// приходят из окружения (через godotenv из необязательного .env) и
// перекрывают только пустое значение конфига, никогда наоборот.
//
// Каждое поле разрешается один раз, при загрузке, в полностью типизированную
// запись с уже применённым умолчанием; компоненты ниже по течению никогда не
// выводят умолчание самостоятельно.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Keywords группирует поверхностные формы ключей по языковым корзинам.
// Корзины существуют только для ручной курации и round-trip конфигурации;
// скорер схлопывает их в один плоский набор без дублей (см. internal/scoring).
type Keywords struct {
	JA []string `yaml:"ja"`
	EN []string `yaml:"en"`
	ZH []string `yaml:"zh"`
	RU []string `yaml:"ru"`
	AR []string `yaml:"ar"`
}

// Flatten возвращает все корзины подряд в порядке ja,en,zh,ru,ar — тот же
// порядок вставки, в котором проходит сопоставление скорера.
func (k Keywords) Flatten() []string {
	out := make([]string, 0, len(k.JA)+len(k.EN)+len(k.ZH)+len(k.RU)+len(k.AR))
	out = append(out, k.JA...)
	out = append(out, k.EN...)
	out = append(out, k.ZH...)
	out = append(out, k.RU...)
	out = append(out, k.AR...)
	return out
}

// CollectParams ограничивает объём бэкфилла и частоту опроса.
type CollectParams struct {
	BackfillLimit   int `yaml:"backfill_limit"`
	PollIntervalSec int `yaml:"poll_interval_sec"`
}

// TranslationConfig выбирает и настраивает адаптер перевода.
type TranslationConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Provider    string `yaml:"provider"` // "deepl" или "auto"
	TimeoutSec  int    `yaml:"timeout_sec"`
	DeepLAPIKey string `yaml:"deepl_api_key"`
	DeepLAPIURL string `yaml:"deepl_api_url"`
}

// DiscoveryFilters решает, какие найденные/выкраулённые каналы приемлемы.
type DiscoveryFilters struct {
	MinMembers            int      `yaml:"min_members"`
	NameMustInclude       []string `yaml:"name_must_include"`
	UsernameBlockPatterns []string `yaml:"username_block_patterns"`
}

// CrawlConfig держит все ручки расширения с приоритетной очередью. Весовые
// коэффициенты — указатели, чтобы явный 0.0 в YAML был отличим от
// отсутствующего значения; после Load они всегда не-nil.
type CrawlConfig struct {
	Enabled              bool     `yaml:"enabled"`
	MaxDepth             int      `yaml:"max_depth"`
	MaxChannels          int      `yaml:"max_channels"`
	FollowMentions       bool     `yaml:"follow_mentions"`
	FollowTMELinks       bool     `yaml:"follow_tme_links"`
	BlocklistKeywords    []string `yaml:"blocklist_keywords"`
	AllowTypes           []string `yaml:"allow_types"`
	JoinSleepMs          int      `yaml:"join_sleep_ms"`
	FloodWaitPaddingS    int      `yaml:"floodwait_padding_s"`
	MaxWaitOnFloodS      int      `yaml:"max_wait_on_flood_s"`
	GlobalTimeLimitS     int      `yaml:"global_time_limit_s"`
	SampleMessages       int      `yaml:"sample_messages"`
	PerChannelTimeLimitS int      `yaml:"per_channel_time_limit_s"`
	LowQualityCooldownS  int      `yaml:"low_quality_cooldown_s"`
	QMinSamples          int      `yaml:"q_min_samples"`
	QMinHitRate          float64  `yaml:"q_min_hit_rate"`
	QMaxNegativeRate     float64  `yaml:"q_max_negative_rate"`
	QMinAvgLen           float64  `yaml:"q_min_avg_len"`
	WHitRate             *float64 `yaml:"w_hit_rate"`
	WDepth               *float64 `yaml:"w_depth"`
	WSeedBonus           *float64 `yaml:"w_seed_bonus"`
	WRecentBonus         *float64 `yaml:"w_recent_bonus"`
}

// Discovery держит настройки поискового обнаружения плюс поддеревья crawl и
// filters, которые он делит с компонентом краулинга.
type Discovery struct {
	Queries       []string         `yaml:"queries"`
	LimitPerQuery int              `yaml:"limit_per_query"`
	Crawl         CrawlConfig      `yaml:"crawl"`
	Filters       DiscoveryFilters `yaml:"filters"`
}

// Maintenance управляет периодическим циклом супервизора
// стоп/переобнаружение/рестарт.
type Maintenance struct {
	IntervalSec     int  `yaml:"interval_sec"`
	RunDiscover     bool `yaml:"run_discover"`
	RunCrawl        bool `yaml:"run_crawl"`
	BackfillNewOnly bool `yaml:"backfill_new_only"`
}

// Config — полностью разрешённая неизменяемая запись конфигурации. После
// возврата из Load она не мутирует; блок-лист собирается вместе с ней.
type Config struct {
	APIID          int      `yaml:"api_id"`
	APIHash        string   `yaml:"api_hash"`
	Session        string   `yaml:"session"`
	SQLitePath     string   `yaml:"sqlite_path"`
	SeedChannels   []string `yaml:"seed_channels"`
	BlockChannels  []string `yaml:"block_channels"`
	ScoreThreshold int      `yaml:"score_threshold"`
	Keywords       Keywords `yaml:"keywords"`
	Negatives      []string `yaml:"negatives"`

	Collect     CollectParams     `yaml:"collect"`
	Translation TranslationConfig `yaml:"translation"`
	Discovery   Discovery         `yaml:"discovery"`
	Maintenance Maintenance       `yaml:"maintenance"`

	// blockSet — приведённая к нижнему регистру дедуплицированная форма
	// BlockChannels; собирается один раз в Load и дальше только читается.
	blockSet map[string]struct{}

	// warnings копит замечания мягкой валидации, доступные через Warnings().
	warnings []string
}

// Умолчания для ручек, не заданных в файле.
const (
	defaultLimitPerQuery        = 25
	defaultBackfillLimit        = 1000
	defaultPollIntervalSec      = 5
	defaultTranslationProvider  = "deepl"
	defaultTranslationTimeoutS  = 8
	defaultCrawlMaxDepth        = 1
	defaultCrawlMaxChannels     = 100
	defaultCrawlJoinSleepMs     = 600
	defaultFloodWaitPaddingS    = 2
	defaultMaxWaitOnFloodS      = 120
	defaultGlobalTimeLimitS     = 600
	defaultSampleMessages       = 50
	defaultPerChannelTimeLimitS = 20
	defaultLowQualityCooldownS  = 86400
	defaultQMinSamples          = 10
	defaultQMinHitRate          = 0.05
	defaultQMaxNegativeRate     = 0.50
	defaultQMinAvgLen           = 10.0
	defaultWHitRate             = -1.0
	defaultWDepth               = 0.3
	defaultWSeedBonus           = -0.5
	defaultWRecentBonus         = -0.2
	defaultScoreThreshold       = 1
	defaultSQLitePath           = "./data/teleosint.db"
	defaultSession              = "./data/session.bin"
)

var defaultAllowTypes = []string{"channel", "supergroup"}

// Load читает path как YAML, применяет умолчания, накладывает переменные
// окружения для настроек DeepL (предварительно загрузив envPath как .env,
// игнорируя отсутствующий файл) и валидирует обязательные поля.
func Load(path, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file %s: %w", envPath, err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validateRequired(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	cfg.buildBlockSet()

	return &cfg, nil
}

func (c *Config) validateRequired() error {
	if c.APIID == 0 {
		return errors.New("config: api_id must be set")
	}
	if strings.TrimSpace(c.APIHash) == "" {
		return errors.New("config: api_hash must be set")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Session) == "" {
		c.Session = defaultSession
		c.warn("session is not set; using default %q", defaultSession)
	}
	if strings.TrimSpace(c.SQLitePath) == "" {
		c.SQLitePath = defaultSQLitePath
		c.warn("sqlite_path is not set; using default %q", defaultSQLitePath)
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = defaultScoreThreshold
	}

	if c.Discovery.LimitPerQuery <= 0 {
		c.Discovery.LimitPerQuery = defaultLimitPerQuery
	}
	if c.Collect.BackfillLimit <= 0 {
		c.Collect.BackfillLimit = defaultBackfillLimit
	}
	if c.Collect.PollIntervalSec <= 0 {
		c.Collect.PollIntervalSec = defaultPollIntervalSec
	}

	if strings.TrimSpace(c.Translation.Provider) == "" {
		c.Translation.Provider = defaultTranslationProvider
	}
	if c.Translation.TimeoutSec <= 0 {
		c.Translation.TimeoutSec = defaultTranslationTimeoutS
	}

	cr := &c.Discovery.Crawl
	if cr.MaxDepth <= 0 {
		cr.MaxDepth = defaultCrawlMaxDepth
	}
	if cr.MaxChannels <= 0 {
		cr.MaxChannels = defaultCrawlMaxChannels
	}
	if len(cr.AllowTypes) == 0 {
		cr.AllowTypes = append([]string(nil), defaultAllowTypes...)
	}
	if cr.JoinSleepMs <= 0 {
		cr.JoinSleepMs = defaultCrawlJoinSleepMs
	}
	if cr.FloodWaitPaddingS <= 0 {
		cr.FloodWaitPaddingS = defaultFloodWaitPaddingS
	}
	if cr.MaxWaitOnFloodS <= 0 {
		cr.MaxWaitOnFloodS = defaultMaxWaitOnFloodS
	}
	if cr.GlobalTimeLimitS <= 0 {
		cr.GlobalTimeLimitS = defaultGlobalTimeLimitS
	}
	if cr.SampleMessages <= 0 {
		cr.SampleMessages = defaultSampleMessages
	}
	if cr.PerChannelTimeLimitS <= 0 {
		cr.PerChannelTimeLimitS = defaultPerChannelTimeLimitS
	}
	if cr.LowQualityCooldownS <= 0 {
		cr.LowQualityCooldownS = defaultLowQualityCooldownS
	}
	if cr.QMinSamples <= 0 {
		cr.QMinSamples = defaultQMinSamples
	}
	if cr.QMinHitRate <= 0 {
		cr.QMinHitRate = defaultQMinHitRate
	}
	if cr.QMaxNegativeRate <= 0 {
		cr.QMaxNegativeRate = defaultQMaxNegativeRate
	}
	if cr.QMinAvgLen <= 0 {
		cr.QMinAvgLen = defaultQMinAvgLen
	}
	if cr.WHitRate == nil {
		cr.WHitRate = floatPtr(defaultWHitRate)
	}
	if cr.WDepth == nil {
		cr.WDepth = floatPtr(defaultWDepth)
	}
	if cr.WSeedBonus == nil {
		cr.WSeedBonus = floatPtr(defaultWSeedBonus)
	}
	if cr.WRecentBonus == nil {
		cr.WRecentBonus = floatPtr(defaultWRecentBonus)
	}
}

func floatPtr(v float64) *float64 { return &v }

// applyEnvOverrides даёт DEEPL_API_KEY/DEEPL_API_URL заполнить настройки
// DeepL, когда файл конфигурации оставил их пустыми.
func (c *Config) applyEnvOverrides() {
	if c.Translation.DeepLAPIKey == "" {
		if v := os.Getenv("DEEPL_API_KEY"); v != "" {
			c.Translation.DeepLAPIKey = v
		}
	}
	if c.Translation.DeepLAPIURL == "" {
		if v := os.Getenv("DEEPL_API_URL"); v != "" {
			c.Translation.DeepLAPIURL = v
		}
	}
}

func (c *Config) buildBlockSet() {
	set := make(map[string]struct{}, len(c.BlockChannels))
	for _, raw := range c.BlockChannels {
		norm := normalizeBlockEntry(raw)
		if norm == "" {
			continue
		}
		set[norm] = struct{}{}
	}
	c.blockSet = set
}

func normalizeBlockEntry(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "@")
	return strings.ToLower(trimmed)
}

// IsBlocked сообщает, числится ли username (с ведущим "@" или без) в
// блок-листе. Инвариант: после Load только чтение, безопасен для
// конкурентного использования.
func (c *Config) IsBlocked(username string) bool {
	norm := normalizeBlockEntry(username)
	if norm == "" {
		return false
	}
	_, blocked := c.blockSet[norm]
	return blocked
}

// Warnings возвращает замечания мягкой валидации, накопленные при
// применении умолчаний.
func (c *Config) Warnings() []string {
	return append([]string(nil), c.warnings...)
}

func (c *Config) warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// CompileUsernameBlockPatterns компилирует блокирующие регулярные выражения
// фильтров discovery, молча пропуская невалидные.
func (f DiscoveryFilters) CompileUsernameBlockPatterns() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(f.UsernameBlockPatterns))
	for _, pat := range f.UsernameBlockPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			continue
		}
		out = append(out, re)
	}
	return out
}
