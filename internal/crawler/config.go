package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/pagesift/pagesift/internal/render"
	"github.com/pagesift/pagesift/internal/urlnorm"
)

// Config errors.
var (
	errNoStartURL  = errors.New("start URL is required")
	errBadPattern  = errors.New("invalid URL pattern")
	errBadRenderJS = errors.New("invalid render mode")
	errBadActions  = errors.New("invalid page actions")
)

// Render modes.
const (
	RenderAuto   = "auto"
	RenderAlways = "always"
	RenderNever  = "never"
)

// Config holds configuration for a crawl run.
type Config struct {
	StartURL        string        `env:"CRAWL_START_URL"`
	AllowedDomain   string        `env:"CRAWL_ALLOWED_DOMAIN"`
	ExtraDomains    []string      `env:"CRAWL_EXTRA_DOMAINS" envSeparator:","`
	AllowSubdomains bool          `env:"CRAWL_ALLOW_SUBDOMAINS" envDefault:"false"`
	MaxPages        int           `env:"CRAWL_MAX_PAGES" envDefault:"200"`
	MaxDepth        int           `env:"CRAWL_MAX_DEPTH" envDefault:"3"`
	IncludePattern  string        `env:"CRAWL_INCLUDE_PATTERN"`
	ExcludePattern  string        `env:"CRAWL_EXCLUDE_PATTERN"`
	RenderJS        string        `env:"CRAWL_RENDER_JS" envDefault:"auto"`
	Delay           time.Duration `env:"CRAWL_DELAY" envDefault:"500ms"`
	Concurrency     int           `env:"CRAWL_CONCURRENCY" envDefault:"2"`
	RespectRobots   bool          `env:"CRAWL_RESPECT_ROBOTS" envDefault:"true"`
	OutputDir       string        `env:"CRAWL_OUTPUT_DIR" envDefault:"./crawl"`
	Resume          bool          `env:"CRAWL_RESUME" envDefault:"false"`
	Delta           bool          `env:"CRAWL_DELTA" envDefault:"false"`
	UserAgent       string        `env:"CRAWL_USER_AGENT"`
	RotateUA        bool          `env:"CRAWL_ROTATE_USER_AGENT" envDefault:"false"`

	// PageActionsJSON is a JSON array of scripted browser interactions
	// applied on every headless render.
	PageActionsJSON string `env:"CRAWL_PAGE_ACTIONS"`

	PageActions []render.PageAction `env:"-"`
}

// Load loads crawl configuration from environment variables, applying a
// .env file first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse crawl config: %w", err)
	}

	return cfg, nil
}

// Validate fills derived defaults and rejects unusable settings. The
// allowed domain defaults to the start URL's domain.
func (c *Config) Validate() error {
	if c.StartURL == "" {
		return errNoStartURL
	}

	if c.AllowedDomain == "" {
		c.AllowedDomain = urlnorm.Domain(c.StartURL)
	}

	if c.AllowedDomain == "" {
		return fmt.Errorf("%w: cannot derive domain from %q", errNoStartURL, c.StartURL)
	}

	if c.IncludePattern != "" {
		if _, err := regexp.Compile(c.IncludePattern); err != nil {
			return fmt.Errorf("%w: include: %w", errBadPattern, err)
		}
	}

	if c.ExcludePattern != "" {
		if _, err := regexp.Compile(c.ExcludePattern); err != nil {
			return fmt.Errorf("%w: exclude: %w", errBadPattern, err)
		}
	}

	if c.RenderJS == "" {
		c.RenderJS = RenderAuto
	}

	switch c.RenderJS {
	case RenderAuto, RenderAlways, RenderNever:
	default:
		return fmt.Errorf("%w: %q", errBadRenderJS, c.RenderJS)
	}

	if c.PageActionsJSON != "" {
		if err := json.Unmarshal([]byte(c.PageActionsJSON), &c.PageActions); err != nil {
			return fmt.Errorf("%w: %w", errBadActions, err)
		}
	}

	if c.MaxPages <= 0 {
		c.MaxPages = 200
	}

	if c.MaxDepth < 0 {
		c.MaxDepth = 0
	}

	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}

	if c.Delay <= 0 {
		c.Delay = 500 * time.Millisecond
	}

	return nil
}
