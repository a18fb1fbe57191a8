package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Itinerary ItineraryConfig `yaml:"itinerary"`

	// LoginID may also come from SRT_ID. The password is only read from
	// SRT_PASSWORD or --password and is never saved here by default.
	LoginID       string `yaml:"login_id"`
	LoginPassword string `yaml:"login_password,omitempty"`

	BrowserProfilePath string `yaml:"browser_profile_path"`
	BrowserBin         string `yaml:"browser_bin"`
	Headless           bool   `yaml:"headless"`

	// KeepBrowserOpenSeconds leaves the browser up after a booking so the
	// reservation can be paid for by hand.
	KeepBrowserOpenSeconds int `yaml:"keep_browser_open_seconds"`

	PageLoadTimeout int `yaml:"page_load_timeout"`

	Pacing PacingConfig `yaml:"pacing"`
	Notify NotifyConfig `yaml:"notify"`

	URLs      URLConfig      `yaml:"urls"`
	Selectors SelectorConfig `yaml:"selectors"`
	Markers   MarkerConfig   `yaml:"markers"`

	HistoryPath string `yaml:"history_path"`
	MetricsAddr string `yaml:"metrics_addr"`

	DebugMode bool `yaml:"debug_mode"`
}

type ItineraryConfig struct {
	Departure string `yaml:"departure"`
	Arrival   string `yaml:"arrival"`
	Date      string `yaml:"date"`
	Hour      string `yaml:"hour"`
	Ranks     []int  `yaml:"ranks"`
	Waitlist  bool   `yaml:"waitlist"`
}

type PacingConfig struct {
	LoginSettleMs   int `yaml:"login_settle_ms"`
	SearchSettleMs  int `yaml:"search_settle_ms"`
	AttemptSettleMs int `yaml:"attempt_settle_ms"`

	RefreshMinSeconds float64 `yaml:"refresh_min_seconds"`
	RefreshMaxSeconds float64 `yaml:"refresh_max_seconds"`

	// MinRefreshIntervalMs is a floor between two refresh clicks, whatever
	// the jitter produced.
	MinRefreshIntervalMs int `yaml:"min_refresh_interval_ms"`
}

type NotifyConfig struct {
	Slack SlackConfig `yaml:"slack"`
	Email EmailConfig `yaml:"email"`
}

type SlackConfig struct {
	Token      string `yaml:"token"`
	Channel    string `yaml:"channel"`
	WebhookURL string `yaml:"webhook_url"`
	APIURL     string `yaml:"api_url"`
}

type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Subject  string   `yaml:"subject"`
}

type URLConfig struct {
	Login  string `yaml:"login"`
	Search string `yaml:"search"`
}

// SelectorConfig holds CSS selectors of the booking site. Row selectors
// contain a single %d that is replaced by the 1-based result rank.
type SelectorConfig struct {
	LoginID       string `yaml:"login_id"`
	LoginPassword string `yaml:"login_password"`
	LoginSubmit   string `yaml:"login_submit"`
	LoginMarker   string `yaml:"login_marker"`

	Departure    string `yaml:"departure"`
	Arrival      string `yaml:"arrival"`
	Date         string `yaml:"date"`
	Hour         string `yaml:"hour"`
	SearchSubmit string `yaml:"search_submit"`

	SeatCell     string `yaml:"seat_cell"`
	WaitlistCell string `yaml:"waitlist_cell"`
	BookLink     string `yaml:"book_link"`
	WaitlistLink string `yaml:"waitlist_link"`

	BookingConfirmed string `yaml:"booking_confirmed"`
}

// MarkerConfig holds the visible texts the site uses for each state.
type MarkerConfig struct {
	LoggedIn string `yaml:"logged_in"`
	Book     string `yaml:"book"`
	Waitlist string `yaml:"waitlist"`
	SoldOut  string `yaml:"sold_out"`
}

const resultRow = "#result-form > fieldset > div.tbl_wrap.th_thead > table > tbody > tr:nth-child(%d)"

func DefaultConfig() *Config {
	userDataDir := getUserDataDir()

	return &Config{
		Itinerary: ItineraryConfig{
			Departure: "울산(통도사)",
			Arrival:   "수서",
			Date:      "",
			Hour:      "04",
			Ranks:     []int{1, 2},
			Waitlist:  false,
		},
		BrowserProfilePath:     filepath.Join(userDataDir, "browser-profile"),
		Headless:               false,
		KeepBrowserOpenSeconds: 600,
		PageLoadTimeout:        15,
		Pacing: PacingConfig{
			LoginSettleMs:        1000,
			SearchSettleMs:       1000,
			AttemptSettleMs:      1500,
			RefreshMinSeconds:    2,
			RefreshMaxSeconds:    4,
			MinRefreshIntervalMs: 1000,
		},
		Notify: NotifyConfig{
			Slack: SlackConfig{
				Channel: "#alarm",
				APIURL:  "https://slack.com/api/chat.postMessage",
			},
			Email: EmailConfig{
				Host:    "smtp.gmail.com",
				Port:    465,
				Subject: "[자동화] SRT 예매 성공 알림",
			},
		},
		URLs: URLConfig{
			Login:  "https://etk.srail.co.kr/cmc/01/selectLoginForm.do",
			Search: "https://etk.srail.kr/hpg/hra/01/selectScheduleList.do",
		},
		Selectors: SelectorConfig{
			LoginID:          "#srchDvNm01",
			LoginPassword:    "#hmpgPwdCphd01",
			LoginSubmit:      "#login-form > fieldset > div:nth-of-type(1) > div:nth-of-type(2) > div:nth-of-type(2) > div > div:nth-of-type(2) > input",
			LoginMarker:      "#wrap > div.header.header-e > div.global.clear > div",
			Departure:        "#dptRsStnCdNm",
			Arrival:          "#arvRsStnCdNm",
			Date:             "#dptDt",
			Hour:             "#dptTm",
			SearchSubmit:     "input[value='조회하기']",
			SeatCell:         resultRow + " > td:nth-child(7)",
			WaitlistCell:     resultRow + " > td:nth-child(8)",
			BookLink:         resultRow + " > td:nth-child(7) > a",
			WaitlistLink:     resultRow + " > td:nth-child(8) > a",
			BookingConfirmed: "#isFalseGotoMain",
		},
		Markers: MarkerConfig{
			LoggedIn: "환영합니다",
			Book:     "예약하기",
			Waitlist: "신청하기",
			SoldOut:  "매진",
		},
		HistoryPath: filepath.Join(userDataDir, "history.db"),
		MetricsAddr: "",
		DebugMode:   false,
	}
}

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if config.BrowserProfilePath != "" {
		if err := os.MkdirAll(config.BrowserProfilePath, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks the settings that cannot be fixed by defaults.
func (c *Config) Validate() error {
	var problems []string

	if c.Pacing.RefreshMinSeconds < 0 || c.Pacing.RefreshMaxSeconds < c.Pacing.RefreshMinSeconds {
		problems = append(problems, "pacing.refresh_min_seconds must be >= 0 and <= refresh_max_seconds")
	}
	if c.Pacing.MinRefreshIntervalMs < 0 {
		problems = append(problems, "pacing.min_refresh_interval_ms must be >= 0")
	}
	if c.PageLoadTimeout <= 0 {
		problems = append(problems, "page_load_timeout must be positive")
	}
	for name, sel := range map[string]string{
		"seat_cell":     c.Selectors.SeatCell,
		"waitlist_cell": c.Selectors.WaitlistCell,
		"book_link":     c.Selectors.BookLink,
		"waitlist_link": c.Selectors.WaitlistLink,
	} {
		if strings.Count(sel, "%d") != 1 {
			problems = append(problems, fmt.Sprintf("selectors.%s must contain exactly one %%d", name))
		}
	}
	if c.Notify.Email.Host != "" && len(c.Notify.Email.To) > 0 && c.Notify.Email.From == "" {
		problems = append(problems, "notify.email.from is required when recipients are set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Criteria builds the validated itinerary from the config.
func (c *Config) Criteria() (*Criteria, error) {
	it := c.Itinerary
	return NewCriteria(it.Departure, it.Arrival, it.Date, it.Hour, it.Ranks, it.Waitlist)
}

func (c *Config) opTimeout() time.Duration {
	return time.Duration(c.PageLoadTimeout) * time.Second
}

func (p PacingConfig) loginSettle() time.Duration {
	return time.Duration(p.LoginSettleMs) * time.Millisecond
}

func (p PacingConfig) searchSettle() time.Duration {
	return time.Duration(p.SearchSettleMs) * time.Millisecond
}

func (p PacingConfig) attemptSettle() time.Duration {
	return time.Duration(p.AttemptSettleMs) * time.Millisecond
}

func (p PacingConfig) minRefreshInterval() time.Duration {
	return time.Duration(p.MinRefreshIntervalMs) * time.Millisecond
}
