package config

import "time"

// DefaultNotice is the licence notice attached to every image response.
const DefaultNotice = "本服务所使用的图片来自 Cute-Dress/Dress，遵循 CC BY-NC-SA 4.0 许可。"

// DefaultMirrors are the jsDelivr front ends tried in order.
var DefaultMirrors = []string{
	"https://cdn.jsdelivr.net/",
	"https://fastly.jsdelivr.net/",
	"https://gcore.jsdelivr.net/",
	"https://testingcf.jsdelivr.net/",
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Notice == "" {
		cfg.Server.Notice = DefaultNotice
	}
	if cfg.Source.Mode == "" {
		cfg.Source.Mode = ModeLocal
	}
	if cfg.Source.RepoDir == "" {
		cfg.Source.RepoDir = "./Dress"
	}
	if cfg.Source.CloneURL == "" {
		cfg.Source.CloneURL = "https://github.com/Cute-Dress/Dress.git"
	}
	if cfg.Source.Branch == "" {
		cfg.Source.Branch = "master"
	}
	if cfg.Source.CloneAttempts == 0 {
		cfg.Source.CloneAttempts = 10
	}
	if cfg.Source.GitTimeout == 0 {
		cfg.Source.GitTimeout = 30 * time.Second
	}
	gh := &cfg.Source.GitHub
	if gh.APIURL == "" {
		gh.APIURL = "https://api.github.com"
	}
	if gh.Owner == "" {
		gh.Owner = "Cute-Dress"
	}
	if gh.Repo == "" {
		gh.Repo = "Dress"
	}
	if gh.PerPage == 0 {
		gh.PerPage = 100
	}
	if gh.Timeout == 0 {
		gh.Timeout = 10 * time.Second
	}
	// MaxRetries zero is meaningful (no retries) only when set explicitly; yaml cannot
	// tell us that, so zero means default here.
	if gh.MaxRetries == 0 {
		gh.MaxRetries = 3
	}
	if gh.BaseDelay == 0 {
		gh.BaseDelay = time.Second
	}
	if gh.MinInterval == 0 {
		gh.MinInterval = 100 * time.Millisecond
	}
	if cfg.Index.SentinelAuthor == "" {
		cfg.Index.SentinelAuthor = "CuteDress"
	}
	if cfg.Index.Workers == 0 {
		cfg.Index.Workers = 1
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = "./public"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/builds.db"
	}
	if cfg.Sync.Debounce == 0 {
		cfg.Sync.Debounce = 2 * time.Second
	}
	if cfg.Sync.PullTimeout == 0 {
		cfg.Sync.PullTimeout = 30 * time.Second
	}
	if len(cfg.Mirror.BaseURLs) == 0 {
		cfg.Mirror.BaseURLs = append([]string(nil), DefaultMirrors...)
	}
	if cfg.Mirror.Path == "" {
		cfg.Mirror.Path = "gh/nomdn/dress-api@main/public/"
	}
	if cfg.Mirror.Timeout == 0 {
		cfg.Mirror.Timeout = 10 * time.Second
	}
}
