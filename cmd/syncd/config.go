package main

type CronConfig struct {
	// UTC. Both zero means the default 05:00 schedule.
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

type SyncConfig struct {
	ApiKey         string `json:"api_key"`
	UiOffset       int    `json:"ui_offset"`
	LookbackWeeks  int    `json:"lookback_weeks"`
	LookaheadWeeks int    `json:"lookahead_weeks"`
}

type Config struct {
	DatabaseUrl string     `json:"database_url"`
	Cron        CronConfig `json:"cron"`
	Sync        SyncConfig `json:"sync"`
	Verbose     bool       `json:"verbose"`
}
