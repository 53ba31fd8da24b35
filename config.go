package main

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

type config struct {
	HTTPAddr   string `env:"PANEL_HTTP_ADDR" envDefault:":8080"`
	StaticPath string `env:"PANEL_STATIC_PATH" envDefault:"static"`

	CloudURL   string `env:"PANEL_CLOUD_URL" envDefault:"https://api.hetzner.cloud/v1"`
	StorageURL string `env:"PANEL_STORAGE_URL" envDefault:"https://api.hetzner.com/v1"`
	RobotURL   string `env:"PANEL_ROBOT_URL" envDefault:"https://robot-ws.your-server.de"`

	TSNetHostname string `env:"PANEL_TSNET_HOSTNAME"`
	TSNetDir      string `env:"PANEL_TSNET_DIR" envDefault:"tsnet"`
	TSNetAddr     string `env:"PANEL_TSNET_ADDR" envDefault:":443"`
	LogTS         bool   `env:"PANEL_LOGTS"`
}

// parseConfig reads PANEL_* variables from environ (the process environment
// when nil) and lets flags in args override them.
func parseConfig(fs *flag.FlagSet, args []string, environ map[string]string) (config, error) {
	var cfg config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.HTTPAddr, "http.addr", cfg.HTTPAddr, "Address to listen on when not on a tailnet")
	fs.StringVar(&cfg.StaticPath, "static.path", cfg.StaticPath, "Directory or .zip file with the panel bundle, empty to disable")
	fs.StringVar(&cfg.CloudURL, "cloud.url", cfg.CloudURL, "Cloud API base URL")
	fs.StringVar(&cfg.StorageURL, "storage.url", cfg.StorageURL, "Storage box API base URL")
	fs.StringVar(&cfg.RobotURL, "robot.url", cfg.RobotURL, "Robot webservice base URL")
	fs.StringVar(&cfg.TSNetHostname, "tsnet.hostname", cfg.TSNetHostname, "Serve on the tailnet under this hostname")
	fs.StringVar(&cfg.TSNetDir, "tsnet.dir", cfg.TSNetDir, "Directory to store tsnet state")
	fs.StringVar(&cfg.TSNetAddr, "tsnet.addr", cfg.TSNetAddr, "Tailnet TLS listen address")
	fs.BoolVar(&cfg.LogTS, "logts", cfg.LogTS, "Log tsnet activity")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	return cfg, nil
}
