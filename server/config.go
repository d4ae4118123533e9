package server

import "time"

type Config struct {
	Addr string `json:"addr"`
	Root string `json:"root"`
	// Static client files served at /. Empty disables it.
	WebDir string `json:"web_dir"`
	// Keep serving after the first client disconnects.
	KeepOpen bool `json:"keep_open"`
	// Don't open the client in the default browser once listening.
	NoBrowser         bool          `json:"no_browser"`
	CoalesceWindow    time.Duration `json:"coalesce_window"`
	DeleteNotifyAfter time.Duration `json:"delete_notify_after"`
}

func DefaultConfig() Config {
	return Config{
		Addr:              "127.0.0.1:8080",
		CoalesceWindow:    500 * time.Millisecond,
		DeleteNotifyAfter: time.Second,
	}
}
