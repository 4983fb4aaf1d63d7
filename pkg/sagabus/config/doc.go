/*
Package config provides typed access to YAML or JSON configuration and a
file watcher for hot reload.

# Accessors

Config wraps a decoded document. Every accessor takes a default that is
returned when the key is missing or holds the wrong type:

	cfg, err := config.FromFile("sagabus.yaml")
	if err != nil {
	    return err
	}
	interval := cfg.Duration("bus.retry_interval", 5*time.Second)
	batch := cfg.Int("bus.retry_batch_size", 10)

Keys may be dotted paths into nested sections. Sub returns a section as its
own Config, which is how the event and saga packages read their settings:

	busCfg := event.BusConfigFrom(cfg.Sub("bus"))

Durations accept time.ParseDuration strings ("30s") or bare numbers of
seconds. Int rejects floats with a fractional part.

# Hot Reload

Watcher keeps the latest successfully parsed file and invokes callbacks on
change. A file that fails to parse is logged and the previous
configuration is kept:

	w, err := config.NewWatcher("sagabus.yaml", logger)
	if err != nil {
	    return err
	}
	w.OnChange(func(c config.Config) {
	    bus.SetHealthLimits(event.HealthLimitsFrom(c.Sub("bus").Sub("health")))
	})
	if err := w.Start(); err != nil {
	    return err
	}
	defer w.Stop()

# Thread Safety

Config is safe for concurrent reads. Watcher methods are safe for
concurrent use.
*/
package config
