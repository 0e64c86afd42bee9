/*
Package config loads flowgen settings.

# Layers

Settings are resolved in three layers, later layers winning:

 1. DefaultSettings, matching the hosted service (10 generations per 24h,
    gpt-4.1-nano for keywords, gpt-4.1-mini for synthesis, 15 search results
    above a 0.25 score).
 2. A YAML or JSON file, read into a Config and mapped by LoadSettings.
 3. FLOWGEN_* environment variables, applied by ApplyEnv. Secrets should be
    supplied this way rather than in files.

# Config accessor

Config wraps the decoded document and returns typed values with defaults.
Keys may be dotted paths into nested sections:

	cfg, _ := config.FromFile("flowgen.yaml")
	limit := cfg.Int("quota.limit", 10)
	window := cfg.Duration("quota.window", 24*time.Hour)

Missing keys and values of the wrong type yield the default.
*/
package config
