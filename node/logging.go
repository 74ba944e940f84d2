package node

import (
	"os"
	"path/filepath"

	"github.com/inconshreveable/log15"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nanoledger/go-nano/config"
)

// SetupLogging installs the root log15 handler per the configured preset:
// cli writes to the terminal, daemon to a rotated file, tests discards.
// Per-component overrides filter on the "module" context key.
func SetupLogging(cfg config.Logging, dataDir string) {
	var base log15.Handler
	switch cfg.Preset {
	case "tests":
		base = log15.DiscardHandler()
	case "cli":
		base = log15.StreamHandler(os.Stdout, log15.TerminalFormat())
	default: // daemon
		base = log15.StreamHandler(&lumberjack.Logger{
			Filename:   filepath.Join(dataDir, cfg.File),
			MaxSize:    64, // megabytes
			MaxBackups: 8,
		}, log15.LogfmtFormat())
	}

	level, err := log15.LvlFromString(cfg.Level)
	if err != nil {
		level = log15.LvlInfo
	}
	handler := log15.LvlFilterHandler(level, base)

	// Per-module levels route matching records through their own filter,
	// bypassing the global one.
	for module, name := range cfg.Levels {
		if moduleLevel, err := log15.LvlFromString(name); err == nil {
			handler = moduleHandler(module, log15.LvlFilterHandler(moduleLevel, base), handler)
		}
	}

	log15.Root().SetHandler(handler)
}

// moduleHandler sends records whose "module" matches through the override
// chain, everything else through the fallback.
func moduleHandler(module string, override, fallback log15.Handler) log15.Handler {
	return log15.FuncHandler(func(r *log15.Record) error {
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			if key, ok := r.Ctx[i].(string); ok && key == "module" {
				if value, ok := r.Ctx[i+1].(string); ok && value == module {
					return override.Log(r)
				}
			}
		}
		return fallback.Log(r)
	})
}
