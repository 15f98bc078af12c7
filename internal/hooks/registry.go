package hooks

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ipkmk/ipkmk/internal/build"
)

type registerFunc func(builder *build.Builder, logger *logrus.Entry) build.Listener

var registry = map[string]registerFunc{
	"strip": func(builder *build.Builder, logger *logrus.Entry) build.Listener {
		return NewStripHook(builder, logger)
	},
	"reload-oxide-apps": func(builder *build.Builder, logger *logrus.Entry) build.Listener {
		return NewOxideAppsHook(logger)
	},
}

// Names lists the available built-in hooks.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Attach registers the named built-in hook on a builder. An unknown name
// is an error.
func Attach(name string, builder *build.Builder, logger *logrus.Entry) error {
	register, ok := registry[name]
	if !ok {
		return fmt.Errorf("unknown hook '%s', available hooks: %v", name, Names())
	}

	builder.Register(register(builder, logger.WithField("hook", name)))
	return nil
}
