package plugin

import (
	malboxerrors "github.com/dualhorizon/malbox/pkg/errors"
)

// errDiscovery is the sentinel wrapped into a missing-dependency error.
// It classifies as PluginError in the shared taxonomy.
var errDiscovery = malboxerrors.Wrap(malboxerrors.KindPluginError, "discovery error", nil)
