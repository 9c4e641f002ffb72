package unixctl

import (
	"os/user"
	"strconv"

	"github.com/agor/agord/internal/apierr"
)

// OSGIDResolver resolves a host group name to its numeric gid via the
// system's group database. There is no third-party library in the example
// corpus for this lookup — os/user is the only way to query nsswitch/getent
// group data short of shelling out, so this stays on the standard library.
type OSGIDResolver struct{}

// ResolveGID looks up name in the system group database.
func (OSGIDResolver) ResolveGID(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindUnixOpFailed, "resolve gid", err, map[string]any{"op": "resolveGID", "group": name})
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindUnixOpFailed, "parse gid", err, map[string]any{"op": "resolveGID", "group": name})
	}
	return gid, nil
}
