// Package passwd resolves uids to login names. It is an "external
// collaborator" per spec.md §1 (the CORE never queries NSS/passwd itself);
// this thin wrapper exists only so the rest of the tree has something
// concrete to call. No third-party passwd/NSS binding appears anywhere in
// the example pack, so this is the one ambient concern implemented directly
// on the standard library (os/user) — see DESIGN.md.
package passwd

import (
	"fmt"
	"os/user"
	"strconv"

	"github.com/flux-hpc/imp/pkg/imperr"
)

// Entry is the subset of a passwd(5) record the privsep driver needs.
type Entry struct {
	UID      int64
	GID      int64
	Username string
	HomeDir  string
	Shell    string
}

// Lookup resolves uid to its passwd entry.
func Lookup(uid int64) (Entry, error) {
	u, err := user.LookupId(strconv.FormatInt(uid, 10))
	if err != nil {
		return Entry{}, fmt.Errorf("passwd: lookup uid %d: %w", uid, imperr.ErrNotFound)
	}
	gid, err := strconv.ParseInt(u.Gid, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("passwd: lookup uid %d: malformed gid: %w", uid, imperr.ErrIO)
	}

	// os/user does not expose the login shell; the shell comparison the
	// privileged driver needs (exec.allowed-shells) is against the caller-
	// supplied shell path, not this entry's, so we leave Shell empty here
	// rather than shelling out to getent for a field nothing reads.
	return Entry{
		UID:      uid,
		GID:      gid,
		Username: u.Username,
		HomeDir:  u.HomeDir,
	}, nil
}

// LookupByName resolves a login name to its passwd entry.
func LookupByName(name string) (Entry, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return Entry{}, fmt.Errorf("passwd: lookup user %q: %w", name, imperr.ErrNotFound)
	}
	uid, err := strconv.ParseInt(u.Uid, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("passwd: lookup user %q: malformed uid: %w", name, imperr.ErrIO)
	}
	gid, err := strconv.ParseInt(u.Gid, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("passwd: lookup user %q: malformed gid: %w", name, imperr.ErrIO)
	}
	return Entry{
		UID:      uid,
		GID:      gid,
		Username: u.Username,
		HomeDir:  u.HomeDir,
	}, nil
}
