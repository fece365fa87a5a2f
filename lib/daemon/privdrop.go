// Package daemon holds process-lifecycle concerns for the stproxyd
// binary that don't belong in any one protocol package: dropping root
// privileges once the privileged sockets are bound.
//
// No repo in the retrieval pack touches setuid/setgid — nps runs
// unprivileged and drops nothing — so this is built directly on
// os/user and syscall, mirroring the group-then-user ordering of
// original_source/src/main.rs's PrivDrop::default().user(..).group(..)
// apply() call (the privdrop crate always applies group before user,
// since changing the user first can drop the CAP_SETGID needed for
// the group change).
package daemon

import (
	"os/user"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

// DropPrivileges switches the calling process to the named group and
// then user. It must be called after any socket that needs a
// privileged port or IP_TRANSPARENT has already been bound and
// configured.
func DropPrivileges(userName, groupName string) error {
	gid, err := lookupGid(groupName)
	if err != nil {
		return errors.Wrapf(err, "can't find group: %s", groupName)
	}
	uid, err := lookupUid(userName)
	if err != nil {
		return errors.Wrapf(err, "can't find user: %s", userName)
	}

	if err := syscall.Setgid(gid); err != nil {
		return errors.Wrap(err, "setgid")
	}
	if err := syscall.Setuid(uid); err != nil {
		return errors.Wrap(err, "setuid")
	}
	return nil
}

func lookupUid(name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

func lookupGid(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}
