//go:build windows

package fileutil

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// restrictToOwner replaces the DACL of path with a protected one holding a
// single full-control entry for the current user. On a directory the entry
// is inherited by new files and subdirectories, so audit databases and
// catalog files created later start out owner-only as well.
func restrictToOwner(path string, dir bool) error {
	acl, err := ownerOnlyACL(dir)
	if err != nil {
		return err
	}
	return windows.SetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION|windows.PROTECTED_DACL_SECURITY_INFORMATION,
		nil, nil, acl, nil,
	)
}

// ownerInheritance is the inheritance mode of the owner entry.
func ownerInheritance(dir bool) uint32 {
	if dir {
		return windows.SUB_CONTAINERS_AND_OBJECTS_INHERIT
	}
	return windows.NO_INHERITANCE
}

func ownerOnlyACL(dir bool) (*windows.ACL, error) {
	sid, err := currentUserSID()
	if err != nil {
		return nil, err
	}
	entry := windows.EXPLICIT_ACCESS{
		AccessPermissions: windows.GENERIC_ALL,
		AccessMode:        windows.SET_ACCESS,
		Inheritance:       ownerInheritance(dir),
		Trustee: windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  windows.TRUSTEE_IS_USER,
			TrusteeValue: windows.TrusteeValueFromSID(sid),
		},
	}
	acl, err := windows.ACLFromEntries([]windows.EXPLICIT_ACCESS{entry}, nil)
	if err != nil {
		return nil, fmt.Errorf("build ACL: %w", err)
	}
	return acl, nil
}

func currentUserSID() (*windows.SID, error) {
	token, err := windows.OpenCurrentProcessToken()
	if err != nil {
		return nil, fmt.Errorf("open process token: %w", err)
	}
	defer token.Close()

	user, err := token.GetTokenUser()
	if err != nil {
		return nil, fmt.Errorf("get token user: %w", err)
	}
	// the SID lives in the token buffer
	return user.User.Sid.Copy()
}
