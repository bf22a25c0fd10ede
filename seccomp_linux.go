//go:build linux && cgo && seccomp

package main

import (
	seccomp "github.com/seccomp/libseccomp-golang"
)

// nameLintAvailable reports whether syscall names can be resolved against the
// host's syscall table.
const nameLintAvailable = true

// lintSyscallNames returns the names libseccomp cannot resolve on this host.
// Unresolvable names are typically typos or syscalls of a foreign
// architecture; either way removing them can never change behavior here.
func lintSyscallNames(names []string) []string {
	var unknown []string
	for _, name := range names {
		if _, err := seccomp.GetSyscallFromName(name); err != nil {
			unknown = append(unknown, name)
		}
	}
	return unknown
}
