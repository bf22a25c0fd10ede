package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/opencontainers/runtime-spec/specs-go"
)

// Docker-style seccomp profile documents

// Profile represents a seccomp profile as consumed by the container runtime.
// Every field the runtime understands is modelled so documents survive a
// load/save round trip.
type Profile struct {
	DefaultAction    specs.LinuxSeccompAction `json:"defaultAction"`
	DefaultErrnoRet  *uint                    `json:"defaultErrnoRet,omitempty"`
	ArchMap          []Architecture           `json:"archMap,omitempty"`
	Architectures    []specs.Arch             `json:"architectures,omitempty"`
	Flags            []specs.LinuxSeccompFlag `json:"flags,omitempty"`
	ListenerPath     string                   `json:"listenerPath,omitempty"`
	ListenerMetadata string                   `json:"listenerMetadata,omitempty"`
	Syscalls         []*SyscallRule           `json:"syscalls"`
}

// Architecture represents a primary architecture and its sub-architectures.
type Architecture struct {
	Arch      specs.Arch   `json:"architecture"`
	SubArches []specs.Arch `json:"subArchitectures"`
}

// Filter conditionally applies a syscall rule based on host properties.
type Filter struct {
	Caps      []string `json:"caps,omitempty"`
	Arches    []string `json:"arches,omitempty"`
	MinKernel string   `json:"minKernel,omitempty"`
}

// SyscallRule matches a group of syscalls sharing one action. The legacy
// single-name form predates the names list and is still accepted on input.
type SyscallRule struct {
	Name     string                   `json:"name,omitempty"`
	Names    []string                 `json:"names,omitempty"`
	Action   specs.LinuxSeccompAction `json:"action"`
	ErrnoRet *uint                    `json:"errnoRet,omitempty"`
	Args     []*specs.LinuxSeccompArg `json:"args,omitempty"`
	Comment  string                   `json:"comment,omitempty"`
	Includes *Filter                  `json:"includes,omitempty"`
	Excludes *Filter                  `json:"excludes,omitempty"`
}

// LoadProfile reads and validates a seccomp profile document.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewTrimErrorWithCause(ErrProfileIO,
			"failed to read profile", err).
			WithContext("path", path).
			WithComponent("profile")
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, NewTrimErrorWithCause(ErrProfileFormat,
			"failed to parse profile", err).
			WithContext("path", path).
			WithComponent("profile")
	}

	if err := validateProfile(&profile); err != nil {
		return nil, NewTrimErrorWithCause(ErrProfileFormat,
			"profile document is malformed", err).
			WithContext("path", path).
			WithComponent("profile")
	}

	return &profile, nil
}

// validateProfile checks the structural invariants of a profile document.
func validateProfile(p *Profile) error {
	if p.DefaultAction == "" {
		return fmt.Errorf("defaultAction is required")
	}
	if p.Syscalls == nil {
		return fmt.Errorf("syscalls section is missing")
	}

	for i, rule := range p.Syscalls {
		if rule == nil {
			return fmt.Errorf("syscall group %d is null", i)
		}
		if rule.Name != "" && len(rule.Names) != 0 {
			return fmt.Errorf("syscall group %d uses both 'name' and 'names'", i)
		}
		if rule.Name == "" && len(rule.Names) == 0 {
			return fmt.Errorf("syscall group %d names no syscalls", i)
		}
		if rule.Action == "" {
			return fmt.Errorf("syscall group %d has no action", i)
		}
		for j, n := range rule.Names {
			if n == "" {
				return fmt.Errorf("syscall group %d has an empty name at index %d", i, j)
			}
		}
	}

	return nil
}

// Save serializes the profile deterministically with two-space indentation
// and writes it atomically, overwriting any existing file.
func (p *Profile) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return NewTrimErrorWithCause(ErrProfileFormat,
			"failed to encode profile", err).
			WithContext("path", path).
			WithComponent("profile")
	}
	data = append(data, '\n')

	if err := writeFileAtomic(path, data, 0644); err != nil {
		return NewTrimErrorWithCause(ErrProfileIO,
			"failed to write profile", err).
			WithContext("path", path).
			WithComponent("profile")
	}
	return nil
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	clone := &Profile{
		DefaultAction:    p.DefaultAction,
		ListenerPath:     p.ListenerPath,
		ListenerMetadata: p.ListenerMetadata,
	}

	if p.DefaultErrnoRet != nil {
		v := *p.DefaultErrnoRet
		clone.DefaultErrnoRet = &v
	}
	if p.ArchMap != nil {
		clone.ArchMap = make([]Architecture, len(p.ArchMap))
		for i, a := range p.ArchMap {
			clone.ArchMap[i] = Architecture{
				Arch:      a.Arch,
				SubArches: append([]specs.Arch(nil), a.SubArches...),
			}
		}
	}
	if p.Architectures != nil {
		clone.Architectures = append([]specs.Arch(nil), p.Architectures...)
	}
	if p.Flags != nil {
		clone.Flags = append([]specs.LinuxSeccompFlag(nil), p.Flags...)
	}
	if p.Syscalls != nil {
		clone.Syscalls = make([]*SyscallRule, 0, len(p.Syscalls))
		for _, rule := range p.Syscalls {
			clone.Syscalls = append(clone.Syscalls, rule.clone())
		}
	}

	return clone
}

// clone returns a deep copy of a syscall rule.
func (r *SyscallRule) clone() *SyscallRule {
	c := &SyscallRule{
		Name:    r.Name,
		Action:  r.Action,
		Comment: r.Comment,
	}
	if r.Names != nil {
		c.Names = append([]string(nil), r.Names...)
	}
	if r.ErrnoRet != nil {
		v := *r.ErrnoRet
		c.ErrnoRet = &v
	}
	if r.Args != nil {
		c.Args = make([]*specs.LinuxSeccompArg, 0, len(r.Args))
		for _, arg := range r.Args {
			if arg == nil {
				c.Args = append(c.Args, nil)
				continue
			}
			a := *arg
			c.Args = append(c.Args, &a)
		}
	}
	if r.Includes != nil {
		c.Includes = r.Includes.clone()
	}
	if r.Excludes != nil {
		c.Excludes = r.Excludes.clone()
	}
	return c
}

// clone returns a deep copy of a filter.
func (f *Filter) clone() *Filter {
	c := &Filter{MinKernel: f.MinKernel}
	if f.Caps != nil {
		c.Caps = append([]string(nil), f.Caps...)
	}
	if f.Arches != nil {
		c.Arches = append([]string(nil), f.Arches...)
	}
	return c
}

// names returns every syscall name the rule covers, including the legacy
// single-name form.
func (r *SyscallRule) names() []string {
	if r.Name != "" {
		return []string{r.Name}
	}
	return r.Names
}

// AllSyscalls returns the deduplicated union of syscall names across all
// groups, in lexicographic order. The order is stable across runs so repeated
// minimizations test syscalls in the same sequence.
func (p *Profile) AllSyscalls() []string {
	seen := make(map[string]struct{})
	for _, rule := range p.Syscalls {
		for _, name := range rule.names() {
			seen[name] = struct{}{}
		}
	}

	all := make([]string, 0, len(seen))
	for name := range seen {
		all = append(all, name)
	}
	sort.Strings(all)
	return all
}

// ContainsSyscall reports whether any group references the given name.
func (p *Profile) ContainsSyscall(name string) bool {
	for _, rule := range p.Syscalls {
		for _, n := range rule.names() {
			if n == name {
				return true
			}
		}
	}
	return false
}

// WithSyscallRemoved returns a new profile with name removed from every
// group. Groups left with no names are dropped entirely, since the runtime
// rejects rules that match nothing. Removing an absent name yields a profile
// equal to the receiver, so removal is idempotent.
func (p *Profile) WithSyscallRemoved(name string) *Profile {
	out := p.Clone()

	kept := out.Syscalls[:0]
	for _, rule := range out.Syscalls {
		if rule.Name == name {
			continue
		}
		if len(rule.Names) > 0 {
			filtered := rule.Names[:0]
			for _, n := range rule.Names {
				if n != name {
					filtered = append(filtered, n)
				}
			}
			rule.Names = filtered
			if len(rule.Names) == 0 {
				continue
			}
		}
		kept = append(kept, rule)
	}
	out.Syscalls = kept

	return out
}
