package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const sampleProfileDoc = `{
  "defaultAction": "SCMP_ACT_ERRNO",
  "architectures": ["SCMP_ARCH_X86_64"],
  "syscalls": [
    {"names": ["read", "write", "close"], "action": "SCMP_ACT_ALLOW"},
    {"name": "openat", "action": "SCMP_ACT_ALLOW"},
    {"names": ["futex"], "action": "SCMP_ACT_ALLOW", "args": [{"index": 0, "value": 0, "op": "SCMP_CMP_NE"}]}
  ]
}`

func writeTestProfile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test profile: %v", err)
	}
	return path
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()

	t.Run("Valid Document", func(t *testing.T) {
		path := writeTestProfile(t, dir, "valid.json", sampleProfileDoc)
		profile, err := LoadProfile(path)
		if err != nil {
			t.Fatalf("Expected valid profile to load, got %v", err)
		}
		if profile.DefaultAction != "SCMP_ACT_ERRNO" {
			t.Errorf("Expected default action SCMP_ACT_ERRNO, got %s", profile.DefaultAction)
		}
		if len(profile.Syscalls) != 3 {
			t.Errorf("Expected 3 syscall groups, got %d", len(profile.Syscalls))
		}
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := LoadProfile(filepath.Join(dir, "does-not-exist.json"))
		if !IsErrorCode(err, ErrProfileIO) {
			t.Errorf("Expected profile IO error, got %v", err)
		}
	})

	t.Run("Malformed JSON", func(t *testing.T) {
		path := writeTestProfile(t, dir, "broken.json", `{"defaultAction": `)
		_, err := LoadProfile(path)
		if !IsErrorCode(err, ErrProfileFormat) {
			t.Errorf("Expected profile format error, got %v", err)
		}
	})

	t.Run("Missing Syscalls Section", func(t *testing.T) {
		path := writeTestProfile(t, dir, "nosyscalls.json", `{"defaultAction": "SCMP_ACT_ERRNO"}`)
		_, err := LoadProfile(path)
		if !IsErrorCode(err, ErrProfileFormat) {
			t.Errorf("Expected profile format error, got %v", err)
		}
	})

	t.Run("Group With Both Name Forms", func(t *testing.T) {
		path := writeTestProfile(t, dir, "bothnames.json", `{
			"defaultAction": "SCMP_ACT_ERRNO",
			"syscalls": [{"name": "read", "names": ["write"], "action": "SCMP_ACT_ALLOW"}]
		}`)
		_, err := LoadProfile(path)
		if !IsErrorCode(err, ErrProfileFormat) {
			t.Errorf("Expected profile format error, got %v", err)
		}
	})

	t.Run("Group Without Action", func(t *testing.T) {
		path := writeTestProfile(t, dir, "noaction.json", `{
			"defaultAction": "SCMP_ACT_ERRNO",
			"syscalls": [{"names": ["read"]}]
		}`)
		_, err := LoadProfile(path)
		if !IsErrorCode(err, ErrProfileFormat) {
			t.Errorf("Expected profile format error, got %v", err)
		}
	})
}

func TestAllSyscalls(t *testing.T) {
	path := writeTestProfile(t, t.TempDir(), "profile.json", sampleProfileDoc)
	profile, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("Failed to load profile: %v", err)
	}

	got := profile.AllSyscalls()
	want := []string{"close", "futex", "openat", "read", "write"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected catalog %v, got %v", want, got)
	}

	// Duplicated names across groups must collapse to one catalog entry.
	profile.Syscalls = append(profile.Syscalls, &SyscallRule{
		Names:  []string{"read", "dup3"},
		Action: "SCMP_ACT_ALLOW",
	})
	got = profile.AllSyscalls()
	want = []string{"close", "dup3", "futex", "openat", "read", "write"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected deduplicated catalog %v, got %v", want, got)
	}
}

func TestWithSyscallRemoved(t *testing.T) {
	path := writeTestProfile(t, t.TempDir(), "profile.json", sampleProfileDoc)
	profile, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("Failed to load profile: %v", err)
	}

	t.Run("Removes From Group", func(t *testing.T) {
		out := profile.WithSyscallRemoved("write")
		if out.ContainsSyscall("write") {
			t.Error("Expected write to be removed")
		}
		if !out.ContainsSyscall("read") || !out.ContainsSyscall("close") {
			t.Error("Expected remaining group members to survive")
		}
	})

	t.Run("Drops Emptied Group", func(t *testing.T) {
		out := profile.WithSyscallRemoved("futex")
		if len(out.Syscalls) != len(profile.Syscalls)-1 {
			t.Errorf("Expected emptied group to be dropped, got %d groups", len(out.Syscalls))
		}
	})

	t.Run("Handles Legacy Name Field", func(t *testing.T) {
		out := profile.WithSyscallRemoved("openat")
		if out.ContainsSyscall("openat") {
			t.Error("Expected legacy-form group to be removed")
		}
	})

	t.Run("Absent Name Is A No-Op", func(t *testing.T) {
		out := profile.WithSyscallRemoved("ptrace")
		if !reflect.DeepEqual(out.AllSyscalls(), profile.AllSyscalls()) {
			t.Errorf("Expected catalog unchanged, got %v", out.AllSyscalls())
		}
	})

	t.Run("Receiver Is Never Mutated", func(t *testing.T) {
		before := profile.AllSyscalls()
		_ = profile.WithSyscallRemoved("read")
		_ = profile.WithSyscallRemoved("openat")
		after := profile.AllSyscalls()
		if !reflect.DeepEqual(before, after) {
			t.Errorf("Expected source profile unchanged, got %v", after)
		}
	})
}

func TestProfileClone(t *testing.T) {
	path := writeTestProfile(t, t.TempDir(), "profile.json", sampleProfileDoc)
	profile, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("Failed to load profile: %v", err)
	}

	clone := profile.Clone()
	clone.Syscalls[0].Names[0] = "mutated"
	clone.DefaultAction = "SCMP_ACT_KILL"

	if profile.Syscalls[0].Names[0] != "read" {
		t.Errorf("Expected original names untouched, got %s", profile.Syscalls[0].Names[0])
	}
	if profile.DefaultAction != "SCMP_ACT_ERRNO" {
		t.Errorf("Expected original default action untouched, got %s", profile.DefaultAction)
	}
}

func TestProfileSaveDeterminism(t *testing.T) {
	dir := t.TempDir()
	path := writeTestProfile(t, dir, "profile.json", sampleProfileDoc)
	profile, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("Failed to load profile: %v", err)
	}

	first := filepath.Join(dir, "first.json")
	second := filepath.Join(dir, "second.json")
	if err := profile.Save(first); err != nil {
		t.Fatalf("Failed to save profile: %v", err)
	}
	if err := profile.Save(second); err != nil {
		t.Fatalf("Failed to save profile: %v", err)
	}

	a, _ := os.ReadFile(first)
	b, _ := os.ReadFile(second)
	if !bytes.Equal(a, b) {
		t.Error("Expected identical bytes for repeated saves of the same profile")
	}

	reloaded, err := LoadProfile(first)
	if err != nil {
		t.Fatalf("Failed to reload saved profile: %v", err)
	}
	if !reflect.DeepEqual(reloaded.AllSyscalls(), profile.AllSyscalls()) {
		t.Errorf("Expected catalog to survive a save, got %v", reloaded.AllSyscalls())
	}
	if len(reloaded.Syscalls[2].Args) != 1 {
		t.Errorf("Expected rule args to survive a save, got %d", len(reloaded.Syscalls[2].Args))
	}
}
