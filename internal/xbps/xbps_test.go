package xbps

import "testing"

func argvEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestInstallArgs(t *testing.T) {
	got := InstallArgs("/srv/repo", "/tmp/sysroot", []string{"gcc", "binutils"})
	want := []string{"xbps-install", "-Uy", "-R", "/srv/repo", "-r", "/tmp/sysroot", "-SM", "--", "gcc", "binutils"}
	if !argvEqual(got, want) {
		t.Fatalf("InstallArgs = %v, want %v", got, want)
	}
}

func TestInstallArgsWithNoPackages(t *testing.T) {
	got := InstallArgs("/srv/repo", "/tmp/sysroot", nil)
	want := []string{"xbps-install", "-Uy", "-R", "/srv/repo", "-r", "/tmp/sysroot", "-SM", "--"}
	if !argvEqual(got, want) {
		t.Fatalf("InstallArgs = %v, want %v", got, want)
	}
}

func TestRindexArgs(t *testing.T) {
	if got, want := RindexForceArgs("/srv/repo"), []string{"xbps-rindex", "-fa", "/srv/repo"}; !argvEqual(got, want) {
		t.Fatalf("RindexForceArgs = %v, want %v", got, want)
	}
	if got, want := RindexAddArgs("/srv/repo"), []string{"xbps-rindex", "-a", "/srv/repo"}; !argvEqual(got, want) {
		t.Fatalf("RindexAddArgs = %v, want %v", got, want)
	}
	if got, want := RindexCleanArgs("/srv/repo"), []string{"xbps-rindex", "-r", "/srv/repo"}; !argvEqual(got, want) {
		t.Fatalf("RindexCleanArgs = %v, want %v", got, want)
	}
}
