package model

// Noarch is the sentinel architecture value the graph generator emits for
// architecture-independent tools/packages. Build.SetGraph keeps it on those
// artifacts; it is not replaced by the build's concrete architecture (only
// artifacts with no architecture at all are given that one). Adapted from
// distri's Architectures/HasArchSuffix helpers (distr1-distri/archs.go),
// generalized from "is this string a known arch suffix" to "is this the
// noarch sentinel, or a real, singleton build architecture".
const Noarch = "noarch"

// IsArch reports whether s names a real (non-noarch) architecture.
func IsArch(s string) bool {
	return s != "" && s != Noarch
}
