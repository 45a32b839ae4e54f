// Package version exposes the framework release version.
package version

import "fmt"

// ReleaseType marks the maturity of the released version.
type ReleaseType uint8

const (
	Alpha ReleaseType = iota
	Beta
	ReleaseCandidate
	Normal
)

const (
	Major = 0
	Minor = 1
	Patch = 0
)

// Type is the release type of the current version.
const Type = Alpha

// Info describes a release version.
type Info struct {
	Major int         `json:"major"`
	Minor int         `json:"minor"`
	Patch int         `json:"patch"`
	Type  ReleaseType `json:"type"`
}

// Get returns the current framework version.
func Get() Info {
	return Info{Major: Major, Minor: Minor, Patch: Patch, Type: Type}
}

// String formats the version as "MAJ.MIN.PATCH" with a "-alpha" / "-beta" /
// "-rc" suffix for pre-release types.
func (i Info) String() string {
	s := fmt.Sprintf("%d.%d.%d", i.Major, i.Minor, i.Patch)
	switch i.Type {
	case Alpha:
		s += "-alpha"
	case Beta:
		s += "-beta"
	case ReleaseCandidate:
		s += "-rc"
	}
	return s
}

// String returns the current framework version string.
func String() string {
	return Get().String()
}
