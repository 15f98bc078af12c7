package version

import (
	"fmt"
	"regexp"
	"strings"
)

// Comparator is an operator used to compare two version numbers.
type Comparator string

const (
	LowerThan          Comparator = "<<"
	LowerThanOrEqual   Comparator = "<="
	Equal              Comparator = "="
	GreaterThanOrEqual Comparator = ">="
	GreaterThan        Comparator = ">>"
)

var comparators = []Comparator{
	LowerThan,
	LowerThanOrEqual,
	Equal,
	GreaterThanOrEqual,
	GreaterThan,
}

// DependencyKind is the kind of dependency requested by a package.
type DependencyKind string

const (
	// BuildDependency is installed in the system used to build a package
	// (e.g., a Debian package)
	BuildDependency DependencyKind = "build"

	// HostDependency is installed alongside a package (e.g., another
	// package from the same repository)
	HostDependency DependencyKind = "host"
)

// InvalidDependencyError is returned when parsing an invalid dependency
// specification.
type InvalidDependencyError struct {
	Message string
}

// Error implements the error interface
func (e *InvalidDependencyError) Error() string {
	return e.Message
}

// Chars making up a version comparator
var comparatorRegex = regexp.MustCompile("[<>=]+")

// Dependency is a version-constrained dependency specification declared
// using the following format:
//
//	[host:|build:]package[(<<|<=|=|>=|>>)version]
//
// Dependencies that start with `build:` correspond to packages that must be
// installed in the build system. Dependencies that start with `host:` or
// have no prefix correspond to packages that must be installed alongside
// the built package. A dependency with no version constraint matches any
// version of the target package; its Version field is nil.
type Dependency struct {
	Kind       DependencyKind
	Package    string
	Comparator Comparator
	Version    *Version

	// Original spelling of the dependency, kept for round-trip rendering
	original string
}

// ParseDependency parses a dependency specification.
func ParseDependency(dependency string) (*Dependency, error) {
	original := dependency
	comparator := Equal
	var depVersion *Version

	if loc := comparatorRegex.FindStringIndex(dependency); loc != nil {
		comparatorStr := dependency[loc[0]:loc[1]]
		found := false

		for _, known := range comparators {
			if string(known) == comparatorStr {
				comparator = known
				found = true
				break
			}
		}

		if !found {
			return nil, &InvalidDependencyError{
				Message: fmt.Sprintf("Invalid version comparator '%s', valid types are %s",
					comparatorStr, joinComparators()),
			}
		}

		parsed, err := Parse(strings.TrimSpace(dependency[loc[1]:]))
		if err != nil {
			return nil, err
		}

		depVersion = parsed
		dependency = strings.TrimSpace(dependency[:loc[0]])
	}

	kind := HostDependency
	pkg := dependency

	if colon := strings.Index(dependency, ":"); colon != -1 {
		kindStr := dependency[:colon]

		switch DependencyKind(kindStr) {
		case BuildDependency:
			kind = BuildDependency
		case HostDependency:
			kind = HostDependency
		default:
			return nil, &InvalidDependencyError{
				Message: fmt.Sprintf("Unknown dependency type '%s', valid types are 'build','host'", kindStr),
			}
		}

		pkg = dependency[colon+1:]
	}

	return &Dependency{
		Kind:       kind,
		Package:    pkg,
		Comparator: comparator,
		Version:    depVersion,
		original:   original,
	}, nil
}

func joinComparators() string {
	quoted := make([]string, len(comparators))
	for i, comparator := range comparators {
		quoted[i] = "'" + string(comparator) + "'"
	}
	return strings.Join(quoted, ",")
}

// Match checks whether a given version fulfills this dependency. A
// dependency without a version constraint matches any version.
func (d *Dependency) Match(v *Version) bool {
	if d.Version == nil {
		return true
	}

	switch d.Comparator {
	case LowerThan:
		return v.Compare(d.Version) < 0
	case LowerThanOrEqual:
		return v.Compare(d.Version) <= 0
	case GreaterThan:
		return v.Compare(d.Version) > 0
	case GreaterThanOrEqual:
		return v.Compare(d.Version) >= 0
	default:
		return v.Equal(d.Version)
	}
}

// ToDebian renders the dependency in the Debian relationship format,
// either `package` or `package (<cmp> version)`.
func (d *Dependency) ToDebian() string {
	if d.Version == nil {
		return d.Package
	}

	return fmt.Sprintf("%s (%s %s)", d.Package, d.Comparator, d.Version)
}

// String renders the dependency, preferring the original spelling when
// the dependency was obtained through ParseDependency.
func (d *Dependency) String() string {
	if d.original != "" {
		return d.original
	}

	if d.Version == nil {
		return fmt.Sprintf("%s:%s", d.Kind, d.Package)
	}

	return fmt.Sprintf("%s:%s%s%s", d.Kind, d.Package, d.Comparator, d.Version)
}

// Equal reports structural equality over the kind, package, comparator and
// version fields.
func (d *Dependency) Equal(other *Dependency) bool {
	if d.Kind != other.Kind || d.Package != other.Package || d.Comparator != other.Comparator {
		return false
	}

	if d.Version == nil || other.Version == nil {
		return d.Version == other.Version
	}

	return d.Version.Equal(other.Version)
}

// Key returns a structural identity key, used to deduplicate dependency
// sets.
func (d *Dependency) Key() string {
	if d.Version == nil {
		return fmt.Sprintf("%s:%s:%s:", d.Kind, d.Package, d.Comparator)
	}

	return fmt.Sprintf("%s:%s:%s:%d:%s:%s",
		d.Kind, d.Package, d.Comparator, d.Version.Epoch, d.Version.Upstream, d.Version.Revision)
}
