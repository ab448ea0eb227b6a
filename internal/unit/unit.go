// Package unit defines the installer content units (MSI and MSM) managed by
// msirepo, their natural keys, and the per-type metadata policy.
package unit

import (
	"fmt"
	"strings"
)

// Type identifies the concrete kind of a unit.
type Type string

// Supported unit types.
const (
	TypeMSI Type = "msi"
	TypeMSM Type = "msm"
)

// String returns the type identifier.
func (t Type) String() string {
	return string(t)
}

// ModuleSignature is one row of an installer's ModuleSignature table.
type ModuleSignature struct {
	Name    string `json:"name" yaml:"name"`
	GUID    string `json:"guid" yaml:"guid"`
	Version string `json:"version" yaml:"version"`
}

// Unit is a single installer artifact. MSI and MSM share this shape; the
// fields that apply to one type only are left empty for the other.
type Unit struct {
	Type         Type   `json:"type" yaml:"type"`
	Name         string `json:"name" yaml:"name"`
	Version      string `json:"version" yaml:"version"`
	Checksum     string `json:"checksum" yaml:"checksum"`
	ChecksumType string `json:"checksum_type" yaml:"checksum_type"`
	Filename     string `json:"filename" yaml:"filename"`
	Size         int64  `json:"size" yaml:"size"`

	// RelativePath is the feed location of the artifact, relative to the mirror URL.
	RelativePath string `json:"-" yaml:"-"`
	// StoragePath is the canonical content store path, set on commit.
	StoragePath string `json:"storage_path,omitempty" yaml:"storage_path,omitempty"`

	// MSI
	Manufacturer     string            `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	ProductCode      string            `json:"product_code,omitempty" yaml:"product_code,omitempty"`
	UpgradeCode      string            `json:"upgrade_code,omitempty" yaml:"upgrade_code,omitempty"`
	ModuleSignatures []ModuleSignature `json:"module_signatures,omitempty" yaml:"module_signatures,omitempty"`

	// MSM
	GUID string `json:"guid,omitempty" yaml:"guid,omitempty"`
}

// Key is the natural key of a unit. Two units of the same type are the same
// entity iff their keys are equal.
type Key struct {
	Name         string
	Version      string
	Checksum     string
	ChecksumType string
}

// String renders the key for logs and error messages.
func (k Key) String() string {
	return fmt.Sprintf("name=%s version=%s %s=%s", k.Name, k.Version, k.ChecksumType, k.Checksum)
}

// Key returns the unit's natural key.
func (u *Unit) Key() Key {
	return Key{
		Name:         u.Name,
		Version:      u.Version,
		Checksum:     strings.ToLower(u.Checksum),
		ChecksumType: strings.ToLower(u.ChecksumType),
	}
}

// HasFile reports whether units of this type carry file content.
func (u *Unit) HasFile() bool {
	d, ok := Lookup(u.Type)
	return ok && d.HasFile
}

// String renders the unit for logs.
func (u *Unit) String() string {
	return fmt.Sprintf("<%s: %s>", u.Type, u.Key())
}

// Filename derives the published filename of a unit. It is never taken from
// user input or the feed.
func Filename(name, version string, t Type) string {
	return fmt.Sprintf("%s-%s.%s", name, version, t)
}

// DeriveFilename sets Filename from the unit's name, version and type.
func (u *Unit) DeriveFilename() {
	u.Filename = Filename(u.Name, u.Version, u.Type)
}

// Field returns the value of a named metadata field. Names follow the feed
// element names, e.g. "name", "checksum", "ProductCode", "guid".
func (u *Unit) Field(name string) string {
	switch name {
	case FieldName:
		return u.Name
	case FieldVersion:
		return u.Version
	case FieldChecksum:
		return u.Checksum
	case FieldChecksumType:
		return u.ChecksumType
	case FieldFilename:
		return u.Filename
	case FieldManufacturer:
		return u.Manufacturer
	case FieldProductCode:
		return u.ProductCode
	case FieldUpgradeCode:
		return u.UpgradeCode
	case FieldGUID:
		return u.GUID
	}
	return ""
}

// SetField assigns a named metadata field. Unknown names are ignored.
func (u *Unit) SetField(name, value string) {
	switch name {
	case FieldName:
		u.Name = value
	case FieldVersion:
		u.Version = value
	case FieldChecksum:
		u.Checksum = value
	case FieldChecksumType:
		u.ChecksumType = value
	case FieldManufacturer:
		u.Manufacturer = value
	case FieldProductCode:
		u.ProductCode = value
	case FieldUpgradeCode:
		u.UpgradeCode = value
	case FieldGUID:
		u.GUID = value
	}
}
