package unit

import (
	"context"
	"slices"
	"strings"
)

// Metadata field names, as they appear in feeds and published indexes.
const (
	FieldName         = "name"
	FieldVersion      = "version"
	FieldChecksum     = "checksum"
	FieldChecksumType = "checksumtype"
	FieldFilename     = "filename"
	FieldManufacturer = "Manufacturer"
	FieldProductCode  = "ProductCode"
	FieldUpgradeCode  = "UpgradeCode"
	FieldGUID         = "guid"
)

// Descriptor is the static policy for one unit type.
type Descriptor struct {
	Type        Type
	DisplayName string
	// HasFile is false for metadata-only types, which skip download.
	HasFile bool
	// KeyFields are the natural key fields, in key order.
	KeyFields []string
	// FeedFields are the element names read from a feed package record.
	FeedFields []string
	// RepodataFields are the extra fields written to the published index.
	RepodataFields []string
	// DisplayFields are the fields shown by search, in column order.
	DisplayFields []string

	readMetadata func(ctx context.Context, ex Extractor, path string) (*Unit, error)
}

var keyFields = []string{FieldName, FieldVersion, FieldChecksum, FieldChecksumType}

var descriptors = map[Type]*Descriptor{
	TypeMSI: {
		Type:           TypeMSI,
		DisplayName:    "MSI",
		HasFile:        true,
		KeyFields:      keyFields,
		FeedFields:     []string{FieldName, FieldVersion, FieldChecksum, FieldManufacturer, FieldProductCode, FieldUpgradeCode},
		RepodataFields: []string{FieldProductCode, FieldUpgradeCode},
		DisplayFields:  []string{FieldName, FieldVersion, FieldManufacturer, FieldProductCode, FieldFilename, FieldChecksum},
		readMetadata:   readMSI,
	},
	TypeMSM: {
		Type:           TypeMSM,
		DisplayName:    "MSM",
		HasFile:        true,
		KeyFields:      keyFields,
		FeedFields:     []string{FieldName, FieldVersion, FieldChecksum, FieldGUID},
		RepodataFields: []string{FieldGUID},
		DisplayFields:  []string{FieldName, FieldVersion, FieldGUID, FieldFilename, FieldChecksum},
		readMetadata:   readMSM,
	},
}

// Lookup returns the descriptor for t.
func Lookup(t Type) (*Descriptor, bool) {
	d, ok := descriptors[t]
	return d, ok
}

// Types returns every supported type in processing order.
func Types() []Type {
	return []Type{TypeMSI, TypeMSM}
}

// ParseType resolves a type identifier, case-insensitively.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := descriptors[t]; !ok {
		return "", &UnsupportedTypeError{Type: s}
	}
	return t, nil
}

// RepodataFields returns the fields of the unit's published record that
// follow the checksum: name, version and the type's extra index fields that
// have a value, sorted together by field name ignoring case.
func (u *Unit) RepodataFields() []string {
	d, ok := Lookup(u.Type)
	if !ok {
		return nil
	}

	fields := make([]string, 0, 2+len(d.RepodataFields))
	fields = append(fields, FieldName, FieldVersion)
	for _, f := range d.RepodataFields {
		if u.Field(f) != "" {
			fields = append(fields, f)
		}
	}
	slices.SortFunc(fields, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return fields
}
