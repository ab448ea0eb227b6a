package unit

import (
	"context"
	"fmt"
	"slices"

	"github.com/trly/msirepo/internal/checksum"
)

// Table names read from installer databases.
const (
	TablePropertyName        = "Property"
	TableModuleSignatureName = "ModuleSignature"
)

// Extractor reads metadata out of installer files.
type Extractor interface {
	// Tables returns the names of the tables present in the installer.
	Tables(ctx context.Context, path string) ([]string, error)
	// Properties returns the Property table as a key/value map.
	Properties(ctx context.Context, path string) (map[string]string, error)
	// ModuleSignatures returns the ModuleSignature table rows sorted by
	// (name, version).
	ModuleSignatures(ctx context.Context, path string) ([]ModuleSignature, error)
}

// FromFile builds a unit of type t from the installer at path. Metadata comes
// from the extractor; checksum and size are computed over the raw bytes with
// checksumType.
func FromFile(ctx context.Context, ex Extractor, t Type, path, checksumType string) (*Unit, error) {
	d, ok := Lookup(t)
	if !ok {
		return nil, &UnsupportedTypeError{Type: string(t)}
	}

	if checksumType == "" {
		checksumType = checksum.DefaultType
	}
	if !checksum.Supported(checksumType) {
		return nil, &checksum.InvalidTypeError{Type: checksumType}
	}

	u, err := d.readMetadata(ctx, ex, path)
	if err != nil {
		return nil, err
	}
	u.Type = t

	if u.Name == "" {
		return nil, NewInvalidPackageError(path, "required field is missing: name", nil)
	}
	if u.Version == "" {
		return nil, NewInvalidPackageError(path, "required field is missing: version", nil)
	}

	sum, size, err := checksum.ComputeFile(path, checksumType)
	if err != nil {
		return nil, fmt.Errorf("computing checksum of %s: %w", path, err)
	}

	u.Checksum = sum
	u.ChecksumType = checksum.Sanitize(checksumType)
	u.Size = size
	u.DeriveFilename()

	return u, nil
}

func readMSI(ctx context.Context, ex Extractor, path string) (*Unit, error) {
	tables, err := ex.Tables(ctx, path)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(tables, TablePropertyName) {
		return nil, NewInvalidPackageError(path, "MSI does not have a Property table", nil)
	}

	props, err := ex.Properties(ctx, path)
	if err != nil {
		return nil, err
	}

	u := &Unit{
		Name:         props["ProductName"],
		Version:      props["ProductVersion"],
		Manufacturer: props[FieldManufacturer],
		ProductCode:  props[FieldProductCode],
		UpgradeCode:  props[FieldUpgradeCode],
	}

	// Module signatures link an MSI to the merge modules it consumes.
	if slices.Contains(tables, TableModuleSignatureName) {
		sigs, err := ex.ModuleSignatures(ctx, path)
		if err != nil {
			return nil, err
		}
		u.ModuleSignatures = sigs
	}

	return u, nil
}

func readMSM(ctx context.Context, ex Extractor, path string) (*Unit, error) {
	tables, err := ex.Tables(ctx, path)
	if err != nil {
		return nil, err
	}
	if slices.Contains(tables, TablePropertyName) {
		return nil, NewInvalidPackageError(path, "Attempt to handle an MSI as an MSM", nil)
	}
	if !slices.Contains(tables, TableModuleSignatureName) {
		return nil, NewInvalidPackageError(path, "ModuleSignature is missing", nil)
	}

	sigs, err := ex.ModuleSignatures(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(sigs) != 1 {
		return nil, NewInvalidPackageError(path,
			fmt.Sprintf("Not a valid MSM: expected one entry in ModuleSignature, found %d", len(sigs)), nil)
	}

	return &Unit{
		Name:    sigs[0].Name,
		Version: sigs[0].Version,
		GUID:    sigs[0].GUID,
	}, nil
}
