package unit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trly/msirepo/internal/checksum"
)

// stubExtractor returns canned tables for every path.
type stubExtractor struct {
	tables []string
	props  map[string]string
	sigs   []ModuleSignature
	err    error
	calls  []string
}

func (s *stubExtractor) Tables(_ context.Context, _ string) ([]string, error) {
	s.calls = append(s.calls, "tables")
	return s.tables, s.err
}

func (s *stubExtractor) Properties(_ context.Context, _ string) (map[string]string, error) {
	s.calls = append(s.calls, "properties")
	return s.props, nil
}

func (s *stubExtractor) ModuleSignatures(_ context.Context, _ string) ([]ModuleSignature, error) {
	s.calls = append(s.calls, "signatures")
	return s.sigs, nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "a-1.0.msi", Filename("a", "1.0", TypeMSI))
	assert.Equal(t, "vc-14.2.msm", Filename("vc", "14.2", TypeMSM))

	u := &Unit{Type: TypeMSM, Name: "x", Version: "2"}
	u.DeriveFilename()
	assert.Equal(t, "x-2.msm", u.Filename)
}

func TestKeyIsCaseInsensitiveOnChecksum(t *testing.T) {
	a := &Unit{Name: "a", Version: "1", Checksum: "ABCD", ChecksumType: "SHA256"}
	b := &Unit{Name: "a", Version: "1", Checksum: "abcd", ChecksumType: "sha256"}
	assert.Equal(t, a.Key(), b.Key())

	c := &Unit{Name: "a", Version: "1", Checksum: "abcd", ChecksumType: "sha512"}
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("MSI")
	require.NoError(t, err)
	assert.Equal(t, TypeMSI, typ)

	_, err = ParseType("rpm")
	require.Error(t, err)
	assert.True(t, IsUnsupportedType(err))
	assert.Contains(t, err.Error(), "rpm")
}

func TestRepodataFields(t *testing.T) {
	u := &Unit{Type: TypeMSI, UpgradeCode: "{U}", ProductCode: "{P}"}
	assert.Equal(t, []string{FieldName, FieldProductCode, FieldUpgradeCode, FieldVersion}, u.RepodataFields())

	u.ProductCode = ""
	assert.Equal(t, []string{FieldName, FieldUpgradeCode, FieldVersion}, u.RepodataFields())

	m := &Unit{Type: TypeMSM, GUID: "G"}
	assert.Equal(t, []string{FieldGUID, FieldName, FieldVersion}, m.RepodataFields())

	m.GUID = ""
	assert.Equal(t, []string{FieldName, FieldVersion}, m.RepodataFields())
}

func TestFieldRoundTrip(t *testing.T) {
	u := &Unit{Type: TypeMSI}
	for _, f := range []string{FieldName, FieldVersion, FieldChecksum, FieldManufacturer, FieldProductCode, FieldUpgradeCode, FieldGUID} {
		u.SetField(f, "v-"+f)
		assert.Equal(t, "v-"+f, u.Field(f))
	}
	u.SetField("unknown", "x")
	assert.Empty(t, u.Field("unknown"))
}

func TestFromFileMSI(t *testing.T) {
	path := writeFile(t, "hello world")
	ex := &stubExtractor{
		tables: []string{"Property", "ModuleSignature", "File"},
		props: map[string]string{
			"ProductName":    "a",
			"ProductVersion": "1.0",
			"Manufacturer":   "ACME",
			"ProductCode":    "{P}",
			"UpgradeCode":    "{U}",
		},
		sigs: []ModuleSignature{{Name: "vc", GUID: "G1", Version: "14"}},
	}

	u, err := FromFile(context.Background(), ex, TypeMSI, path, "")
	require.NoError(t, err)

	assert.Equal(t, TypeMSI, u.Type)
	assert.Equal(t, "a", u.Name)
	assert.Equal(t, "1.0", u.Version)
	assert.Equal(t, "a-1.0.msi", u.Filename)
	assert.Equal(t, "ACME", u.Manufacturer)
	assert.Equal(t, "{P}", u.ProductCode)
	assert.Equal(t, "{U}", u.UpgradeCode)
	assert.Equal(t, checksum.DefaultType, u.ChecksumType)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", u.Checksum)
	assert.Equal(t, int64(11), u.Size)
	assert.Len(t, u.ModuleSignatures, 1)
}

func TestFromFileMSIWithoutModuleSignatureTable(t *testing.T) {
	ex := &stubExtractor{
		tables: []string{"Property"},
		props:  map[string]string{"ProductName": "a", "ProductVersion": "1"},
	}

	u, err := FromFile(context.Background(), ex, TypeMSI, writeFile(t, "x"), "sha512")
	require.NoError(t, err)
	assert.Empty(t, u.ModuleSignatures)
	assert.Equal(t, "sha512", u.ChecksumType)
	assert.NotContains(t, ex.calls, "signatures")
}

func TestFromFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		ex      *stubExtractor
		wantMsg string
	}{
		{
			name:    "msi without property table",
			typ:     TypeMSI,
			ex:      &stubExtractor{tables: []string{"File"}},
			wantMsg: "MSI does not have a Property table",
		},
		{
			name:    "msi missing version",
			typ:     TypeMSI,
			ex:      &stubExtractor{tables: []string{"Property"}, props: map[string]string{"ProductName": "a"}},
			wantMsg: "required field is missing: version",
		},
		{
			name:    "msm with property table",
			typ:     TypeMSM,
			ex:      &stubExtractor{tables: []string{"Property", "ModuleSignature"}},
			wantMsg: "Attempt to handle an MSI as an MSM",
		},
		{
			name:    "msm without module signature",
			typ:     TypeMSM,
			ex:      &stubExtractor{tables: []string{"File"}},
			wantMsg: "ModuleSignature is missing",
		},
		{
			name: "msm with two signatures",
			typ:  TypeMSM,
			ex: &stubExtractor{
				tables: []string{"ModuleSignature"},
				sigs:   []ModuleSignature{{Name: "a", GUID: "1", Version: "1"}, {Name: "b", GUID: "2", Version: "1"}},
			},
			wantMsg: "Not a valid MSM",
		},
		{
			name:    "msm with no signatures",
			typ:     TypeMSM,
			ex:      &stubExtractor{tables: []string{"ModuleSignature"}},
			wantMsg: "found 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromFile(context.Background(), tt.ex, tt.typ, writeFile(t, "x"), "sha256")
			require.Error(t, err)
			assert.True(t, IsInvalidPackage(err), "got %T", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestFromFileMSM(t *testing.T) {
	ex := &stubExtractor{
		tables: []string{"ModuleSignature", "File"},
		sigs:   []ModuleSignature{{Name: "vcredist", GUID: "ABC-123", Version: "14.0"}},
	}

	u, err := FromFile(context.Background(), ex, TypeMSM, writeFile(t, "msm"), "sha256")
	require.NoError(t, err)
	assert.Equal(t, "vcredist", u.Name)
	assert.Equal(t, "14.0", u.Version)
	assert.Equal(t, "ABC-123", u.GUID)
	assert.Equal(t, "vcredist-14.0.msm", u.Filename)
}

func TestFromFilePropagatesExtractorError(t *testing.T) {
	boom := errors.New("boom")
	_, err := FromFile(context.Background(), &stubExtractor{err: boom}, TypeMSI, writeFile(t, "x"), "")
	assert.ErrorIs(t, err, boom)
}

func TestFromFileRejectsBadInput(t *testing.T) {
	_, err := FromFile(context.Background(), &stubExtractor{}, Type("rpm"), writeFile(t, "x"), "")
	assert.True(t, IsUnsupportedType(err))

	_, err = FromFile(context.Background(), &stubExtractor{}, TypeMSI, writeFile(t, "x"), "md5")
	assert.True(t, checksum.IsInvalidType(err))
}
