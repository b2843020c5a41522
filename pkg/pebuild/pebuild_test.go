package pebuild

import (
	"bytes"
	"testing"

	"github.com/Binject/debug/pe"
	"github.com/latortuga71/GoEvade/internal/testpe"
	"github.com/stretchr/testify/require"
)

type alignTest struct {
	value     uint32
	alignment uint32
	expected  uint32
}

var alignTests = []alignTest{
	{0, 0x200, 0},
	{1, 0x200, 0x200},
	{0x200, 0x200, 0x200},
	{0x201, 0x200, 0x400},
	{0x3FF, 0x1000, 0x1000},
	{7, 0, 7},
}

func TestAlignValueUp(t *testing.T) {
	for _, test := range alignTests {
		got := AlignValueUp(test.value, test.alignment)
		if got != test.expected {
			t.Errorf("AlignValueUp(%#x, %#x) = %#x expected %#x", test.value, test.alignment, got, test.expected)
		}
	}
}

func TestParseMinimal(t *testing.T) {
	raw := testpe.Minimal()
	f, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, uint16(2), f.NumberOfSections)
	require.Equal(t, uint16(OPTIONAL_MAGIC_PE32PLUS), f.OptionalMagic)
	require.Equal(t, uint32(0x200), f.FileAlignment)
	require.Equal(t, uint32(0x1000), f.SectionAlignment)
	require.Equal(t, uint32(0x400), f.SizeOfHeaders)
	require.Equal(t, []string{".text", ".data"}, f.SectionNames())
	require.True(t, f.HasSection(".data"))
	require.False(t, f.HasSection(".evil"))
}

func TestParseRejectsMalformed(t *testing.T) {
	good := testpe.Minimal()

	truncated := good[:32]

	badMagic := make([]byte, len(good))
	copy(badMagic, good)
	badMagic[0] = 'X'

	badPointer := make([]byte, len(good))
	copy(badPointer, good)
	badPointer[60] = 0xFF
	badPointer[61] = 0xFF
	badPointer[62] = 0xFF
	badPointer[63] = 0x7F

	badSignature := make([]byte, len(good))
	copy(badSignature, good)
	badSignature[0x80] = 0

	for _, raw := range [][]byte{nil, truncated, badMagic, badPointer, badSignature} {
		_, err := Parse(raw)
		require.ErrorIs(t, err, ErrInvalidFormat)
	}
}

func TestParseDOSHeader(t *testing.T) {
	raw := testpe.Minimal()
	hdr, err := ParseDOSHeader(raw)
	require.NoError(t, err)
	require.Equal(t, uint16(IMAGE_DOS_SIGNATURE), hdr.Magic)
	require.Equal(t, uint32(0x80), hdr.AddressOfNewEXEHeader)

	pointer, err := ELfanew(raw)
	require.NoError(t, err)
	require.Equal(t, uint32(0x80), pointer)
}

func TestAddSectionsReparse(t *testing.T) {
	raw := testpe.Minimal()
	payloadOne := bytes.Repeat([]byte{0xAB}, 100)
	payloadTwo := bytes.Repeat([]byte{0xCD}, 0x300)
	out, err := AddSections(raw, []NewSection{
		{Name: "aAbBcCdD", Content: payloadOne},
		{Name: "eEfFgGhH", Content: payloadTwo},
	})
	require.NoError(t, err)

	// Our own parser agrees on the grown table.
	f, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, uint16(4), f.NumberOfSections)

	// An independent parser must accept the rebuilt image too.
	pf, err := pe.NewFile(bytes.NewReader(out))
	require.NoError(t, err)
	defer pf.Close()
	require.Equal(t, uint16(4), pf.FileHeader.NumberOfSections)

	one := pf.Section("aAbBcCdD")
	require.NotNil(t, one)
	require.Equal(t, uint32(len(payloadOne)), one.VirtualSize)
	oneData, err := one.Data()
	require.NoError(t, err)
	require.Equal(t, payloadOne, oneData[:len(payloadOne)])

	two := pf.Section("eEfFgGhH")
	require.NotNil(t, two)
	require.Equal(t, uint32(len(payloadTwo)), two.VirtualSize)
	twoData, err := two.Data()
	require.NoError(t, err)
	require.Equal(t, payloadTwo, twoData[:len(payloadTwo)])

	// Pre-existing sections are byte identical.
	text := pf.Section(".text")
	require.NotNil(t, text)
	textData, err := text.Data()
	require.NoError(t, err)
	require.Equal(t, out[0x400:0x600], textData)
}

func TestAddSectionsLayout(t *testing.T) {
	raw := testpe.Minimal()
	out, err := AddSections(raw, []NewSection{{Name: "newsect", Content: []byte{1, 2, 3}}})
	require.NoError(t, err)
	f, err := Parse(out)
	require.NoError(t, err)
	added := f.Sections[len(f.Sections)-1]
	require.Equal(t, "newsect", added.NameString())
	require.Zero(t, added.PointerToRawData%f.FileAlignment)
	require.Zero(t, added.SizeOfRawData%f.FileAlignment)
	require.Zero(t, added.VirtualAddress%f.SectionAlignment)
	require.Equal(t, uint32(3), added.VirtualSize)
	require.Equal(t, AlignValueUp(added.VirtualAddress+added.VirtualSize, f.SectionAlignment), f.SizeOfImage)
	require.Equal(t, uint32(IMAGE_SCN_CNT_INITIALIZED_DATA|IMAGE_SCN_MEM_READ), added.Characteristics)
}

func TestAddSectionsRejects(t *testing.T) {
	raw := testpe.Minimal()

	_, err := AddSections(raw, []NewSection{{Name: ".data", Content: []byte{1}}})
	require.ErrorIs(t, err, ErrRebuild)

	_, err = AddSections(raw, []NewSection{
		{Name: "samename", Content: []byte{1}},
		{Name: "samename", Content: []byte{2}},
	})
	require.ErrorIs(t, err, ErrRebuild)

	_, err = AddSections(raw, []NewSection{{Name: "overlong name", Content: []byte{1}}})
	require.ErrorIs(t, err, ErrRebuild)

	_, err = AddSections(raw, []NewSection{{Name: "emptyone", Content: nil}})
	require.ErrorIs(t, err, ErrRebuild)

	huge := make([]byte, MaxSectionBytes+1)
	_, err = AddSections(raw, []NewSection{{Name: "hugeone", Content: huge}})
	require.ErrorIs(t, err, ErrRebuild)

	_, err = AddSections([]byte("not a pe"), []NewSection{{Name: "whatever", Content: []byte{1}}})
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestAddSectionsHeadroom(t *testing.T) {
	raw := testpe.Minimal()
	adds := make([]NewSection, 0, 14)
	for i := 0; i < 14; i++ {
		adds = append(adds, NewSection{
			Name:    string([]byte{'s', 'e', 'c', 't', byte('a' + i)}),
			Content: []byte{byte(i + 1)},
		})
	}
	// Thirteen spare table slots fit in the header slack, fourteen do not.
	out, err := AddSections(raw, adds[:13])
	require.NoError(t, err)
	f, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, uint16(15), f.NumberOfSections)

	_, err = AddSections(raw, adds)
	require.ErrorIs(t, err, ErrRebuild)
}
