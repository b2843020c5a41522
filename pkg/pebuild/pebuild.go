package pebuild

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Section characteristics flags.
const (
	IMAGE_SCN_CNT_CODE               = 0x00000020
	IMAGE_SCN_CNT_INITIALIZED_DATA   = 0x00000040
	IMAGE_SCN_CNT_UNINITIALIZED_DATA = 0x00000080
	IMAGE_SCN_LNK_OTHER              = 0x00000100
	IMAGE_SCN_LNK_INFO               = 0x00000200
	IMAGE_SCN_LNK_REMOVE             = 0x00000800
	IMAGE_SCN_LNK_COMDAT             = 0x00001000
	IMAGE_SCN_GPREL                  = 0x00008000
	IMAGE_SCN_MEM_LOCKED             = 0x00040000
	IMAGE_SCN_MEM_PRELOAD            = 0x00080000
	IMAGE_SCN_LNK_NRELOC_OVFL        = 0x01000000
	IMAGE_SCN_MEM_DISCARDABLE        = 0x02000000
	IMAGE_SCN_MEM_NOT_CACHED         = 0x04000000
	IMAGE_SCN_MEM_NOT_PAGED          = 0x08000000
	IMAGE_SCN_MEM_SHARED             = 0x10000000
	IMAGE_SCN_MEM_EXECUTE            = 0x20000000
	IMAGE_SCN_MEM_READ               = 0x40000000
	IMAGE_SCN_MEM_WRITE              = 0x80000000
)

const (
	IMAGE_DOS_SIGNATURE = 0x5A4D
	IMAGE_NT_SIGNATURE  = 0x00004550 // PE00
)

const (
	OPTIONAL_MAGIC_PE32     = 0x10B
	OPTIONAL_MAGIC_PE32PLUS = 0x20B
)

// Raw layout sizes and field offsets used for byte level surgery.
const (
	DOSHeaderSize     = 64
	ELfanewOffset     = 60
	coffHeaderSize    = 20
	sectionHeaderSize = 40
)

// MaxSectionBytes caps the content of a single injected section.
const MaxSectionBytes = 16 << 20

var (
	ErrInvalidFormat = errors.New("pebuild: invalid pe format")
	ErrRebuild       = errors.New("pebuild: section rebuild failed")
)

// ImageDOSHeader represents the legacy DOS stub of a PE.
type ImageDOSHeader struct {
	Magic                    uint16
	BytesOnLastPageOfFile    uint16
	PagesInFile              uint16
	Relocations              uint16
	SizeOfHeader             uint16
	MinExtraParagraphsNeeded uint16
	MaxExtraParagraphsNeeded uint16
	InitialSS                uint16
	InitialSP                uint16
	Checksum                 uint16
	InitialIP                uint16
	InitialCS                uint16
	AddressOfRelocationTable uint16
	OverlayNumber            uint16
	ReservedWords1           [4]uint16
	OEMIdentifier            uint16
	OEMInformation           uint16
	ReservedWords2           [10]uint16
	AddressOfNewEXEHeader    uint32
}

// SectionHeader mirrors one 40 byte section table entry.
type SectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

func (s *SectionHeader) NameString() string {
	return string(bytes.TrimRight(s.Name[:], "\x00"))
}

// File is the parsed view of a PE needed to reason about its layout. It
// keeps the raw offsets of the headers so callers can patch fields in place.
type File struct {
	ELfanew              uint32
	Machine              uint16
	NumberOfSections     uint16
	SizeOfOptionalHeader uint16
	OptionalMagic        uint16
	SectionAlignment     uint32
	FileAlignment        uint32
	SizeOfImage          uint32
	SizeOfHeaders        uint32
	Sections             []SectionHeader

	coffOffset  uint32
	optOffset   uint32
	tableOffset uint32
}

func DosHeaderCheck(rawPeFileData []byte) bool {
	if len(rawPeFileData) < DOSHeaderSize {
		return false
	}
	return binary.LittleEndian.Uint16(rawPeFileData[0:2]) == IMAGE_DOS_SIGNATURE
}

// ELfanew reads the pointer to the NT headers at offset 60 of the DOS stub.
func ELfanew(rawPeFileData []byte) (uint32, error) {
	if len(rawPeFileData) < DOSHeaderSize {
		return 0, fmt.Errorf("%w: file smaller than dos header", ErrInvalidFormat)
	}
	return binary.LittleEndian.Uint32(rawPeFileData[ELfanewOffset : ELfanewOffset+4]), nil
}

// ParseDOSHeader decodes the full 64 byte DOS stub.
func ParseDOSHeader(rawPeFileData []byte) (*ImageDOSHeader, error) {
	if len(rawPeFileData) < DOSHeaderSize {
		return nil, fmt.Errorf("%w: file smaller than dos header", ErrInvalidFormat)
	}
	hdr := &ImageDOSHeader{}
	reader := bytes.NewReader(rawPeFileData[:DOSHeaderSize])
	if err := binary.Read(reader, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if hdr.Magic != IMAGE_DOS_SIGNATURE {
		return nil, fmt.Errorf("%w: missing MZ magic", ErrInvalidFormat)
	}
	return hdr, nil
}

// Parse walks the DOS, COFF and optional headers plus the section table.
// It never inspects section contents and never allocates copies of them.
func Parse(raw []byte) (*File, error) {
	if !DosHeaderCheck(raw) {
		return nil, fmt.Errorf("%w: missing MZ magic", ErrInvalidFormat)
	}
	eLfanew, err := ELfanew(raw)
	if err != nil {
		return nil, err
	}
	if eLfanew < DOSHeaderSize || int(eLfanew)+4+coffHeaderSize > len(raw) {
		return nil, fmt.Errorf("%w: e_lfanew 0x%x out of bounds", ErrInvalidFormat, eLfanew)
	}
	if binary.LittleEndian.Uint32(raw[eLfanew:eLfanew+4]) != IMAGE_NT_SIGNATURE {
		return nil, fmt.Errorf("%w: missing PE signature", ErrInvalidFormat)
	}
	f := &File{
		ELfanew:    eLfanew,
		coffOffset: eLfanew + 4,
	}
	coff := raw[f.coffOffset:]
	f.Machine = binary.LittleEndian.Uint16(coff[0:2])
	f.NumberOfSections = binary.LittleEndian.Uint16(coff[2:4])
	f.SizeOfOptionalHeader = binary.LittleEndian.Uint16(coff[16:18])
	f.optOffset = f.coffOffset + coffHeaderSize
	if int(f.optOffset)+int(f.SizeOfOptionalHeader) > len(raw) {
		return nil, fmt.Errorf("%w: optional header out of bounds", ErrInvalidFormat)
	}
	if f.SizeOfOptionalHeader < 64 {
		return nil, fmt.Errorf("%w: optional header too small", ErrInvalidFormat)
	}
	opt := raw[f.optOffset:]
	f.OptionalMagic = binary.LittleEndian.Uint16(opt[0:2])
	if f.OptionalMagic != OPTIONAL_MAGIC_PE32 && f.OptionalMagic != OPTIONAL_MAGIC_PE32PLUS {
		return nil, fmt.Errorf("%w: unknown optional header magic 0x%x", ErrInvalidFormat, f.OptionalMagic)
	}
	// These fields share offsets between PE32 and PE32+.
	f.SectionAlignment = binary.LittleEndian.Uint32(opt[32:36])
	f.FileAlignment = binary.LittleEndian.Uint32(opt[36:40])
	f.SizeOfImage = binary.LittleEndian.Uint32(opt[56:60])
	f.SizeOfHeaders = binary.LittleEndian.Uint32(opt[60:64])
	f.tableOffset = f.optOffset + uint32(f.SizeOfOptionalHeader)
	tableEnd := int(f.tableOffset) + int(f.NumberOfSections)*sectionHeaderSize
	if tableEnd > len(raw) {
		return nil, fmt.Errorf("%w: section table out of bounds", ErrInvalidFormat)
	}
	f.Sections = make([]SectionHeader, f.NumberOfSections)
	reader := bytes.NewReader(raw[f.tableOffset:tableEnd])
	if err := binary.Read(reader, binary.LittleEndian, f.Sections); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return f, nil
}

func (f *File) SectionNames() []string {
	names := make([]string, 0, len(f.Sections))
	for i := range f.Sections {
		names = append(names, f.Sections[i].NameString())
	}
	return names
}

func (f *File) HasSection(name string) bool {
	for i := range f.Sections {
		if f.Sections[i].NameString() == name {
			return true
		}
	}
	return false
}

func AlignValueUp(value, alignment uint32) uint32 {
	if alignment == 0 {
		return value
	}
	not := ^(alignment - 1)
	return (value + alignment - 1) & not
}

// NewSection is one section to be appended by AddSections.
type NewSection struct {
	Name            string
	Content         []byte
	Characteristics uint32
}

// nextVirtualAddress returns the first section aligned RVA past every
// existing section.
func (f *File) nextVirtualAddress() uint32 {
	var end uint32 = f.SizeOfHeaders
	for i := range f.Sections {
		span := f.Sections[i].VirtualSize
		if span == 0 {
			span = f.Sections[i].SizeOfRawData
		}
		sectionEnd := f.Sections[i].VirtualAddress + span
		if sectionEnd > end {
			end = sectionEnd
		}
	}
	return AlignValueUp(end, f.SectionAlignment)
}

// firstRawPointer returns the lowest file offset holding section data, or
// the file length when no section carries raw data.
func (f *File) firstRawPointer(fileLen int) uint32 {
	first := uint32(fileLen)
	for i := range f.Sections {
		if f.Sections[i].SizeOfRawData == 0 {
			continue
		}
		if f.Sections[i].PointerToRawData < first {
			first = f.Sections[i].PointerToRawData
		}
	}
	return first
}

// AddSections appends one new section per entry to the PE image in raw and
// returns the rebuilt file. Existing sections are never moved or modified;
// the new table entries are written into the slack between the current table
// end and the first section's raw data, and the new contents are appended at
// the file aligned end of the image. Callers get ErrRebuild when a name
// collides, content is empty or oversized, or the header slack cannot hold
// the grown table.
func AddSections(raw []byte, adds []NewSection) ([]byte, error) {
	f, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if len(adds) == 0 {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	}
	seen := make(map[string]bool)
	for i := range adds {
		name := adds[i].Name
		if name == "" || len(name) > 8 {
			return nil, fmt.Errorf("%w: bad section name %q", ErrRebuild, name)
		}
		if f.HasSection(name) || seen[name] {
			return nil, fmt.Errorf("%w: section name %q already exists", ErrRebuild, name)
		}
		seen[name] = true
		if len(adds[i].Content) == 0 {
			return nil, fmt.Errorf("%w: empty content for section %q", ErrRebuild, name)
		}
		if len(adds[i].Content) > MaxSectionBytes {
			return nil, fmt.Errorf("%w: section %q content exceeds %d bytes", ErrRebuild, name, MaxSectionBytes)
		}
	}
	tableEnd := f.tableOffset + uint32(f.NumberOfSections)*sectionHeaderSize
	newTableEnd := tableEnd + uint32(len(adds))*sectionHeaderSize
	slackLimit := f.SizeOfHeaders
	if first := f.firstRawPointer(len(raw)); first < slackLimit {
		slackLimit = first
	}
	if newTableEnd > slackLimit {
		return nil, fmt.Errorf("%w: no header slack for %d more table entries", ErrRebuild, len(adds))
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	rawPtr := AlignValueUp(uint32(len(out)), f.FileAlignment)
	if pad := int(rawPtr) - len(out); pad > 0 {
		out = append(out, make([]byte, pad)...)
	}
	va := f.nextVirtualAddress()
	for i := range adds {
		hdr := SectionHeader{
			VirtualSize:      uint32(len(adds[i].Content)),
			VirtualAddress:   va,
			SizeOfRawData:    AlignValueUp(uint32(len(adds[i].Content)), f.FileAlignment),
			PointerToRawData: rawPtr,
			Characteristics:  adds[i].Characteristics,
		}
		copy(hdr.Name[:], adds[i].Name)
		if hdr.Characteristics == 0 {
			hdr.Characteristics = IMAGE_SCN_CNT_INITIALIZED_DATA | IMAGE_SCN_MEM_READ
		}
		entry := &bytes.Buffer{}
		if err := binary.Write(entry, binary.LittleEndian, &hdr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRebuild, err)
		}
		copy(out[tableEnd+uint32(i)*sectionHeaderSize:], entry.Bytes())
		out = append(out, adds[i].Content...)
		if pad := int(hdr.SizeOfRawData) - len(adds[i].Content); pad > 0 {
			out = append(out, make([]byte, pad)...)
		}
		rawPtr += hdr.SizeOfRawData
		va = AlignValueUp(va+hdr.VirtualSize, f.SectionAlignment)
	}
	binary.LittleEndian.PutUint16(out[f.coffOffset+2:], f.NumberOfSections+uint16(len(adds)))
	binary.LittleEndian.PutUint32(out[f.optOffset+56:], va)
	return out, nil
}
