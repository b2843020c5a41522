// Package testpe builds small, structurally valid PE32+ images in memory so
// tests can exercise parsing, rebuilding and scoring without binary fixtures.
package testpe

import (
	"encoding/binary"
)

type Section struct {
	Name    string
	Content []byte
}

const (
	eLfanew       = 0x80
	fileAlign     = 0x200
	sectionAlign  = 0x1000
	sizeOfHeaders = 0x400
	imageBase     = 0x140000000
)

func alignTo(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}

// Minimal returns the canonical two section sample used across the tests.
func Minimal() []byte {
	text := make([]byte, 0x10)
	for i := range text {
		text[i] = 0xCC
	}
	data := make([]byte, 0x20)
	for i := range data {
		data[i] = byte(i)
	}
	return Build(Section{Name: ".text", Content: text}, Section{Name: ".data", Content: data})
}

// Build lays out a PE32+ with the given sections. The header region is
// 0x400 bytes, leaving slack after the section table so new entries can be
// registered without moving section data.
func Build(sections ...Section) []byte {
	numSections := len(sections)
	headerEnd := uint32(sizeOfHeaders)

	// Raw data offsets, file aligned, packed after the headers.
	rawPtrs := make([]uint32, numSections)
	rawSizes := make([]uint32, numSections)
	vas := make([]uint32, numSections)
	rawCursor := headerEnd
	vaCursor := uint32(sectionAlign)
	for i, s := range sections {
		rawPtrs[i] = rawCursor
		rawSizes[i] = alignTo(uint32(len(s.Content)), fileAlign)
		if rawSizes[i] == 0 {
			rawSizes[i] = fileAlign
		}
		rawCursor += rawSizes[i]
		vas[i] = vaCursor
		span := uint32(len(s.Content))
		if span == 0 {
			span = 1
		}
		vaCursor = alignTo(vaCursor+span, sectionAlign)
	}
	sizeOfImage := vaCursor
	total := rawCursor

	out := make([]byte, total)

	// DOS stub.
	out[0] = 'M'
	out[1] = 'Z'
	binary.LittleEndian.PutUint32(out[60:64], eLfanew)

	// NT signature and COFF header.
	off := uint32(eLfanew)
	binary.LittleEndian.PutUint32(out[off:], 0x00004550)
	coff := off + 4
	binary.LittleEndian.PutUint16(out[coff+0:], 0x8664)              // Machine
	binary.LittleEndian.PutUint16(out[coff+2:], uint16(numSections)) // NumberOfSections
	binary.LittleEndian.PutUint16(out[coff+16:], 240)                // SizeOfOptionalHeader
	binary.LittleEndian.PutUint16(out[coff+18:], 0x0022)             // Characteristics

	// Optional header, PE32+.
	opt := coff + 20
	binary.LittleEndian.PutUint16(out[opt+0:], 0x20B)
	out[opt+2] = 14 // linker versions, cosmetic
	out[opt+3] = 0
	if numSections > 0 {
		binary.LittleEndian.PutUint32(out[opt+16:], vas[0]) // AddressOfEntryPoint
		binary.LittleEndian.PutUint32(out[opt+20:], vas[0]) // BaseOfCode
	}
	binary.LittleEndian.PutUint64(out[opt+24:], imageBase)
	binary.LittleEndian.PutUint32(out[opt+32:], sectionAlign)
	binary.LittleEndian.PutUint32(out[opt+36:], fileAlign)
	binary.LittleEndian.PutUint16(out[opt+40:], 6) // MajorOperatingSystemVersion
	binary.LittleEndian.PutUint16(out[opt+48:], 6) // MajorSubsystemVersion
	binary.LittleEndian.PutUint32(out[opt+56:], sizeOfImage)
	binary.LittleEndian.PutUint32(out[opt+60:], sizeOfHeaders)
	binary.LittleEndian.PutUint16(out[opt+68:], 3) // Subsystem, console
	binary.LittleEndian.PutUint64(out[opt+72:], 0x100000)
	binary.LittleEndian.PutUint64(out[opt+80:], 0x1000)
	binary.LittleEndian.PutUint64(out[opt+88:], 0x100000)
	binary.LittleEndian.PutUint64(out[opt+96:], 0x1000)
	binary.LittleEndian.PutUint32(out[opt+108:], 16) // NumberOfRvaAndSizes

	// Section table.
	table := opt + 240
	for i, s := range sections {
		entry := table + uint32(i)*40
		copy(out[entry:entry+8], s.Name)
		binary.LittleEndian.PutUint32(out[entry+8:], uint32(len(s.Content)))
		binary.LittleEndian.PutUint32(out[entry+12:], vas[i])
		binary.LittleEndian.PutUint32(out[entry+16:], rawSizes[i])
		binary.LittleEndian.PutUint32(out[entry+20:], rawPtrs[i])
		characteristics := uint32(0x40000040) // initialized data, readable
		if s.Name == ".text" {
			characteristics = 0x60000020 // code, executable, readable
		}
		binary.LittleEndian.PutUint32(out[entry+36:], characteristics)
		copy(out[rawPtrs[i]:], s.Content)
	}
	return out
}
