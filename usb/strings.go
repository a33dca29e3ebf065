// SPDX-License-Identifier: GPL-2.0-only

package usb

import (
	"encoding/binary"
	"sort"

	"github.com/efficientgo/core/errors"
	"golang.org/x/text/encoding/unicode"
)

// maxStringUnits is the most UTF-16 code units a one-byte bLength allows.
const maxStringUnits = (0xFF - 2) / 2

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeStringDescriptor returns the string descriptor for s: bLength,
// bDescriptorType and the UTF-16LE code units.
func EncodeStringDescriptor(s string) ([]byte, error) {
	units, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %q as UTF-16", s)
	}
	if len(units)/2 > maxStringUnits {
		return nil, errors.Newf("string %q is %d code units long, limit is %d", s, len(units)/2, maxStringUnits)
	}
	b := make([]byte, 0, len(units)+2)
	b = append(b, byte(len(units)+2), byte(DescriptorTypeString))
	return append(b, units...), nil
}

// DecodeStringDescriptor returns the text of a string descriptor.
func DecodeStringDescriptor(b []byte) (string, error) {
	if len(b) < 2 || DescriptorType(b[1]) != DescriptorTypeString {
		return "", errors.Wrap(ErrDescriptorTooShort, "not a string descriptor")
	}
	n := int(b[0])
	if n < 2 || n > len(b) || n%2 != 0 {
		return "", errors.Newf("string descriptor has bad length %d", n)
	}
	s, err := utf16le.NewDecoder().Bytes(b[2:n])
	if err != nil {
		return "", errors.Wrap(err, "decoding UTF-16 string")
	}
	return string(s), nil
}

// LanguageDescriptor returns string descriptor zero listing langs.
func LanguageDescriptor(langs ...uint16) []byte {
	b := make([]byte, 2+2*len(langs))
	b[0] = byte(len(b))
	b[1] = byte(DescriptorTypeString)
	for i, l := range langs {
		binary.LittleEndian.PutUint16(b[2+2*i:], l)
	}
	return b
}

// StringTable maps string indices to encoded string descriptors. Index 0
// holds the supported-languages descriptor.
type StringTable struct {
	blobs map[uint8][]byte
}

// NewStringTable encodes strs. Index 0 is reserved and must not appear in strs.
func NewStringTable(langs []uint16, strs map[uint8]string) (StringTable, error) {
	t := StringTable{blobs: make(map[uint8][]byte, len(strs)+1)}
	if len(langs) > 0 {
		t.blobs[0] = LanguageDescriptor(langs...)
	}
	for idx, s := range strs {
		if idx == 0 {
			return StringTable{}, errors.New("string index 0 is reserved for the language list")
		}
		blob, err := EncodeStringDescriptor(s)
		if err != nil {
			return StringTable{}, err
		}
		t.blobs[idx] = blob
	}
	return t, nil
}

// Descriptor returns a copy of the descriptor stored at index.
func (t StringTable) Descriptor(index uint8) ([]byte, bool) {
	blob, ok := t.blobs[index]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), blob...), true
}

// Indices returns the populated indices in ascending order.
func (t StringTable) Indices() []uint8 {
	idx := make([]uint8, 0, len(t.blobs))
	for i := range t.blobs {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })
	return idx
}

func (t StringTable) validate() error {
	for idx, blob := range t.blobs {
		if len(blob) < 2 || int(blob[0]) != len(blob) || DescriptorType(blob[1]) != DescriptorTypeString {
			return errors.Newf("string descriptor %d is malformed", idx)
		}
		if len(blob)%2 != 0 {
			return errors.Newf("string descriptor %d has an odd length", idx)
		}
	}
	if _, ok := t.blobs[0]; !ok {
		return errors.New("string descriptor 0 (languages) is missing")
	}
	return nil
}
