// Package nips implements the NIP-19 and NIP-21 encodings used to name
// thread roots: note1, nevent1 and nostr: links.
package nips

import (
	"errors"
	"fmt"
	"strings"
)

const (
	charset        = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	checksumLength = 6
)

var (
	errMixedCase   = errors.New("bech32: mixed case")
	errSeparator   = errors.New("bech32: missing or misplaced separator")
	errChecksum    = errors.New("bech32: checksum mismatch")
	errPadding     = errors.New("bech32: non-zero padding")
	errWrongPrefix = errors.New("bech32: unexpected prefix")
)

var polymodGenerator = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

// charsetIndex maps a byte to its 5-bit value, or -1.
var charsetIndex = func() [128]int8 {
	var idx [128]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(charset); i++ {
		idx[charset[i]] = int8(i)
	}
	return idx
}()

func polymod(hrp string, data []byte) uint32 {
	chk := uint32(1)
	step := func(v byte) {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i, g := range polymodGenerator {
			if (top>>uint(i))&1 == 1 {
				chk ^= g
			}
		}
	}
	for i := 0; i < len(hrp); i++ {
		step(hrp[i] >> 5)
	}
	step(0)
	for i := 0; i < len(hrp); i++ {
		step(hrp[i] & 31)
	}
	for _, v := range data {
		step(v)
	}
	return chk
}

// regroup repacks bits between 8-bit bytes and 5-bit words.
func regroup(data []byte, from, to uint, pad bool) ([]byte, error) {
	var acc uint32
	var bits uint
	maxv := uint32(1)<<to - 1
	out := make([]byte, 0, len(data)*int(from)/int(to)+1)

	for _, v := range data {
		acc = acc<<from | uint32(v)
		bits += from
		for bits >= to {
			bits -= to
			out = append(out, byte(acc>>bits&maxv))
		}
	}
	switch {
	case pad && bits > 0:
		out = append(out, byte(acc<<(to-bits)&maxv))
	case !pad && (bits >= from || acc<<(to-bits)&maxv != 0):
		return nil, errPadding
	}
	return out, nil
}

// encodeEntity bech32-encodes payload bytes under hrp. NIP-19 entities may
// exceed the 90-char BIP-173 limit, so none is enforced.
func encodeEntity(hrp string, payload []byte) (string, error) {
	words, err := regroup(payload, 8, 5, true)
	if err != nil {
		return "", err
	}

	chk := polymod(hrp, append(words, make([]byte, checksumLength)...)) ^ 1
	var b strings.Builder
	b.Grow(len(hrp) + 1 + len(words) + checksumLength)
	b.WriteString(hrp)
	b.WriteByte('1')
	for _, w := range words {
		b.WriteByte(charset[w])
	}
	for i := 0; i < checksumLength; i++ {
		b.WriteByte(charset[chk>>(5*(checksumLength-1-i))&31])
	}
	return b.String(), nil
}

// decodeEntity verifies the checksum of s and returns its hrp and payload bytes.
func decodeEntity(s string) (string, []byte, error) {
	if strings.ToLower(s) != s && strings.ToUpper(s) != s {
		return "", nil, errMixedCase
	}
	s = strings.ToLower(s)

	sep := strings.LastIndexByte(s, '1')
	if sep < 1 || sep+1+checksumLength > len(s) {
		return "", nil, errSeparator
	}
	hrp := s[:sep]

	words := make([]byte, 0, len(s)-sep-1)
	for i := sep + 1; i < len(s); i++ {
		c := s[i]
		if c >= 128 || charsetIndex[c] < 0 {
			return "", nil, fmt.Errorf("bech32: invalid character %q", c)
		}
		words = append(words, byte(charsetIndex[c]))
	}
	if polymod(hrp, words) != 1 {
		return "", nil, errChecksum
	}

	payload, err := regroup(words[:len(words)-checksumLength], 5, 8, false)
	if err != nil {
		return "", nil, err
	}
	return hrp, payload, nil
}

// decodeAs is decodeEntity requiring a specific hrp.
func decodeAs(want, s string) ([]byte, error) {
	hrp, payload, err := decodeEntity(s)
	if err != nil {
		return nil, err
	}
	if hrp != want {
		return nil, fmt.Errorf("%w: %q, want %q", errWrongPrefix, hrp, want)
	}
	return payload, nil
}
