package descriptor

import (
	"errors"
	"fmt"
	"strings"
)

const checksumLength = 8

var (
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXYZ" +
		"&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	generator       = []uint64{
		0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a,
		0x644d626ffd,
	}

	ErrChecksum = errors.New("invalid descriptor checksum")
)

func descriptorSumPolymod(symbols []uint64) uint64 {
	chk := uint64(1)
	for _, value := range symbols {
		top := chk >> 35
		chk = (chk&0x7ffffffff)<<5 ^ value
		for i := 0; i < 5; i++ {
			if (top>>i)&1 != 0 {
				chk ^= generator[i]
			}
		}
	}
	return chk
}

func descriptorSumExpand(s string) ([]uint64, error) {
	groups := []uint64{}
	symbols := []uint64{}
	for i, c := range s {
		v := strings.IndexRune(inputCharset, c)
		if v < 0 {
			return nil, fmt.Errorf("invalid character %q at "+
				"position %d", c, i)
		}
		symbols = append(symbols, uint64(v&31))
		groups = append(groups, uint64(v>>5))
		if len(groups) == 3 {
			symbols = append(
				symbols, groups[0]*9+groups[1]*3+groups[2],
			)
			groups = []uint64{}
		}
	}
	if len(groups) == 1 {
		symbols = append(symbols, groups[0])
	} else if len(groups) == 2 {
		symbols = append(symbols, groups[0]*3+groups[1])
	}
	return symbols, nil
}

// Checksum returns the 8 character BIP380 checksum of a descriptor string
// that doesn't carry one yet.
func Checksum(s string) (string, error) {
	symbols, err := descriptorSumExpand(s)
	if err != nil {
		return "", err
	}
	symbols = append(symbols, 0, 0, 0, 0, 0, 0, 0, 0)
	checksum := descriptorSumPolymod(symbols) ^ 1

	builder := strings.Builder{}
	for i := 0; i < checksumLength; i++ {
		builder.WriteByte(checksumCharset[(checksum>>(5*(7-i)))&31])
	}
	return builder.String(), nil
}

// StripChecksum splits a descriptor into its body and checksum. If the
// descriptor carries a checksum it must be valid. A missing checksum is only
// accepted if require is false.
func StripChecksum(s string, require bool) (string, error) {
	idx := strings.LastIndexByte(s, '#')
	if idx < 0 {
		if require {
			return "", fmt.Errorf("%w: missing", ErrChecksum)
		}
		return s, nil
	}

	body, sum := s[:idx], s[idx+1:]
	if len(sum) != checksumLength {
		return "", fmt.Errorf("%w: expected %d characters, got %d",
			ErrChecksum, checksumLength, len(sum))
	}

	expected, err := Checksum(body)
	if err != nil {
		return "", err
	}
	if sum != expected {
		return "", fmt.Errorf("%w: expected %s, got %s", ErrChecksum,
			expected, sum)
	}

	return body, nil
}
