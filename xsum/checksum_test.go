package xsum

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumKnownVector(t *testing.T) {
	// RFC 1071 worked example: 0x0001 0xf203 0xf4f5 0xf6f7.
	data := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	var c Checksum
	c.Write(data)
	require.Equal(t, uint16(0x220d), c.Value())
}

func TestChecksumEmpty(t *testing.T) {
	var c Checksum
	require.Equal(t, uint16(0xffff), c.Value())
}

func TestChecksumPartitionInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 200; trial++ {
		n := rng.Intn(200) + 1
		buf := make([]byte, n)
		rng.Read(buf)

		var whole Checksum
		whole.Write(buf)
		want := whole.Value()

		// Partition buf into a random sequence of chunks and feed them
		// through separate Write calls; the result must be identical.
		var parts Checksum
		i := 0
		for i < n {
			step := rng.Intn(7) + 1
			if i+step > n {
				step = n - i
			}
			parts.Write(buf[i : i+step])
			i += step
		}
		require.Equal(t, want, parts.Value(), "trial %d, n=%d", trial, n)

		// Byte-at-a-time must also agree.
		var bytewise Checksum
		for _, b := range buf {
			bytewise.AddByte(b)
		}
		require.Equal(t, want, bytewise.Value(), "bytewise trial %d", trial)
	}
}

func TestSumAndSumChunksAgree(t *testing.T) {
	a := []byte{1, 2, 3, 4, 5}
	b := []byte{6, 7, 8}
	want := Sum(append(append([]byte{}, a...), b...))
	got := SumChunks([][]byte{a, b})
	require.Equal(t, want, got)
}

func TestAdjustMatchesRecompute(t *testing.T) {
	header := []byte{
		0x45, 0x00, 0x00, 0x28,
		0x1c, 0x46, 0x40, 0x00,
		0x40, 0x06, 0x00, 0x00, // checksum field zeroed at [10:12]
		192, 168, 1, 1,
		192, 168, 1, 2,
	}
	original := Sum(header)

	modified := append([]byte{}, header...)
	modified[16], modified[17], modified[18], modified[19] = 10, 0, 0, 99
	modified[10], modified[11] = 0, 0
	want := Sum(modified)

	oldIP := uint32(192)<<24 | 168<<16 | 1<<8 | 2
	newIP := uint32(10)<<24 | 0<<16 | 0<<8 | 99
	got := Adjust(original, oldIP, newIP, Width32)
	require.Equal(t, want, got)
}
