package internal_audio

import (
	"encoding/binary"

	"github.com/zaf/g711"

	"github.com/voxbridgeai/pkg/commons"
)

// CompandedSilence is the byte value representing ~0 linear amplitude in
// the companded narrow-band domain.
const CompandedSilence byte = 0xFF

// Sample rates of the two wire formats.
const (
	NarrowSampleRate = 8000
	WideSampleRate   = 16000
)

// WideBytesPerMs is the byte rate of the wide-band format (16 kHz, 16-bit
// mono): 32 bytes per millisecond.
const WideBytesPerMs = WideSampleRate * 2 / 1000

// NarrowBytesPerMs is the byte rate of the narrow-band format (8 kHz,
// 8-bit mono): 8 bytes per millisecond.
const NarrowBytesPerMs = NarrowSampleRate / 1000

// Codec converts between the carrier's companded narrow-band format and
// the upstream's linear wide-band format. Companding is G.711 µ-law;
// rate conversion is exactly 2× so no filter bank is needed — upsampling
// interpolates linearly between adjacent samples, downsampling keeps every
// second sample.
type Codec struct {
	logger commons.Logger
}

func NewCodec(logger commons.Logger) *Codec {
	return &Codec{logger: logger}
}

// DecodeNarrowToWide converts 8-bit companded mono at 8 kHz to 16-bit
// linear mono at 16 kHz, little-endian. Output length is exactly 4× the
// input length. Empty input yields empty output.
func (c *Codec) DecodeNarrowToWide(in []byte) ([]byte, error) {
	if len(in) == 0 {
		return []byte{}, nil
	}

	lpcm := g711.DecodeUlaw(in) // 16-bit LE at 8 kHz, 2 bytes per input byte

	n := len(in)
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(lpcm[2*i:]))
		next := s
		if i+1 < n {
			next = int16(binary.LittleEndian.Uint16(lpcm[2*(i+1):]))
		}
		mid := ClampSample((int(s) + int(next)) / 2)
		binary.LittleEndian.PutUint16(out[4*i:], uint16(s))
		binary.LittleEndian.PutUint16(out[4*i+2:], uint16(mid))
	}
	return out, nil
}

// EncodeWideToNarrow converts 16-bit linear mono at 16 kHz to 8-bit
// companded mono at 8 kHz. Input byte length must be a multiple of 2;
// an odd byte count is a caller error (INVALID_FORMAT). For frame-aligned
// input (multiple of 4 bytes) the output length is exactly input/4.
// Empty input yields empty output.
func (c *Codec) EncodeWideToNarrow(in []byte) ([]byte, error) {
	if len(in) == 0 {
		return []byte{}, nil
	}
	if len(in)%2 != 0 {
		return nil, commons.NewStreamError(commons.ErrInvalidFormat,
			"linear16 payload has odd byte count")
	}

	samples := len(in) / 2
	kept := (samples + 1) / 2
	decimated := make([]byte, kept*2)
	for i, j := 0, 0; i < samples; i, j = i+2, j+1 {
		decimated[2*j] = in[4*j]
		decimated[2*j+1] = in[4*j+1]
	}
	return g711.EncodeUlaw(decimated), nil
}

// Silence returns ms milliseconds of companded narrow-band silence.
func Silence(ms int) []byte {
	out := make([]byte, ms*NarrowBytesPerMs)
	for i := range out {
		out[i] = CompandedSilence
	}
	return out
}

// WideSilence returns ms milliseconds of linear wide-band silence.
func WideSilence(ms int) []byte {
	return make([]byte, ms*WideBytesPerMs)
}

// ClampSample saturates v at the int16 range; saturation clamps, never wraps.
func ClampSample(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// PCMToSamples reinterprets little-endian 16-bit PCM bytes as samples.
// A trailing odd byte is ignored.
func PCMToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// SamplesToPCM renders samples as little-endian 16-bit PCM bytes.
func SamplesToPCM(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}
