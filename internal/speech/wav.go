package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PCMFormat describes little-endian signed PCM samples.
type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

func (f PCMFormat) bytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// DurationMs returns the exact playing time of n bytes of samples.
func (f PCMFormat) DurationMs(n int) int {
	bps := f.bytesPerSecond()
	if bps == 0 {
		return 0
	}
	return int(int64(n) * 1000 / int64(bps))
}

// WrapPCM prepends a canonical 44-byte RIFF/WAVE header to raw samples. A
// trailing partial frame is dropped so the data chunk stays aligned.
func WrapPCM(pcm []byte, f PCMFormat) ([]byte, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BitsPerSample%8 != 0 || f.BitsPerSample <= 0 {
		return nil, fmt.Errorf("invalid pcm format %+v", f)
	}
	blockAlign := f.Channels * f.BitsPerSample / 8
	pcm = pcm[:len(pcm)-len(pcm)%blockAlign]

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(f.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.bytesPerSecond()))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(f.BitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes(), nil
}
