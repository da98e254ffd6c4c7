package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Decoder turns recorded or imported media into PCM at SampleRate.
// WAV and MP3 are decoded in-process; everything else (webm, mp4, ogg,
// m4a from browser recorders) goes through FFmpeg.
type Decoder struct {
	FFmpegPath string
}

// NewDecoder returns a decoder using the given ffmpeg binary.
func NewDecoder(ffmpegPath string) *Decoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Decoder{FFmpegPath: ffmpegPath}
}

// Decode decodes a media blob. Failures are always *DecodeError.
func (d *Decoder) Decode(ctx context.Context, data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: ErrEmptyMedia}
	}

	format := Sniff(data)
	var (
		buf *Buffer
		err error
	)
	switch format {
	case "wav":
		buf, err = recovered(func() (*Buffer, error) { return decodeWAV(data) })
	case "mp3":
		buf, err = recovered(func() (*Buffer, error) { return decodeMP3(data) })
	default:
		buf, err = d.decodeFFmpeg(ctx, data)
	}
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}
	if buf.Frames() == 0 {
		return nil, &DecodeError{Format: format, Err: ErrNoAudio}
	}
	return Resample(buf, SampleRate), nil
}

// Sniff guesses the container from magic bytes. Returns "wav", "mp3",
// "webm", "mp4", "ogg" or "".
func Sniff(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "wav"
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return "mp3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "webm"
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return "mp4"
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return "ogg"
	}
	return ""
}

// maxDecodedBytes caps in-process decoder output at ten minutes of
// 16-bit stereo at SampleRate.
const maxDecodedBytes = 10 * 60 * SampleRate * Channels * 2

var (
	errBadWAV     = errors.New("malformed WAV")
	errTooLong    = errors.New("decoded audio exceeds length limit")
	errNoPCMChunk = errors.New("no data chunk")
)

// recovered runs an in-process decoder, turning a panic on malformed
// input into an error.
func recovered(decode func() (*Buffer, error)) (buf *Buffer, err error) {
	defer func() {
		if p := recover(); p != nil {
			buf, err = nil, fmt.Errorf("decoder panic: %v", p)
		}
	}()
	return decode()
}

func decodeWAV(data []byte) (*Buffer, error) {
	clean, err := canonicalWAV(data)
	if err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(bytes.NewReader(clean))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV stream")
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	bitDepth := int(dec.SampleBitDepth())
	if bitDepth == 0 {
		return nil, fmt.Errorf("unknown bit depth")
	}
	return intBufferToPlanar(pcm, bitDepth), nil
}

// canonicalWAV checks a RIFF/WAVE blob chunk by chunk and rebuilds it as
// a plain fmt+data file. go-audio sizes its allocations from declared
// chunk lengths, so nothing it reads may claim more bytes than exist.
// Metadata chunks (LIST, smpl, cue, bext) are dropped.
func canonicalWAV(data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	p := riff.New(r)
	id, _, err := p.IDnSize()
	if err != nil || id != riff.RiffID {
		return nil, errBadWAV
	}
	if err := binary.Read(r, binary.BigEndian, &p.Format); err != nil || p.Format != riff.WavFormatID {
		return nil, errBadWAV
	}

	var (
		haveFmt bool
		pcm     []byte
	)
	for pcm == nil {
		id, size, err := p.IDnSize()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadWAV, err)
		}
		start := r.Size() - int64(r.Len())
		remaining := int64(r.Len())
		switch id {
		case riff.FmtID:
			// 16 for PCM, 18 or 40 for WAVE_FORMAT_EXTENSIBLE.
			if size < 16 || size > 40 || int64(size) > remaining {
				return nil, fmt.Errorf("%w: fmt chunk of %d bytes", errBadWAV, size)
			}
			ch := &riff.Chunk{ID: id, Size: int(size), R: io.LimitReader(r, int64(size))}
			if err := ch.DecodeWavHeader(p); err != nil {
				return nil, fmt.Errorf("%w: %v", errBadWAV, err)
			}
			if err := checkFormat(p); err != nil {
				return nil, err
			}
			haveFmt = true
		case riff.DataFormatID:
			if !haveFmt {
				return nil, fmt.Errorf("%w: data before fmt", errBadWAV)
			}
			if int64(size) > remaining {
				return nil, fmt.Errorf("%w: data chunk declares %d bytes, %d present", errBadWAV, size, remaining)
			}
			if size > maxDecodedBytes {
				return nil, errTooLong
			}
			pcm = data[start : start+int64(size)]
			if len(pcm) == 0 {
				return nil, ErrNoAudio
			}
			continue
		default:
			if int64(size) > remaining {
				return nil, fmt.Errorf("%w: %s chunk overruns file", errBadWAV, id)
			}
		}
		next := min(start+int64(size)+int64(size%2), r.Size())
		if _, err := r.Seek(next, io.SeekStart); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadWAV, err)
		}
	}
	if !haveFmt {
		return nil, fmt.Errorf("%w: no fmt chunk", errBadWAV)
	}
	if pcm == nil {
		return nil, errNoPCMChunk
	}

	blockAlign := p.NumChannels * (p.BitsPerSample / 8)
	var out bytes.Buffer
	out.Grow(44 + len(pcm))
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(36+len(pcm)))
	out.WriteString("WAVEfmt ")
	binary.Write(&out, binary.LittleEndian, fmtChunk{
		Size:     16,
		Tag:      wavPCM,
		Chans:    p.NumChannels,
		Rate:     p.SampleRate,
		ByteRate: p.SampleRate * uint32(blockAlign),
		Align:    blockAlign,
		Bits:     p.BitsPerSample,
	})
	out.WriteString("data")
	binary.Write(&out, binary.LittleEndian, uint32(len(pcm)))
	out.Write(pcm)
	return out.Bytes(), nil
}

const (
	wavPCM        = 1
	wavExtensible = 0xFFFE
)

type fmtChunk struct {
	Size           uint32
	Tag, Chans     uint16
	Rate, ByteRate uint32
	Align, Bits    uint16
}

func checkFormat(p *riff.Parser) error {
	switch {
	case p.WavAudioFormat != wavPCM && p.WavAudioFormat != wavExtensible:
		return fmt.Errorf("%w: unsupported format tag %#x", errBadWAV, p.WavAudioFormat)
	case p.NumChannels < 1 || p.NumChannels > 8:
		return fmt.Errorf("%w: %d channels", errBadWAV, p.NumChannels)
	case p.SampleRate < 8000 || p.SampleRate > 192000:
		return fmt.Errorf("%w: sample rate %d", errBadWAV, p.SampleRate)
	}
	switch p.BitsPerSample {
	case 8, 16, 24, 32:
		return nil
	}
	return fmt.Errorf("%w: %d-bit samples", errBadWAV, p.BitsPerSample)
}

func intBufferToPlanar(pcm *goaudio.IntBuffer, bitDepth int) *Buffer {
	nch := pcm.Format.NumChannels
	if nch <= 0 {
		nch = 1
	}
	frames := len(pcm.Data) / nch
	out := NewBuffer(pcm.Format.SampleRate, nch, frames)
	factor := float32(math.Pow(2, float64(bitDepth-1)))
	// 8-bit WAV samples are unsigned.
	bias := 0
	if bitDepth == 8 {
		bias = 128
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < nch; ch++ {
			out.Data[ch][i] = float32(pcm.Data[i*nch+ch]-bias) / factor
		}
	}
	return out
}

func decodeMP3(data []byte) (*Buffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(io.LimitReader(dec, maxDecodedBytes+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxDecodedBytes {
		return nil, errTooLong
	}
	// go-mp3 always emits 16-bit little-endian stereo.
	return interleavedToPlanar(bytesToSamples(raw), 2, dec.SampleRate()), nil
}

func (d *Decoder) decodeFFmpeg(ctx context.Context, data []byte) (*Buffer, error) {
	// Containers such as mp4 keep their index at the end, so FFmpeg needs
	// a seekable file rather than a pipe.
	f, err := os.CreateTemp("", "vidpad-*.media")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	samples, err := d.DecodeFile(ctx, f.Name())
	if err != nil {
		return nil, err
	}
	return interleavedToPlanar(samples, Channels, SampleRate), nil
}

// DecodeFile runs FFmpeg to decode the audio track of a media file to raw
// PCM int16 samples. Returns interleaved stereo samples at 48kHz.
func (d *Decoder) DecodeFile(ctx context.Context, path string) ([]int16, error) {
	cmd := exec.CommandContext(ctx, d.FFmpegPath,
		"-i", path,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}
	return bytesToSamples(out), nil
}

func bytesToSamples(b []byte) []int16 {
	// Ensure even byte count for int16 alignment
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return samples
}

func interleavedToPlanar(samples []int16, channels, sampleRate int) *Buffer {
	frames := len(samples) / channels
	out := NewBuffer(sampleRate, channels, frames)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			out.Data[ch][i] = float32(samples[i*channels+ch]) / 32768
		}
	}
	return out
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
