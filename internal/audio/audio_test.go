package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// --- Constants ---

func TestConstants(t *testing.T) {
	// 48kHz * 20ms = 960 samples per channel
	if got := SampleRate * int(FrameDuration/time.Millisecond) / 1000; got != FrameSize {
		t.Errorf("FrameSize mismatch: want %d, got %d", got, FrameSize)
	}
	if FrameSamples != FrameSize*Channels {
		t.Errorf("FrameSamples = %d, want %d", FrameSamples, FrameSize*Channels)
	}
	if FrameBytes != FrameSamples*2 {
		t.Errorf("FrameBytes = %d, want %d", FrameBytes, FrameSamples*2)
	}
}

// --- Buffer ---

func TestBufferDuration(t *testing.T) {
	b := NewBuffer(48000, 2, 96000)
	if b.Frames() != 96000 {
		t.Errorf("Frames = %d, want 96000", b.Frames())
	}
	if b.Duration() != 2 {
		t.Errorf("Duration = %v, want 2", b.Duration())
	}
	mono := NewBuffer(48000, 1, 10)
	mono.Data[0][3] = 0.5
	if mono.Sample(1, 3) != 0.5 {
		t.Errorf("mono Sample(1,3) = %v, want channel 0 reused", mono.Sample(1, 3))
	}
}

// --- SamplesToBytes ---

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	buf := SamplesToBytes(samples)
	if len(buf) != len(samples)*2 {
		t.Fatalf("SamplesToBytes length = %d, want %d", len(buf), len(samples)*2)
	}
	// 256 = 0x0100 -> bytes [0x00, 0x01]
	idx := 5 * 2
	if buf[idx] != 0x00 || buf[idx+1] != 0x01 {
		t.Errorf("Sample 256 encoded as [%02x, %02x], want [00, 01]", buf[idx], buf[idx+1])
	}
	back := bytesToSamples(buf)
	for i, v := range samples {
		if back[i] != v {
			t.Errorf("bytesToSamples[%d] = %d, want %d", i, back[i], v)
		}
	}
}

// --- Sniff ---

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"wav", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), "wav"},
		{"id3", []byte("ID3\x04\x00"), "mp3"},
		{"mpeg sync", []byte{0xFF, 0xFB, 0x90, 0x00}, "mp3"},
		{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, "webm"},
		{"mp4", []byte("\x00\x00\x00\x18ftypmp42"), "mp4"},
		{"ogg", []byte("OggS\x00\x02"), "ogg"},
		{"junk", []byte("hello"), ""},
	}
	for _, tt := range tests {
		if got := Sniff(tt.data); got != tt.want {
			t.Errorf("Sniff(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

// --- Decode ---

func writeWAV(t *testing.T, rate int, samples []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	err = enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDecodeEmpty(t *testing.T) {
	_, err := NewDecoder("").Decode(context.Background(), nil)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("Decode(nil) error = %v, want *DecodeError", err)
	}
	if !errors.Is(err, ErrEmptyMedia) {
		t.Errorf("Decode(nil) error = %v, want ErrEmptyMedia", err)
	}
}

func TestDecodeWAV(t *testing.T) {
	samples := make([]int, 48000)
	samples[100] = 16384
	data := writeWAV(t, 48000, samples)

	buf, err := NewDecoder("").Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode error = %v", err)
	}
	if buf.SampleRate != SampleRate {
		t.Errorf("SampleRate = %d, want %d", buf.SampleRate, SampleRate)
	}
	if buf.Frames() != 48000 {
		t.Errorf("Frames = %d, want 48000", buf.Frames())
	}
	if got := buf.Data[0][100]; math.Abs(float64(got)-0.5) > 1e-3 {
		t.Errorf("sample[100] = %v, want 0.5", got)
	}
}

func TestDecodeWAVResamples(t *testing.T) {
	data := writeWAV(t, 24000, make([]int, 24000))
	buf, err := NewDecoder("").Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode error = %v", err)
	}
	if buf.SampleRate != SampleRate {
		t.Errorf("SampleRate = %d, want %d", buf.SampleRate, SampleRate)
	}
	if buf.Frames() != 48000 {
		t.Errorf("Frames = %d, want 48000 after 2x upsample", buf.Frames())
	}
}

func TestDecodeCorruptIsDecodeError(t *testing.T) {
	d := NewDecoder(filepath.Join(t.TempDir(), "no-such-ffmpeg"))
	_, err := d.Decode(context.Background(), []byte{0x1A, 0x45, 0xDF, 0xA3, 0xde, 0xad})
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
	if de.Format != "webm" {
		t.Errorf("Format = %q, want webm", de.Format)
	}
}

// riffChunk encodes one RIFF chunk header and body.
func riffChunk(id string, size uint32, body []byte) []byte {
	var b bytes.Buffer
	b.WriteString(id)
	binary.Write(&b, binary.LittleEndian, size)
	b.Write(body)
	return b.Bytes()
}

func riffFile(chunks ...[]byte) []byte {
	body := []byte("WAVE")
	for _, c := range chunks {
		body = append(body, c...)
	}
	return riffChunk("RIFF", uint32(len(body)), body)
}

func pcmFmt(tag, chans uint16, rate uint32, bits uint16) []byte {
	var b bytes.Buffer
	align := chans * bits / 8
	binary.Write(&b, binary.LittleEndian, []uint16{tag, chans})
	binary.Write(&b, binary.LittleEndian, []uint32{rate, rate * uint32(align)})
	binary.Write(&b, binary.LittleEndian, []uint16{align, bits})
	return riffChunk("fmt ", 16, b.Bytes())
}

func TestDecodeMalformedWAV(t *testing.T) {
	samples := make([]byte, 400)
	tests := []struct {
		name string
		data []byte
	}{
		{"huge fmt chunk", riffFile(riffChunk("fmt ", 0xFFFFFFF0, bytes.Repeat([]byte{0x7F}, 64)))},
		{"huge data chunk", riffFile(pcmFmt(1, 2, 48000, 16), riffChunk("data", 0x7FFFFFFF, samples))},
		{"huge LIST chunk", riffFile(riffChunk("LIST", 0xFFFFFFF0, []byte("INFO")), pcmFmt(1, 2, 48000, 16))},
		{"float format", riffFile(pcmFmt(3, 2, 48000, 32), riffChunk("data", 400, samples))},
		{"zero channels", riffFile(pcmFmt(1, 0, 48000, 16), riffChunk("data", 400, samples))},
		{"200 channels", riffFile(pcmFmt(1, 200, 48000, 16), riffChunk("data", 400, samples))},
		{"12-bit", riffFile(pcmFmt(1, 2, 48000, 12), riffChunk("data", 400, samples))},
		{"absurd rate", riffFile(pcmFmt(1, 2, 0xFFFFFFFF, 16), riffChunk("data", 400, samples))},
		{"no fmt", riffFile(riffChunk("data", 400, samples))},
		{"no data", riffFile(pcmFmt(1, 2, 48000, 16))},
		{"truncated header", []byte("RIFF\x10\x00\x00\x00WAVEfm")},
	}
	d := NewDecoder("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode(context.Background(), tt.data)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error = %v, want *DecodeError", err)
			}
			if de.Format != "wav" {
				t.Errorf("Format = %q, want wav", de.Format)
			}
		})
	}
}

func TestDecodeWAVSkipsMetadataChunks(t *testing.T) {
	pcm := make([]byte, 4*100) // 100 stereo 16-bit frames
	binary.LittleEndian.PutUint16(pcm[4*10:], 16384)
	// LIST sub-chunk claims far more bytes than the chunk holds.
	list := append([]byte("INFOINAM"), 0xF0, 0xFF, 0xFF, 0xFF)
	data := riffFile(
		riffChunk("LIST", uint32(len(list)), list),
		pcmFmt(1, 2, 48000, 16),
		riffChunk("data", uint32(len(pcm)), pcm),
	)

	buf, err := NewDecoder("").Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode error = %v", err)
	}
	if buf.Frames() != 100 || buf.NumChannels() != 2 {
		t.Fatalf("decoded %d frames x %d channels, want 100 x 2", buf.Frames(), buf.NumChannels())
	}
	if got := buf.Data[0][10]; math.Abs(float64(got)-0.5) > 1e-3 {
		t.Errorf("sample[10] = %v, want 0.5", got)
	}
}

func TestDecode8BitIsCentred(t *testing.T) {
	pcm := bytes.Repeat([]byte{128}, 100)
	pcm[5] = 192
	data := riffFile(pcmFmt(1, 1, 48000, 8), riffChunk("data", uint32(len(pcm)), pcm))
	buf, err := NewDecoder("").Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode error = %v", err)
	}
	if buf.Data[0][0] != 0 || buf.Data[0][5] != 0.5 {
		t.Errorf("samples = %v, %v, want 0, 0.5", buf.Data[0][0], buf.Data[0][5])
	}
}

func TestDecodeGarbageMP3NeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	d := NewDecoder("")
	for i := 0; i < 300; i++ {
		payload := make([]byte, 16+rng.Intn(2048))
		rng.Read(payload)
		var head []byte
		if i%2 == 0 {
			head = []byte{0xFF, 0xFB}
		} else {
			head = []byte("ID3\x03\x00\x00\x00\x00\x00\x00")
		}
		data := append(head, payload...)

		buf, err := d.Decode(context.Background(), data)
		if err == nil {
			if buf == nil {
				t.Fatalf("input %d: nil buffer without error", i)
			}
			continue
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("input %d: error = %v, want *DecodeError", i, err)
		}
	}
}

func TestRecoveredTurnsPanicIntoError(t *testing.T) {
	buf, err := recovered(func() (*Buffer, error) {
		var s []int
		_ = s[3]
		return NewBuffer(48000, 1, 1), nil
	})
	if err == nil || buf != nil {
		t.Errorf("recovered = %v, %v, want nil buffer and error", buf, err)
	}
}

// --- Resample ---

func TestResampleIdentity(t *testing.T) {
	b := NewBuffer(48000, 1, 10)
	if Resample(b, 48000) != b {
		t.Error("Resample at same rate should return the input")
	}
}

func TestResampleLinear(t *testing.T) {
	b := NewBuffer(24000, 1, 3)
	copy(b.Data[0], []float32{0, 1, 0})
	out := Resample(b, 48000)
	want := []float32{0, 0.5, 1, 0.5, 0, 0}
	if out.Frames() != len(want) {
		t.Fatalf("Frames = %d, want %d", out.Frames(), len(want))
	}
	for i, w := range want {
		if out.Data[0][i] != w {
			t.Errorf("out[%d] = %v, want %v", i, out.Data[0][i], w)
		}
	}
}

// --- Onset ---

func TestOnset(t *testing.T) {
	b := NewBuffer(48000, 2, 48000)
	b.Data[0][24000] = -0.5
	b.Data[1][100] = 0.9 // second channel is ignored

	got := Onset(b, 0.1, 40*time.Millisecond)
	if math.Abs(got-0.46) > 1e-9 {
		t.Errorf("Onset = %v, want 0.46", got)
	}
}

func TestOnsetClampsToZero(t *testing.T) {
	b := NewBuffer(48000, 1, 4800)
	b.Data[0][480] = 0.3 // 10ms in, backoff 50ms
	if got := Onset(b, 0.15, 50*time.Millisecond); got != 0 {
		t.Errorf("Onset = %v, want 0", got)
	}
}

func TestOnsetSilent(t *testing.T) {
	b := NewBuffer(48000, 1, 4800)
	b.Data[0][10] = 0.08 // at threshold, not above
	if got := Onset(b, 0.08, 30*time.Millisecond); got != 0 {
		t.Errorf("Onset = %v, want 0 for a clip below threshold", got)
	}
	if got := Onset(nil, 0.1, 0); got != 0 {
		t.Errorf("Onset(nil) = %v, want 0", got)
	}
}

func TestOnsetDetectorNeverFails(t *testing.T) {
	o := &OnsetDetector{Decoder: NewDecoder(""), Threshold: 0.1, Backoff: 40 * time.Millisecond}
	if got := o.Find(context.Background(), nil); got != 0 {
		t.Errorf("Find(nil) = %v, want 0", got)
	}

	samples := make([]int, 48000)
	samples[4800] = 20000 // 100ms
	got := o.Find(context.Background(), writeWAV(t, 48000, samples))
	if math.Abs(got-0.06) > 1e-6 {
		t.Errorf("Find = %v, want 0.06", got)
	}
}
