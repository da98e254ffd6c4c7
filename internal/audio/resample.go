package audio

// Resample converts buf to the target rate with linear interpolation.
// The input is returned unchanged when the rates already match.
func Resample(buf *Buffer, rate int) *Buffer {
	if buf.SampleRate == rate || buf.SampleRate <= 0 || buf.Frames() == 0 {
		return buf
	}
	ratio := float64(buf.SampleRate) / float64(rate)
	inFrames := buf.Frames()
	outFrames := int(float64(inFrames) / ratio)
	out := NewBuffer(rate, buf.NumChannels(), outFrames)

	for ch, src := range buf.Data {
		dst := out.Data[ch]
		for i := range dst {
			pos := float64(i) * ratio
			lo := int(pos)
			if lo >= inFrames-1 {
				dst[i] = src[inFrames-1]
				continue
			}
			frac := float32(pos - float64(lo))
			dst[i] = src[lo] + (src[lo+1]-src[lo])*frac
		}
	}
	return out
}
