package voice

import "math"

// FbankConfig controls log mel filterbank extraction. Defaults follow the
// Kaldi convention used by ERes2Net/CAM++ speaker models.
type FbankConfig struct {
	SampleRate  int     // Hz
	WindowSize  int     // samples, 25 ms
	HopSize     int     // samples, 10 ms
	FFTSize     int     // power of two >= WindowSize
	NumMels     int
	LowFreq     float64 // Hz
	HighFreq    float64 // Hz
	PreEmphasis float64
}

func DefaultFbankConfig() FbankConfig {
	return FbankConfig{
		SampleRate:  16000,
		WindowSize:  400,
		HopSize:     160,
		FFTSize:     512,
		NumMels:     80,
		LowFreq:     20,
		HighFreq:    7600,
		PreEmphasis: 0.97,
	}
}

// Fbank computes log mel features from mono PCM.
type Fbank struct {
	cfg     FbankConfig
	window  []float64
	melBank [][]float64
}

func NewFbank(cfg FbankConfig) *Fbank {
	return &Fbank{
		cfg:     cfg,
		window:  hammingWindow(cfg.WindowSize),
		melBank: melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
	}
}

// Extract returns a [T][NumMels] matrix with T = (len(pcm)-WindowSize)/HopSize + 1,
// or nil when pcm is shorter than one window. Samples are in [-1, 1].
func (f *Fbank) Extract(pcm []float32) [][]float32 {
	cfg := f.cfg
	if len(pcm) < cfg.WindowSize {
		return nil
	}

	numFrames := (len(pcm)-cfg.WindowSize)/cfg.HopSize + 1
	nfft := cfg.FFTSize
	halfFFT := nfft/2 + 1

	features := make([][]float32, numFrames)
	re := make([]float64, nfft)
	im := make([]float64, nfft)
	power := make([]float64, halfFFT)

	for t := 0; t < numFrames; t++ {
		start := t * cfg.HopSize

		// remove DC, then pre-emphasis and window
		var mean float64
		for i := 0; i < cfg.WindowSize; i++ {
			mean += float64(pcm[start+i])
		}
		mean /= float64(cfg.WindowSize)

		prev := float64(pcm[start]) - mean
		for i := 0; i < cfg.WindowSize; i++ {
			s := float64(pcm[start+i]) - mean
			re[i] = (s - cfg.PreEmphasis*prev) * f.window[i]
			prev = s
			im[i] = 0
		}
		for i := cfg.WindowSize; i < nfft; i++ {
			re[i], im[i] = 0, 0
		}

		fft(re, im)

		for i := 0; i < halfFFT; i++ {
			power[i] = re[i]*re[i] + im[i]*im[i]
		}

		mel := make([]float32, cfg.NumMels)
		for m, filter := range f.melBank {
			sum := 0.0
			for k, w := range filter {
				sum += w * power[k]
			}
			if sum < 1e-10 {
				sum = 1e-10
			}
			mel[m] = float32(math.Log(sum))
		}
		features[t] = mel
	}

	return features
}

// CMVN subtracts the per-bin mean and divides by the per-bin standard
// deviation across frames, in place.
func CMVN(features [][]float32) {
	if len(features) == 0 {
		return
	}
	numMels := len(features[0])
	n := float64(len(features))

	for m := 0; m < numMels; m++ {
		var sum float64
		for _, row := range features {
			sum += float64(row[m])
		}
		mean := sum / n

		var varSum float64
		for _, row := range features {
			d := float64(row[m]) - mean
			varSum += d * d
		}
		std := math.Sqrt(varSum / n)
		if std < 1e-10 {
			std = 1e-10
		}

		for _, row := range features {
			row[m] = float32((float64(row[m]) - mean) / std)
		}
	}
}

// Flatten converts [T][M] to a row-major [T*M] slice.
func Flatten(features [][]float32) []float32 {
	if len(features) == 0 {
		return nil
	}
	cols := len(features[0])
	flat := make([]float32, len(features)*cols)
	for t, row := range features {
		copy(flat[t*cols:], row)
	}
	return flat
}

func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 1127.0 * math.Log(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Exp(mel/1127.0) - 1.0)
}

// melFilterBank builds [numMels][fftSize/2+1] triangular filters equally
// spaced on the mel scale. Each filter spans at least one bin.
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	halfFFT := fftSize/2 + 1
	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)

	step := (highMel - lowMel) / float64(numMels+1)
	bins := make([]int, numMels+2)
	for i := range bins {
		hz := melToHz(lowMel + float64(i)*step)
		bin := int(math.Round(hz * float64(fftSize) / float64(sampleRate)))
		if bin >= halfFFT {
			bin = halfFFT - 1
		}
		bins[i] = bin
	}
	for i := 1; i < len(bins); i++ {
		if bins[i] <= bins[i-1] {
			bins[i] = bins[i-1] + 1
		}
	}

	bank := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		filter := make([]float64, halfFFT)
		left, center, right := bins[m], bins[m+1], bins[m+2]

		for k := left; k < center && k < halfFFT; k++ {
			filter[k] = float64(k-left) / float64(center-left)
		}
		for k := center; k <= right && k < halfFFT; k++ {
			filter[k] = float64(right-k) / float64(right-center)
		}
		bank[m] = filter
	}
	return bank
}

// fft is an in-place radix-2 Cooley-Tukey transform. len(re) must be a
// power of two.
func fft(re, im []float64) {
	n := len(re)
	if n <= 1 {
		return
	}

	j := 0
	for i := 0; i < n-1; i++ {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
		k := n >> 1
		for k <= j {
			j -= k
			k >>= 1
		}
		j += k
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		angle := -2.0 * math.Pi / float64(size)
		wR, wI := math.Cos(angle), math.Sin(angle)

		for start := 0; start < n; start += size {
			tR, tI := 1.0, 0.0
			for k := 0; k < half; k++ {
				u := start + k
				v := u + half

				xR := tR*re[v] - tI*im[v]
				xI := tR*im[v] + tI*re[v]

				re[v] = re[u] - xR
				im[v] = im[u] - xI
				re[u] += xR
				im[u] += xI

				tR, tI = tR*wR-tI*wI, tR*wI+tI*wR
			}
		}
	}
}
