package sample

// NewAveraging creates a converter that emits one sample per windowSize
// inputs. Analog readings are averaged; level, error, pump and detector
// states are taken from the most recent sample of the window. A partial
// window is flushed when the input closes.
func NewAveraging(windowSize int, bufSize int) Converter {
	if windowSize <= 0 {
		windowSize = 1
	}
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan Sample) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			buffer := make([]Sample, 0, windowSize)
			for s := range in {
				buffer = append(buffer, s)
				if len(buffer) < windowSize {
					continue
				}
				out <- average(buffer)
				buffer = buffer[:0]
			}
			if len(buffer) > 0 {
				out <- average(buffer)
			}
		}()

		return out
	}
}

// average combines a window of samples. Probes are averaged index-wise over
// the samples that carry them.
func average(samples []Sample) Sample {
	if len(samples) == 0 {
		return Sample{}
	}
	if len(samples) == 1 {
		return samples[0]
	}

	last := samples[len(samples)-1]
	result := last
	result.Probes = make([]Probe, len(last.Probes))
	copy(result.Probes, last.Probes)

	for i := range result.Probes {
		var reading, baseline, threshold, deviation, n uint32
		for _, s := range samples {
			if i >= len(s.Probes) {
				continue
			}
			p := s.Probes[i]
			reading += uint32(p.Reading)
			baseline += uint32(p.Baseline)
			threshold += uint32(p.Threshold)
			deviation += uint32(p.Deviation)
			n++
		}
		// Round to nearest
		result.Probes[i].Reading = uint16((reading + n/2) / n)
		result.Probes[i].Baseline = uint16((baseline + n/2) / n)
		result.Probes[i].Threshold = uint16((threshold + n/2) / n)
		result.Probes[i].Deviation = uint16((deviation + n/2) / n)
	}

	return result
}
