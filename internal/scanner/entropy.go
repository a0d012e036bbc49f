package scanner

import (
	"fmt"
	"math"

	"github.com/pulseboard/sentinel/internal/threat"
)

// ShannonEntropy returns the entropy of data in bits per byte (0..8).
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, c := range data {
		counts[c]++
	}
	n := float64(len(data))
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

func (b *binaryScan) checkEntropy() []threat.Finding {
	sample := b.subject.Bytes
	if len(sample) > b.limits.EntropySampleSize {
		sample = sample[:b.limits.EntropySampleSize]
	}
	h := ShannonEntropy(sample)
	if h <= b.limits.EntropyThreshold {
		return nil
	}
	return []threat.Finding{threat.NewFinding(threat.HighEntropy, threat.Medium,
		fmt.Sprintf("entropy %.2f bits/byte over the first %d bytes exceeds %.2f",
			h, len(sample), b.limits.EntropyThreshold))}
}
