package scanner

import (
	"fmt"

	"github.com/pulseboard/sentinel/internal/threat"
)

func (b *binaryScan) checkSize() []threat.Finding {
	actual := int64(len(b.subject.Bytes))
	if actual == 0 {
		return []threat.Finding{threat.NewFinding(threat.EmptyFile, threat.Medium, "file is empty")}
	}
	declared := b.subject.DeclaredSize
	// unknown; negative sizes never reach the scanner
	if declared == 0 {
		return nil
	}
	diff := actual - declared
	if diff < 0 {
		diff = -diff
	}
	if diff > b.limits.SizeTolerance {
		return []threat.Finding{threat.NewFinding(threat.SizeMismatch, threat.Low,
			fmt.Sprintf("declared size %d but received %d bytes", declared, actual))}
	}
	return nil
}
