package testutil

import (
	"time"

	"github.com/roach88/caps/internal/entity"
)

// Epoch is the wall-clock origin of FixedProvenance stamps.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// FixedProvenance stamps with a fixed process and user and a logical wall
// clock: serial number n is dated Epoch + n seconds.
//
// Two runs of the same calls produce identical stamps, which keeps journal
// traces and golden files byte-stable.
type FixedProvenance struct {
	PID  int
	User string
}

// NewFixedProvenance returns the provenance used across the test suites.
func NewFixedProvenance() FixedProvenance {
	return FixedProvenance{PID: 1, User: "test"}
}

// Stamp implements entity.Provenance.
func (f FixedProvenance) Stamp(sNum int64, phase string) entity.Stamp {
	return entity.Stamp{
		SNum:  sNum,
		Phase: phase,
		PID:   f.PID,
		User:  f.User,
		Time:  Epoch.Add(time.Duration(sNum) * time.Second),
	}
}
