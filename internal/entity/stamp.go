package entity

import (
	"os"
	"os/user"
	"time"
)

// Stamp is an ownership stamp: the serial number at which an entity's
// content last changed plus who changed it.
type Stamp struct {
	SNum  int64     `json:"s_num"`
	Phase string    `json:"phase,omitempty"`
	PID   int       `json:"pid,omitempty"`
	User  string    `json:"user,omitempty"`
	Time  time.Time `json:"time"`
	Lines []string  `json:"lines,omitempty"`
}

// SameProvenance reports whether two stamps come from the same phase,
// process and user.
func (s Stamp) SameProvenance(o Stamp) bool {
	return s.Phase == o.Phase && s.PID == o.PID && s.User == o.User
}

// Newer reports whether s carries a larger serial number than o.
func (s Stamp) Newer(o Stamp) bool {
	return s.SNum > o.SNum
}

// Provenance produces stamps for a serial number and phase.
type Provenance interface {
	Stamp(sNum int64, phase string) Stamp
}

// SystemProvenance stamps with the current process id, OS user and UTC time.
type SystemProvenance struct{}

// Stamp implements Provenance.
func (SystemProvenance) Stamp(sNum int64, phase string) Stamp {
	return Stamp{
		SNum:  sNum,
		Phase: phase,
		PID:   os.Getpid(),
		User:  currentUser(),
		Time:  time.Now().UTC(),
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
