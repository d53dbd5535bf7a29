package journal

import "fmt"

// Opcode is the stable id of a journaled operation. Values are persisted
// and must never be renumbered; retired opcodes keep their number.
type Opcode int

const (
	OpMakeAnalysis        Opcode = 1
	OpSetValue            Opcode = 2
	OpLinkValue           Opcode = 3
	OpUnlinkValue         Opcode = 4
	OpSetGeometryParam    Opcode = 5
	OpRegisterSensitivity Opcode = 6
	OpGeometrySensitivity Opcode = 7
	OpPreAnalysis         Opcode = 8
	OpExecute             Opcode = 9
	OpPostAnalysis        Opcode = 10
	OpGetOutput           Opcode = 11
	OpAnalysisStatus      Opcode = 12
	OpWalk                Opcode = 13
	OpMakeBound           Opcode = 14
	OpMakeVertexSet       Opcode = 15
	OpMakeDataSet         Opcode = 16
	OpLinkDataSet         Opcode = 17
	OpCloseBound          Opcode = 18
	OpRebuildBound        Opcode = 19
	OpGetData             Opcode = 20
	OpSetData             Opcode = 21
	OpSetAttr             Opcode = 22
	OpDeleteAttr          Opcode = 23
	OpDestroyBound        Opcode = 24
	OpSync                Opcode = 25
	OpLinkValueToDataSet  Opcode = 26
)

var opNames = map[Opcode]string{
	OpMakeAnalysis:        "MakeAnalysis",
	OpSetValue:            "SetValue",
	OpLinkValue:           "LinkValue",
	OpUnlinkValue:         "UnlinkValue",
	OpSetGeometryParam:    "SetGeometryParam",
	OpRegisterSensitivity: "RegisterSensitivity",
	OpGeometrySensitivity: "GeometrySensitivity",
	OpPreAnalysis:         "PreAnalysis",
	OpExecute:             "Execute",
	OpPostAnalysis:        "PostAnalysis",
	OpGetOutput:           "GetOutput",
	OpAnalysisStatus:      "AnalysisStatus",
	OpWalk:                "Walk",
	OpMakeBound:           "MakeBound",
	OpMakeVertexSet:       "MakeVertexSet",
	OpMakeDataSet:         "MakeDataSet",
	OpLinkDataSet:         "LinkDataSet",
	OpCloseBound:          "CloseBound",
	OpRebuildBound:        "RebuildBound",
	OpGetData:             "GetData",
	OpSetData:             "SetData",
	OpSetAttr:             "SetAttr",
	OpDeleteAttr:          "DeleteAttr",
	OpDestroyBound:        "DestroyBound",
	OpSync:                "Sync",
	OpLinkValueToDataSet:  "LinkValueToDataSet",
}

// String returns the opcode name.
func (o Opcode) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("Opcode(%d)", int(o))
}

// Valid reports whether the opcode is registered.
func (o Opcode) Valid() bool {
	_, ok := opNames[o]
	return ok
}

// ParseOpcode maps an opcode name back to its id.
func ParseOpcode(name string) (Opcode, bool) {
	for op, n := range opNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

// Opcodes returns every registered opcode in id order.
func Opcodes() []Opcode {
	out := make([]Opcode, 0, len(opNames))
	for op := Opcode(1); len(out) < len(opNames); op++ {
		if _, ok := opNames[op]; ok {
			out = append(out, op)
		}
	}
	return out
}
