/*
NAME
  param.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package zone

import "github.com/nitrogenlogic/knd/internal/knderr"

// Param identifies which derived measure drives a zone's occupancy
// decision.
type Param int

const (
	ParamPop Param = iota
	ParamSA
	ParamBright
	ParamXC
	ParamYC
	ParamZC
)

func (p Param) String() string {
	switch p {
	case ParamPop:
		return "pop"
	case ParamSA:
		return "sa"
	case ParamBright:
		return "bright"
	case ParamXC:
		return "xc"
	case ParamYC:
		return "yc"
	case ParamZC:
		return "zc"
	default:
		return "unknown"
	}
}

// ParseParam maps a wire-format parameter name to a Param, or returns an
// InputInvalid error if it's not one of the recognised names.
func ParseParam(s string) (Param, error) {
	switch s {
	case "pop":
		return ParamPop, nil
	case "sa":
		return ParamSA, nil
	case "bright":
		return ParamBright, nil
	case "xc":
		return ParamXC, nil
	case "yc":
		return ParamYC, nil
	case "zc":
		return ParamZC, nil
	default:
		return 0, knderr.Newf(knderr.InputInvalid, "unknown param %q", s)
	}
}

// paramRange describes a parameter's declared [min,max] and the default
// rising (on) / falling (off) thresholds loaded whenever a zone switches
// to that parameter. Exact default thresholds aren't part of the wire
// contract (only that switching parameters loads "the parameter's default
// rising/falling thresholds"); the values below are knd's own sensible
// defaults for each measure's natural range.
type paramRange struct {
	min, max       int32
	onDef, offDef  int32
}

var paramRanges = map[Param]paramRange{
	ParamPop:    {min: 0, max: 1 << 20, onDef: 50, offDef: 10},
	ParamSA:     {min: 0, max: 1 << 30, onDef: 10000, offDef: 5000},
	ParamBright: {min: 0, max: 255, onDef: 128, offDef: 96},
	ParamXC:     {min: 0, max: 1000, onDef: 600, offDef: 400},
	ParamYC:     {min: 0, max: 1000, onDef: 600, offDef: 400},
	ParamZC:     {min: 0, max: 1000, onDef: 600, offDef: 400},
}

// Range returns the declared [min,max] for p.
func (p Param) Range() (min, max int32) {
	r := paramRanges[p]
	return r.min, r.max
}

// Defaults returns the on/off thresholds loaded when a zone switches to p.
func (p Param) Defaults() (on, off int32) {
	r := paramRanges[p]
	return r.onDef, r.offDef
}

// Clamp restricts v to p's declared range.
func (p Param) Clamp(v int32) int32 {
	r := paramRanges[p]
	if v < r.min {
		return r.min
	}
	if v > r.max {
		return r.max
	}
	return v
}
