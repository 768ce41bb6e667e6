// Package meters decodes the console's binary metering blobs. Each blob is a
// big-endian int32 count followed by that many little-endian int16 values in
// 1/256 dB fixed point.
package meters

import (
	"encoding/binary"
	"time"
)

// Floor is the lowest level the bridge reports. Anything quieter is clamped.
const Floor = -90.0

// Blob layout positions for the level meter endpoint (/meters/1).
const (
	levelChannelCount = 40
	levelBusFirst     = 26
	levelBusCount     = 6
	levelMainLeft     = 36
	levelMainRight    = 37
)

// Blob layout positions for the dynamics endpoint (/meters/6).
const (
	dynGateFirst    = 0
	dynCompFirst    = 16
	dynChannelCount = 16
	dynBusFirst     = 32
	dynBusCount     = 6
	dynMain         = 38
	dynMinValues    = 32
)

// Frame is one decoded level-meter update. Channels always has 40 entries
// and Buses 6, regardless of how short the payload was; missing positions
// sit at the floor.
type Frame struct {
	Channels []float64 `json:"channels"`
	Buses    []float64 `json:"buses"`
	MainL    float64   `json:"mainL"`
	MainR    float64   `json:"mainR"`
	Time     time.Time `json:"time"`
}

// DynamicsFrame is one decoded gain-reduction update: per-channel gate and
// compressor reduction plus bus and main compressor reduction.
type DynamicsFrame struct {
	Gate     []float64 `json:"gate"`
	Comp     []float64 `json:"comp"`
	BusComp  []float64 `json:"busComp"`
	MainComp float64   `json:"mainComp"`
	Time     time.Time `json:"time"`
}

// Decode unpacks a metering blob into dB values. A payload shorter than the
// 4-byte header yields nil. A payload truncated mid-record decodes to the
// longest complete prefix rather than failing.
func Decode(blob []byte) []float64 {
	if len(blob) < 4 {
		return nil
	}
	count := int(int32(binary.BigEndian.Uint32(blob[:4])))
	if count <= 0 {
		return nil
	}
	avail := (len(blob) - 4) / 2
	if count > avail {
		count = avail
	}
	out := make([]float64, count)
	for i := 0; i < count; i++ {
		raw := int16(binary.LittleEndian.Uint16(blob[4+2*i:]))
		out[i] = float64(raw) / 256.0
	}
	return out
}

func clamp(v float64) float64 {
	if v < Floor {
		return Floor
	}
	return v
}

func at(vals []float64, i int) float64 {
	if i < len(vals) {
		return clamp(vals[i])
	}
	return Floor
}

// DecodeLevels decodes a /meters/1 blob. ok is false when the blob carried
// no data at all, in which case the caller keeps its last good frame.
func DecodeLevels(blob []byte, now time.Time) (Frame, bool) {
	vals := Decode(blob)
	if len(vals) == 0 {
		return Frame{}, false
	}
	f := Frame{
		Channels: make([]float64, levelChannelCount),
		Buses:    make([]float64, levelBusCount),
		Time:     now,
	}
	for i := range f.Channels {
		f.Channels[i] = at(vals, i)
	}
	for i := range f.Buses {
		f.Buses[i] = at(vals, levelBusFirst+i)
	}
	f.MainL = at(vals, levelMainLeft)
	f.MainR = at(vals, levelMainRight)
	return f, true
}

// DecodeDynamics decodes a /meters/6 blob. Updates carrying fewer than 32
// values are skipped entirely.
func DecodeDynamics(blob []byte, now time.Time) (DynamicsFrame, bool) {
	vals := Decode(blob)
	if len(vals) < dynMinValues {
		return DynamicsFrame{}, false
	}
	f := DynamicsFrame{
		Gate:    make([]float64, dynChannelCount),
		Comp:    make([]float64, dynChannelCount),
		BusComp: make([]float64, dynBusCount),
		Time:    now,
	}
	for i := 0; i < dynChannelCount; i++ {
		f.Gate[i] = vals[dynGateFirst+i]
		f.Comp[i] = vals[dynCompFirst+i]
	}
	for i := 0; i < dynBusCount; i++ {
		f.BusComp[i] = reductionAt(vals, dynBusFirst+i)
	}
	f.MainComp = reductionAt(vals, dynMain)
	return f, true
}

// reductionAt reads a gain-reduction value; positions past the payload read
// as 0 dB (no reduction).
func reductionAt(vals []float64, i int) float64 {
	if i < len(vals) {
		return vals[i]
	}
	return 0
}
