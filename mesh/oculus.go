package mesh

import (
	"encoding/binary"
	"math"
)

// FrameDecoder turns a raw sonar payload into a polar frame. It returns nil
// for payloads that are malformed, truncated or not a ping. Implementations
// must not share mutable state between calls.
type FrameDecoder func(payload []byte) *PolarFrame

// Oculus message constants
const (
	oculusMagic           = 0x4f53
	oculusSimplePingID    = 0x23
	oculusHeaderSize      = 16
	oculusPingFieldsEnd   = 122
	oculusFlagGainInImage = 0x04
)

// Offsets inside a SimplePingResult (version 1), all little endian.
const (
	offMsgID       = 6
	offMsgVersion  = 8
	offFlags       = 20
	offDataSize    = 97
	offRangeRes    = 98
	offNRanges     = 106
	offNBeams      = 108
	offImageOffset = 110
	offImageSize   = 114
	offBearings    = oculusPingFieldsEnd
)

// DecodeOculusPing decodes an Oculus multibeam SimplePingResult message.
// Per-row gains, when present, are applied to the intensities (raw divided by
// sqrt(gain)) and reported in Gains.
func DecodeOculusPing(payload []byte) *PolarFrame {
	le := binary.LittleEndian
	if len(payload) < oculusPingFieldsEnd {
		return nil
	}
	if le.Uint16(payload) != oculusMagic || le.Uint16(payload[offMsgID:]) != oculusSimplePingID {
		return nil
	}
	if le.Uint16(payload[offMsgVersion:]) > 1 {
		return nil
	}

	flags := payload[offFlags]
	var sampleSize int
	switch payload[offDataSize] {
	case 0:
		sampleSize = 1
	case 1:
		sampleSize = 2
	case 3:
		sampleSize = 4
	default:
		return nil
	}

	rangeRes := math.Float64frombits(le.Uint64(payload[offRangeRes:]))
	nRanges := int(le.Uint16(payload[offNRanges:]))
	nBeams := int(le.Uint16(payload[offNBeams:]))
	imageOffset := int(le.Uint32(payload[offImageOffset:]))
	imageSize := int(le.Uint32(payload[offImageSize:]))

	if nRanges == 0 || nBeams == 0 || !finite(rangeRes) || rangeRes <= 0 {
		return nil
	}
	if offBearings+2*nBeams > len(payload) {
		return nil
	}

	hasGain := flags&oculusFlagGainInImage != 0
	stride := nBeams * sampleSize
	if hasGain {
		stride += 4
	}
	if imageOffset < offBearings+2*nBeams || imageSize < nRanges*stride ||
		imageOffset+nRanges*stride > len(payload) {
		return nil
	}

	frame := &PolarFrame{
		NRanges:   nRanges,
		NBeams:    nBeams,
		Intensity: make([]float64, nRanges*nBeams),
		Bearings:  make([]float64, nBeams),
		Ranges:    make([]float64, nRanges),
		Gains:     make([]float64, nRanges),
	}

	for b := 0; b < nBeams; b++ {
		centi := int16(le.Uint16(payload[offBearings+2*b:]))
		frame.Bearings[b] = float64(centi) / 100 * math.Pi / 180
	}

	for r := 0; r < nRanges; r++ {
		frame.Ranges[r] = float64(r) * rangeRes
		row := payload[imageOffset+r*stride:]
		gain := 1.0
		if hasGain {
			if g := le.Uint32(row); g > 0 {
				gain = float64(g)
			}
			row = row[4:]
		}
		frame.Gains[r] = gain
		scale := 1 / math.Sqrt(gain)
		for b := 0; b < nBeams; b++ {
			var raw float64
			switch sampleSize {
			case 1:
				raw = float64(row[b])
			case 2:
				raw = float64(le.Uint16(row[2*b:]))
			case 4:
				raw = float64(le.Uint32(row[4*b:]))
			}
			frame.Intensity[r*nBeams+b] = raw * scale
		}
	}
	return frame
}
