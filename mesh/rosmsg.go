package mesh

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// rosReader decodes ROS1 serialized fields in order. The first error sticks
// and later reads return zero values.
type rosReader struct {
	b   []byte
	pos int
	err error
}

func (r *rosReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.b) {
		r.err = fmt.Errorf("message truncated at byte %d (need %d of %d)", r.pos, n, len(r.b)-r.pos)
		return nil
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *rosReader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *rosReader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *rosReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *rosReader) f64() float64 {
	if b := r.take(8); b != nil {
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

func (r *rosReader) time() time.Time {
	if b := r.take(8); b != nil {
		return rosTime(b)
	}
	return time.Time{}
}

// bytes reads a uint32 length-prefixed byte array without copying.
func (r *rosReader) bytes() []byte {
	n := r.u32()
	return r.take(int(n))
}

func (r *rosReader) string() string {
	return string(r.bytes())
}

// Header is std_msgs/Header.
type Header struct {
	Seq     uint32
	Stamp   time.Time
	FrameID string
}

func (r *rosReader) header() Header {
	return Header{Seq: r.u32(), Stamp: r.time(), FrameID: r.string()}
}

// NavSatFix is sensor_msgs/NavSatFix.
type NavSatFix struct {
	Header         Header
	Status         int8
	Service        uint16
	Latitude       float64
	Longitude      float64
	Altitude       float64
	Covariance     [9]float64
	CovarianceType uint8
}

// DecodeNavSatFix deserializes a sensor_msgs/NavSatFix message.
func DecodeNavSatFix(data []byte) (NavSatFix, error) {
	r := &rosReader{b: data}
	var m NavSatFix
	m.Header = r.header()
	m.Status = int8(r.u8())
	m.Service = r.u16()
	m.Latitude = r.f64()
	m.Longitude = r.f64()
	m.Altitude = r.f64()
	for i := range m.Covariance {
		m.Covariance[i] = r.f64()
	}
	m.CovarianceType = r.u8()
	if r.err != nil {
		return NavSatFix{}, fmt.Errorf("decoding NavSatFix: %w", r.err)
	}
	return m, nil
}

// DecodeFloat64 deserializes a std_msgs/Float64 message.
func DecodeFloat64(data []byte) (float64, error) {
	r := &rosReader{b: data}
	v := r.f64()
	if r.err != nil {
		return 0, fmt.Errorf("decoding Float64: %w", r.err)
	}
	return v, nil
}

// RawData is apl_msgs/RawData, the Oculus driver's raw payload wrapper.
type RawData struct {
	Header    Header
	Direction int8 // 0 = data out, 1 = data in
	Data      []byte
}

// DecodeRawData deserializes an apl_msgs/RawData message. Data aliases the
// input buffer.
func DecodeRawData(data []byte) (RawData, error) {
	r := &rosReader{b: data}
	var m RawData
	m.Header = r.header()
	m.Direction = int8(r.u8())
	m.Data = r.bytes()
	if r.err != nil {
		return RawData{}, fmt.Errorf("decoding RawData: %w", r.err)
	}
	return m, nil
}

// CompressedImage is sensor_msgs/CompressedImage.
type CompressedImage struct {
	Header Header
	Format string
	Data   []byte
}

// DecodeCompressedImage deserializes a sensor_msgs/CompressedImage message.
// Data aliases the input buffer.
func DecodeCompressedImage(data []byte) (CompressedImage, error) {
	r := &rosReader{b: data}
	var m CompressedImage
	m.Header = r.header()
	m.Format = r.string()
	m.Data = r.bytes()
	if r.err != nil {
		return CompressedImage{}, fmt.Errorf("decoding CompressedImage: %w", r.err)
	}
	return m, nil
}
