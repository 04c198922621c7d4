package mesh

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rosWriter serializes ROS1 fields for tests.
type rosWriter struct {
	buf bytes.Buffer
}

func (w *rosWriter) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *rosWriter) u16(v uint16) { _ = binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *rosWriter) u32(v uint32) { _ = binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *rosWriter) f64(v float64) {
	_ = binary.Write(&w.buf, binary.LittleEndian, math.Float64bits(v))
}

func (w *rosWriter) time(t time.Time) {
	w.u32(uint32(t.Unix()))
	w.u32(uint32(t.Nanosecond()))
}

func (w *rosWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *rosWriter) header(seq uint32, stamp time.Time, frame string) {
	w.u32(seq)
	w.time(stamp)
	w.bytes([]byte(frame))
}

func encodeNavSatFix(lat, lon, alt float64) []byte {
	w := &rosWriter{}
	w.header(1, time.Unix(100, 0), "gps")
	w.u8(0)
	w.u16(1)
	w.f64(lat)
	w.f64(lon)
	w.f64(alt)
	for i := 0; i < 9; i++ {
		w.f64(float64(i))
	}
	w.u8(2)
	return w.buf.Bytes()
}

func encodeFloat64(v float64) []byte {
	w := &rosWriter{}
	w.f64(v)
	return w.buf.Bytes()
}

func encodeRawData(payload []byte) []byte {
	w := &rosWriter{}
	w.header(7, time.Unix(100, 500), "oculus")
	w.u8(1)
	w.bytes(payload)
	return w.buf.Bytes()
}

func encodeCompressedImage(format string, data []byte) []byte {
	w := &rosWriter{}
	w.header(3, time.Unix(100, 0), "camera")
	w.bytes([]byte(format))
	w.bytes(data)
	return w.buf.Bytes()
}

func TestDecodeNavSatFix(t *testing.T) {
	fix, err := DecodeNavSatFix(encodeNavSatFix(51.2, 7.5, -3))
	require.NoError(t, err)
	assert.Equal(t, 51.2, fix.Latitude)
	assert.Equal(t, 7.5, fix.Longitude)
	assert.Equal(t, -3.0, fix.Altitude)
	assert.Equal(t, uint16(1), fix.Service)
	assert.Equal(t, uint8(2), fix.CovarianceType)
	assert.Equal(t, 8.0, fix.Covariance[8])
	assert.Equal(t, "gps", fix.Header.FrameID)
	assert.Equal(t, time.Unix(100, 0).UTC(), fix.Header.Stamp)

	_, err = DecodeNavSatFix(encodeNavSatFix(1, 2, 3)[:30])
	assert.Error(t, err)
}

func TestDecodeFloat64(t *testing.T) {
	v, err := DecodeFloat64(encodeFloat64(271.5))
	require.NoError(t, err)
	assert.Equal(t, 271.5, v)

	_, err = DecodeFloat64([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeRawData(t *testing.T) {
	raw, err := DecodeRawData(encodeRawData([]byte{9, 8, 7}))
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7}, raw.Data)
	assert.Equal(t, int8(1), raw.Direction)
	assert.Equal(t, uint32(7), raw.Header.Seq)

	// declared array length beyond the buffer
	buf := encodeRawData([]byte{9, 8, 7})
	_, err = DecodeRawData(buf[:len(buf)-1])
	assert.Error(t, err)
}

func TestDecodeCompressedImage(t *testing.T) {
	img, err := DecodeCompressedImage(encodeCompressedImage("h265", []byte{0, 0, 1}))
	require.NoError(t, err)
	assert.Equal(t, "h265", img.Format)
	assert.Equal(t, []byte{0, 0, 1}, img.Data)

	_, err = DecodeCompressedImage(nil)
	assert.Error(t, err)
}
