package imu

// DMP FIFO header bitmap, first big-endian word of every packet.
const (
	HeaderHeader2       uint16 = 0x0008
	HeaderStepDetector  uint16 = 0x0010
	HeaderCompassCalibr uint16 = 0x0020
	HeaderGyroCalibr    uint16 = 0x0040
	HeaderPressure      uint16 = 0x0080
	HeaderGeomag        uint16 = 0x0100
	HeaderPQuat6        uint16 = 0x0200
	HeaderQuat9         uint16 = 0x0400
	HeaderQuat6         uint16 = 0x0800
	HeaderALS           uint16 = 0x1000
	HeaderCompass       uint16 = 0x2000
	HeaderGyro          uint16 = 0x4000
	HeaderAccel         uint16 = 0x8000
)

// Header2 bitmap, present when HeaderHeader2 is set.
const (
	Header2AccelAccuracy   uint16 = 0x4000
	Header2GyroAccuracy    uint16 = 0x2000
	Header2CompassAccuracy uint16 = 0x1000
	Header2Fsync           uint16 = 0x0800
	Header2PickUp          uint16 = 0x0400
	Header2ActivityRecog   uint16 = 0x0080
	Header2SecondaryOnOff  uint16 = 0x0040
)

// Quat6Scale is the fixed-point scale of DMP quaternion components (2^30).
const Quat6Scale = 1 << 30

// Quat6 is the raw game-rotation-vector payload: the three vector
// components of a unit quaternion, each scaled by 2^30.
type Quat6 struct {
	Q1 int32 `json:"q1"`
	Q2 int32 `json:"q2"`
	Q3 int32 `json:"q3"`
}

// DMPFrame is one decoded DMP FIFO packet. Only the payloads this
// device enables are kept; other sections are skipped by the parser.
type DMPFrame struct {
	Header  uint16 `json:"header"`
	Header2 uint16 `json:"header2,omitempty"`
	Quat6   Quat6  `json:"quat6"`
}

// HasQuat6 reports whether the frame carries a fused-orientation payload.
func (f DMPFrame) HasQuat6() bool {
	return f.Header&HeaderQuat6 != 0
}
