// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/motion_logger/internal/imu"
)

type mockDMP struct {
	period time.Duration
	now    func() time.Time
	start  time.Time
	next   time.Time
}

// NewMockDMP creates a DMP device that emits one smoothly changing
// Quat6 packet per period, for running without hardware.
func NewMockDMP(period time.Duration) DMPDevice {
	return newMockDMP(period, time.Now)
}

func newMockDMP(period time.Duration, now func() time.Time) *mockDMP {
	return &mockDMP{period: period, now: now}
}

func (m *mockDMP) Begin() error {
	m.start = m.now()
	m.next = m.start
	return nil
}

func (m *mockDMP) InitializeDMP() error            { return nil }
func (m *mockDMP) EnableGameRotationVector() error { return nil }
func (m *mockDMP) SetQuat6Rate(uint16) error       { return nil }
func (m *mockDMP) EnableFIFO() error               { return nil }
func (m *mockDMP) EnableDMP() error                { return nil }
func (m *mockDMP) ResetDMP() error                 { return nil }

func (m *mockDMP) ResetFIFO() error {
	m.next = m.now()
	return nil
}

func (m *mockDMP) ReadFrame() (imu.DMPFrame, PollStatus, error) {
	now := m.now()
	if now.Before(m.next) {
		return imu.DMPFrame{}, PollEmpty, nil
	}
	t := m.next.Sub(m.start).Seconds()
	m.next = m.next.Add(m.period)

	status := PollSample
	if !now.Before(m.next) {
		status = PollSampleMore
	}

	roll := 20 * math.Sin(t) * math.Pi / 180
	pitch := 15 * math.Cos(t*0.7) * math.Pi / 180
	yaw := math.Mod(t*30, 360) * math.Pi / 180

	return imu.DMPFrame{
		Header: imu.HeaderQuat6,
		Quat6:  eulerToQuat6(roll, pitch, yaw),
	}, status, nil
}

// eulerToQuat6 builds the raw payload the sensor would report for the
// given ZYX Euler angles, undoing the board axis mapping.
func eulerToQuat6(roll, pitch, yaw float64) imu.Quat6 {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)

	w := cr*cp*cy + sr*sp*sy
	x := sr*cp*cy - cr*sp*sy
	y := cr*sp*cy + sr*cp*sy
	z := cr*cp*sy - sr*sp*cy
	if w < 0 {
		// the sensor only reports the hemisphere with a positive scalar
		x, y, z = -x, -y, -z
	}

	return imu.Quat6{
		Q1: int32(y * imu.Quat6Scale),
		Q2: int32(x * imu.Quat6Scale),
		Q3: int32(-z * imu.Quat6Scale),
	}
}
