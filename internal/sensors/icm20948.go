// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/relabs-tech/motion_logger/internal/imu"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/mmr"
)

const (
	resetSettle  = 50 * time.Millisecond
	fifoReadMax  = 256
	fifoBufLimit = 4096 // hardware FIFO size; anything beyond is a runaway
)

var (
	errNoFirmware    = errors.New("no DMP firmware image loaded")
	errCorruptPacket = errors.New("corrupt DMP packet header")
)

// ICM20948 drives an ICM-20948 with its DMP producing game rotation
// vectors (Quat6) into the FIFO. Register access goes through a periph
// conn.Conn, normally an *i2c.Dev.
type ICM20948 struct {
	c        conn.Conn
	regs     mmr.Dev8
	bank     uint8
	firmware []byte

	fifo      []byte // bytes read from the hardware FIFO, not yet parsed
	hwPending int    // bytes left in the hardware FIFO after the last read
}

// NewICM20948 wraps c. firmware is the DMP image uploaded by InitializeDMP.
func NewICM20948(c conn.Conn, firmware []byte) *ICM20948 {
	return &ICM20948{
		c:        c,
		regs:     mmr.Dev8{Conn: c, Order: binary.BigEndian},
		bank:     bankUnknown,
		firmware: firmware,
		fifo:     make([]byte, 0, fifoReadMax),
	}
}

func (d *ICM20948) String() string {
	return fmt.Sprintf("ICM20948{%s}", d.c)
}

// Begin checks the chip identity, resets it and wakes it up with the
// auto-selected clock source.
func (d *ICM20948) Begin() error {
	d.bank = bankUnknown

	who, err := d.read(0, regWhoAmI)
	if err != nil {
		return fmt.Errorf("icm20948: read WHO_AM_I: %w", err)
	}
	if who != whoAmIValue {
		return fmt.Errorf("icm20948: unexpected WHO_AM_I 0x%02X (want 0x%02X)", who, whoAmIValue)
	}

	if err := d.write(0, regPwrMgmt1, pwrDeviceReset); err != nil {
		return fmt.Errorf("icm20948: device reset: %w", err)
	}
	time.Sleep(resetSettle)
	d.bank = bankUnknown // reset selects bank 0 behind our back

	if err := d.write(0, regPwrMgmt1, pwrClkAuto); err != nil {
		return fmt.Errorf("icm20948: wake: %w", err)
	}
	if err := d.write(0, regPwrMgmt2, 0x00); err != nil {
		return fmt.Errorf("icm20948: enable accel/gyro: %w", err)
	}
	if err := d.write(0, regLPConfig, lpConfigContinuous); err != nil {
		return fmt.Errorf("icm20948: continuous mode: %w", err)
	}

	d.fifo = d.fifo[:0]
	d.hwPending = 0
	return nil
}

// InitializeDMP uploads the firmware image, verifies it and sets the DMP
// program start address.
func (d *ICM20948) InitializeDMP() error {
	if len(d.firmware) == 0 {
		return errNoFirmware
	}
	if err := d.writeMem(dmpLoadStart, d.firmware); err != nil {
		return fmt.Errorf("upload firmware: %w", err)
	}
	readBack, err := d.readMem(dmpLoadStart, len(d.firmware))
	if err != nil {
		return fmt.Errorf("verify firmware: %w", err)
	}
	if !bytes.Equal(readBack, d.firmware) {
		return errors.New("firmware verification mismatch")
	}

	if err := d.setBank(2); err != nil {
		return err
	}
	if err := d.regs.WriteUint16(regPrgmStartAddrH, dmpStartAddress); err != nil {
		return fmt.Errorf("set program start address: %w", err)
	}
	return nil
}

// EnableGameRotationVector routes the 6-axis (accel+gyro) quaternion to
// the FIFO and enables the calibration it depends on.
func (d *ICM20948) EnableGameRotationVector() error {
	writes := []struct {
		addr  uint16
		value uint16
	}{
		{dmpDataOutCtl1, dmpOutputQuat6},
		{dmpDataOutCtl2, 0},
		{dmpDataIntrCtl, dmpOutputQuat6},
		{dmpDataRdyStatus, dmpDataRdyGyro | dmpDataRdyAccel},
		{dmpMotionEventCtl, dmpMotionEventGyroCalibr | dmpMotionEventAccelCalibr},
	}
	for _, w := range writes {
		if err := d.writeMemUint16(w.addr, w.value); err != nil {
			return fmt.Errorf("DMP mem 0x%04X: %w", w.addr, err)
		}
	}
	return nil
}

// SetQuat6Rate sets the Quat6 output divider; 0 is the DMP's full rate.
func (d *ICM20948) SetQuat6Rate(div uint16) error {
	if err := d.writeMemUint16(dmpODRQuat6, div); err != nil {
		return err
	}
	return d.writeMemUint16(dmpODRCntrQuat6, 0)
}

// EnableFIFO turns the FIFO on in stream mode with only the DMP writing to it.
func (d *ICM20948) EnableFIFO() error {
	if err := d.write(0, regFIFOEn1, 0x00); err != nil {
		return err
	}
	if err := d.write(0, regFIFOEn2, 0x00); err != nil {
		return err
	}
	if err := d.write(0, regFIFOMode, fifoModeStream); err != nil {
		return err
	}
	return d.setUserCtrl(userCtrlFIFOEn)
}

func (d *ICM20948) EnableDMP() error {
	return d.setUserCtrl(userCtrlDMPEn)
}

func (d *ICM20948) ResetDMP() error {
	return d.setUserCtrl(userCtrlDMPRst | userCtrlSRAMRst)
}

// ResetFIFO flushes the hardware FIFO and any bytes buffered locally.
func (d *ICM20948) ResetFIFO() error {
	if err := d.write(0, regFIFORst, fifoResetAssert); err != nil {
		return err
	}
	if err := d.write(0, regFIFORst, fifoResetRelease); err != nil {
		return err
	}
	d.fifo = d.fifo[:0]
	d.hwPending = 0
	return nil
}

// ReadFrame returns the next complete DMP packet. PollEmpty means no
// complete packet is available yet; PollSampleMore means another one
// can be read right away.
func (d *ICM20948) ReadFrame() (imu.DMPFrame, PollStatus, error) {
	frame, n, err := parsePacket(d.fifo)
	if err != nil {
		return imu.DMPFrame{}, PollEmpty, err
	}
	if n == 0 {
		if err := d.fill(); err != nil {
			return imu.DMPFrame{}, PollEmpty, err
		}
		frame, n, err = parsePacket(d.fifo)
		if err != nil {
			return imu.DMPFrame{}, PollEmpty, err
		}
		if n == 0 {
			return imu.DMPFrame{}, PollEmpty, nil
		}
	}

	d.fifo = d.fifo[:copy(d.fifo, d.fifo[n:])]

	if d.hwPending > 0 {
		return frame, PollSampleMore, nil
	}
	if _, next, _ := parsePacket(d.fifo); next > 0 {
		return frame, PollSampleMore, nil
	}
	return frame, PollSample, nil
}

// fill reads up to fifoReadMax bytes from the hardware FIFO.
func (d *ICM20948) fill() error {
	if err := d.setBank(0); err != nil {
		return err
	}
	count, err := d.regs.ReadUint16(regFIFOCountH)
	if err != nil {
		return fmt.Errorf("FIFO count: %w", err)
	}
	avail := int(count & fifoCountMask)
	if avail == 0 {
		d.hwPending = 0
		return nil
	}
	if len(d.fifo)+avail > fifoBufLimit {
		return fmt.Errorf("FIFO overrun: %d bytes buffered, %d available", len(d.fifo), avail)
	}

	n := min(avail, fifoReadMax)
	buf := make([]byte, n)
	if err := d.c.Tx([]byte{regFIFORW}, buf); err != nil {
		return fmt.Errorf("FIFO read: %w", err)
	}
	d.fifo = append(d.fifo, buf...)
	d.hwPending = avail - n
	return nil
}

// parsePacket decodes the packet at the start of b. n is 0 when b does
// not hold a complete packet yet.
func parsePacket(b []byte) (frame imu.DMPFrame, n int, err error) {
	if len(b) < dmpHeaderSize {
		return frame, 0, nil
	}
	frame.Header = binary.BigEndian.Uint16(b)
	if frame.Header&dmpHeaderReservedMask != 0 {
		return imu.DMPFrame{}, 0, fmt.Errorf("%w: 0x%04X", errCorruptPacket, frame.Header)
	}
	off := dmpHeaderSize

	if frame.Header&imu.HeaderHeader2 != 0 {
		if len(b) < off+2 {
			return imu.DMPFrame{}, 0, nil
		}
		frame.Header2 = binary.BigEndian.Uint16(b[off:])
		off += 2
	}

	quatOff := -1
	for _, s := range dmpHeaderSections {
		if frame.Header&s.bit == 0 {
			continue
		}
		if s.bit == imu.HeaderQuat6 {
			quatOff = off
		}
		off += s.size
	}
	for _, s := range dmpHeader2Sections {
		if frame.Header2&s.bit != 0 {
			off += s.size
		}
	}
	off += dmpFooterSize

	if len(b) < off {
		return imu.DMPFrame{}, 0, nil
	}
	if quatOff >= 0 {
		frame.Quat6 = imu.Quat6{
			Q1: int32(binary.BigEndian.Uint32(b[quatOff:])),
			Q2: int32(binary.BigEndian.Uint32(b[quatOff+4:])),
			Q3: int32(binary.BigEndian.Uint32(b[quatOff+8:])),
		}
	}
	return frame, off, nil
}

func (d *ICM20948) setUserCtrl(bits uint8) error {
	v, err := d.read(0, regUserCtrl)
	if err != nil {
		return err
	}
	return d.write(0, regUserCtrl, v|bits)
}

func (d *ICM20948) setBank(bank uint8) error {
	if d.bank == bank {
		return nil
	}
	if err := d.regs.WriteUint8(regBankSel, bank<<4); err != nil {
		d.bank = bankUnknown
		return fmt.Errorf("select bank %d: %w", bank, err)
	}
	d.bank = bank
	return nil
}

func (d *ICM20948) read(bank, reg uint8) (uint8, error) {
	if err := d.setBank(bank); err != nil {
		return 0, err
	}
	return d.regs.ReadUint8(reg)
}

func (d *ICM20948) write(bank, reg, v uint8) error {
	if err := d.setBank(bank); err != nil {
		return err
	}
	return d.regs.WriteUint8(reg, v)
}

// memChunks splits [addr, addr+n) into bursts that neither exceed
// dmpMemChunk nor cross a 256-byte DMP memory bank.
func memChunks(addr uint16, n int, fn func(a uint16, off, size int) error) error {
	for off := 0; off < n; {
		a := addr + uint16(off)
		size := min(dmpMemChunk, n-off, 256-int(a&0xFF))
		if err := fn(a, off, size); err != nil {
			return err
		}
		off += size
	}
	return nil
}

func (d *ICM20948) selectMem(a uint16) error {
	if err := d.write(0, regMemBankSel, uint8(a>>8)); err != nil {
		return err
	}
	return d.write(0, regMemStartAddr, uint8(a))
}

func (d *ICM20948) writeMem(addr uint16, data []byte) error {
	return memChunks(addr, len(data), func(a uint16, off, size int) error {
		if err := d.selectMem(a); err != nil {
			return err
		}
		w := append([]byte{regMemRW}, data[off:off+size]...)
		return d.c.Tx(w, nil)
	})
}

func (d *ICM20948) readMem(addr uint16, n int) ([]byte, error) {
	out := make([]byte, n)
	err := memChunks(addr, n, func(a uint16, off, size int) error {
		if err := d.selectMem(a); err != nil {
			return err
		}
		return d.c.Tx([]byte{regMemRW}, out[off:off+size])
	})
	return out, err
}

func (d *ICM20948) writeMemUint16(addr uint16, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return d.writeMem(addr, b[:])
}
