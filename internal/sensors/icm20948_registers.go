// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import "github.com/relabs-tech/motion_logger/internal/imu"

// ICM-20948 user bank 0 registers.
const (
	regWhoAmI       = 0x00
	regUserCtrl     = 0x03
	regLPConfig     = 0x05
	regPwrMgmt1     = 0x06
	regPwrMgmt2     = 0x07
	regFIFOEn1      = 0x66
	regFIFOEn2      = 0x67
	regFIFORst      = 0x68
	regFIFOMode     = 0x69
	regFIFOCountH   = 0x70
	regFIFORW       = 0x72
	regMemStartAddr = 0x7C
	regMemRW        = 0x7D
	regMemBankSel   = 0x7E
	regBankSel      = 0x7F // present in every bank
)

// ICM-20948 user bank 2 registers.
const (
	regPrgmStartAddrH = 0x50
)

const (
	whoAmIValue = 0xEA

	// USER_CTRL bits
	userCtrlDMPEn   = 0x80
	userCtrlFIFOEn  = 0x40
	userCtrlDMPRst  = 0x08
	userCtrlSRAMRst = 0x04

	// PWR_MGMT_1 bits
	pwrDeviceReset = 0x80
	pwrClkAuto     = 0x01

	// LP_CONFIG: duty-cycle I2C master, accel and gyro off; DMP needs continuous mode
	lpConfigContinuous = 0x00

	// FIFO_RST: assert then release all FIFO resets
	fifoResetAssert  = 0x1F
	fifoResetRelease = 0x1E

	fifoModeStream = 0x00
	fifoCountMask  = 0x1FFF

	bankUnknown = 0xFF
)

// DMP memory layout.
const (
	dmpLoadStart    = 0x90
	dmpStartAddress = 0x1000
	dmpMemChunk     = 16 // max bytes per MEM_R_W burst

	dmpDataOutCtl1    = 4*16 + 0
	dmpDataOutCtl2    = 4*16 + 2
	dmpDataIntrCtl    = 4*16 + 12
	dmpMotionEventCtl = 4*16 + 14
	dmpDataRdyStatus  = 8*16 + 10
	dmpODRCntrQuat6   = 8*16 + 12
	dmpODRQuat6       = 10*16 + 12

	dmpDataRdyGyro  = 0x0001
	dmpDataRdyAccel = 0x0002

	dmpMotionEventGyroCalibr  = 0x0100
	dmpMotionEventAccelCalibr = 0x0200

	// DMP_Data_Output_Control_1 uses the same bit layout as the FIFO header.
	dmpOutputQuat6 = imu.HeaderQuat6
)

// Section sizes of a DMP FIFO packet, in wire order.
var dmpHeaderSections = []struct {
	bit  uint16
	size int
}{
	{imu.HeaderAccel, 6},
	{imu.HeaderGyro, 12}, // 6 data + 6 bias
	{imu.HeaderCompass, 6},
	{imu.HeaderALS, 8},
	{imu.HeaderQuat6, 12},
	{imu.HeaderQuat9, 14},
	{imu.HeaderPQuat6, 6},
	{imu.HeaderGeomag, 14},
	{imu.HeaderPressure, 6},
	{imu.HeaderGyroCalibr, 12},
	{imu.HeaderCompassCalibr, 12},
	{imu.HeaderStepDetector, 4},
}

var dmpHeader2Sections = []struct {
	bit  uint16
	size int
}{
	{imu.Header2AccelAccuracy, 2},
	{imu.Header2GyroAccuracy, 2},
	{imu.Header2CompassAccuracy, 2},
	{imu.Header2Fsync, 2},
	{imu.Header2PickUp, 2},
	{imu.Header2ActivityRecog, 6},
	{imu.Header2SecondaryOnOff, 2},
}

const (
	dmpHeaderSize = 2
	dmpFooterSize = 2

	// header bits the DMP never sets; seeing one means the stream is misaligned
	dmpHeaderReservedMask uint16 = 0x0007
)
