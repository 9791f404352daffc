// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"strings"
)

// BitField describes one field inside a register.
type BitField struct {
	Bits        string `json:"bits"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Values      string `json:"values,omitempty"`
}

// RegisterInfo is register metadata for the debug tooling.
type RegisterInfo struct {
	Bank        uint8      `json:"bank"`
	Address     uint8      `json:"address"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Access      string     `json:"access"` // "R", "W", "RW"
	BitFields   []BitField `json:"bit_fields,omitempty"`
}

func (r RegisterInfo) Writable() bool { return strings.Contains(r.Access, "W") }

// ICM20948RegisterMap returns the registers the DMP pipeline touches,
// plus the status registers useful while bringing a board up.
func ICM20948RegisterMap() []RegisterInfo {
	return []RegisterInfo{
		// Bank 0: identity and power
		{Bank: 0, Address: regWhoAmI, Name: "WHO_AM_I", Description: "Device ID (0xEA)", Access: "R"},
		{Bank: 0, Address: regUserCtrl, Name: "USER_CTRL", Description: "DMP, FIFO and I2C master control", Access: "RW",
			BitFields: []BitField{
				{Bits: "7", Name: "DMP_EN", Description: "Enable DMP", Values: "0=Disabled, 1=Enabled"},
				{Bits: "6", Name: "FIFO_EN", Description: "Enable FIFO", Values: "0=Disabled, 1=Enabled"},
				{Bits: "5", Name: "I2C_MST_EN", Description: "Enable I2C master"},
				{Bits: "3", Name: "DMP_RST", Description: "Reset DMP (self-clearing)"},
				{Bits: "2", Name: "SRAM_RST", Description: "Reset SRAM (self-clearing)"},
			}},
		{Bank: 0, Address: regLPConfig, Name: "LP_CONFIG", Description: "Duty-cycle mode", Access: "RW",
			BitFields: []BitField{
				{Bits: "6", Name: "I2C_MST_CYCLE", Description: "I2C master duty-cycled"},
				{Bits: "5", Name: "ACCEL_CYCLE", Description: "Accel duty-cycled"},
				{Bits: "4", Name: "GYRO_CYCLE", Description: "Gyro duty-cycled"},
			}},
		{Bank: 0, Address: regPwrMgmt1, Name: "PWR_MGMT_1", Description: "Power management 1", Access: "RW",
			BitFields: []BitField{
				{Bits: "7", Name: "DEVICE_RESET", Description: "Reset all registers (self-clearing)"},
				{Bits: "6", Name: "SLEEP", Description: "Sleep mode", Values: "0=Awake, 1=Sleep"},
				{Bits: "5", Name: "LP_EN", Description: "Low power enable"},
				{Bits: "2:0", Name: "CLKSEL", Description: "Clock source", Values: "1=Auto select"},
			}},
		{Bank: 0, Address: regPwrMgmt2, Name: "PWR_MGMT_2", Description: "Sensor enable", Access: "RW",
			BitFields: []BitField{
				{Bits: "5:3", Name: "DISABLE_ACCEL", Description: "Disable accel axes", Values: "0=All on, 7=All off"},
				{Bits: "2:0", Name: "DISABLE_GYRO", Description: "Disable gyro axes", Values: "0=All on, 7=All off"},
			}},
		{Bank: 0, Address: 0x19, Name: "INT_STATUS", Description: "Interrupt status", Access: "R"},

		// Bank 0: FIFO
		{Bank: 0, Address: regFIFOEn1, Name: "FIFO_EN_1", Description: "Slave FIFO enable", Access: "RW"},
		{Bank: 0, Address: regFIFOEn2, Name: "FIFO_EN_2", Description: "Raw sensor FIFO enable (0 with DMP)", Access: "RW"},
		{Bank: 0, Address: regFIFORst, Name: "FIFO_RST", Description: "FIFO reset", Access: "RW",
			BitFields: []BitField{
				{Bits: "4:0", Name: "FIFO_RESET", Description: "Assert 0x1F then release 0x1E"},
			}},
		{Bank: 0, Address: regFIFOMode, Name: "FIFO_MODE", Description: "FIFO mode", Access: "RW",
			BitFields: []BitField{
				{Bits: "4:0", Name: "FIFO_MODE", Description: "Full FIFO behaviour", Values: "0=Stream, 1=Snapshot"},
			}},
		{Bank: 0, Address: regFIFOCountH, Name: "FIFO_COUNTH", Description: "FIFO count high (5 bits)", Access: "R"},
		{Bank: 0, Address: regFIFOCountH + 1, Name: "FIFO_COUNTL", Description: "FIFO count low", Access: "R"},

		// Bank 0: DMP memory window
		{Bank: 0, Address: regMemStartAddr, Name: "MEM_START_ADDR", Description: "DMP memory address within bank", Access: "RW"},
		{Bank: 0, Address: regMemBankSel, Name: "MEM_BANK_SEL", Description: "DMP memory bank", Access: "RW"},

		// Bank 2
		{Bank: 2, Address: 0x00, Name: "GYRO_SMPLRT_DIV", Description: "Gyro sample rate divider", Access: "RW"},
		{Bank: 2, Address: 0x01, Name: "GYRO_CONFIG_1", Description: "Gyro full scale and DLPF", Access: "RW"},
		{Bank: 2, Address: 0x10, Name: "ACCEL_SMPLRT_DIV_1", Description: "Accel sample rate divider high", Access: "RW"},
		{Bank: 2, Address: 0x11, Name: "ACCEL_SMPLRT_DIV_2", Description: "Accel sample rate divider low", Access: "RW"},
		{Bank: 2, Address: 0x14, Name: "ACCEL_CONFIG", Description: "Accel full scale and DLPF", Access: "RW"},
		{Bank: 2, Address: regPrgmStartAddrH, Name: "PRGM_START_ADDRH", Description: "DMP program start high", Access: "RW"},
		{Bank: 2, Address: regPrgmStartAddrH + 1, Name: "PRGM_START_ADDRL", Description: "DMP program start low", Access: "RW"},
	}
}

// LookupRegister finds a register in the map.
func LookupRegister(bank, addr uint8) (RegisterInfo, bool) {
	for _, r := range ICM20948RegisterMap() {
		if r.Bank == bank && r.Address == addr {
			return r, true
		}
	}
	return RegisterInfo{}, false
}

// ReadRegister reads one user-bank register.
func (d *ICM20948) ReadRegister(bank, addr uint8) (uint8, error) {
	if bank > 3 {
		return 0, fmt.Errorf("icm20948: bank %d out of range", bank)
	}
	return d.read(bank, addr)
}

// WriteRegister writes one user-bank register. REG_BANK_SEL is managed
// by the driver and cannot be written directly.
func (d *ICM20948) WriteRegister(bank, addr, v uint8) error {
	if bank > 3 {
		return fmt.Errorf("icm20948: bank %d out of range", bank)
	}
	if addr == regBankSel {
		return fmt.Errorf("icm20948: REG_BANK_SEL is driver-managed")
	}
	return d.write(bank, addr, v)
}
