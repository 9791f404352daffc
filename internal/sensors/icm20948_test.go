package sensors

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/relabs-tech/motion_logger/internal/imu"
	"periph.io/x/conn/v3"
)

// fakeICM emulates the ICM-20948 register file, DMP memory and FIFO
// behind a periph conn.Conn.
type fakeICM struct {
	bank    uint8
	regs    [4][256]byte
	memBank uint8
	memAddr uint8
	mem     [1 << 16]byte
	fifo    []byte
	txErr   error
}

func newFakeICM() *fakeICM {
	f := &fakeICM{}
	f.regs[0][regWhoAmI] = whoAmIValue
	return f
}

func (f *fakeICM) String() string      { return "fakeICM" }
func (f *fakeICM) Duplex() conn.Duplex { return conn.Half }

func (f *fakeICM) Tx(w, r []byte) error {
	if f.txErr != nil {
		return f.txErr
	}
	reg := w[0]
	if len(w) > 1 {
		f.writeReg(reg, w[1:])
		return nil
	}
	f.readReg(reg, r)
	return nil
}

func (f *fakeICM) memPos() uint16 {
	return uint16(f.memBank)<<8 | uint16(f.memAddr)
}

func (f *fakeICM) writeReg(reg uint8, data []byte) {
	if reg == regBankSel {
		f.bank = data[0] >> 4
		return
	}
	if f.bank == 0 {
		switch reg {
		case regMemBankSel:
			f.memBank = data[0]
			return
		case regMemStartAddr:
			f.memAddr = data[0]
			return
		case regMemRW:
			for _, b := range data {
				f.mem[f.memPos()] = b
				f.memAddr++
			}
			return
		case regFIFORst:
			if data[0] == fifoResetAssert {
				f.fifo = nil
			}
		}
	}
	copy(f.regs[f.bank][reg:], data)
}

func (f *fakeICM) readReg(reg uint8, r []byte) {
	if f.bank == 0 {
		switch reg {
		case regFIFOCountH:
			binary.BigEndian.PutUint16(r, uint16(len(f.fifo)))
			return
		case regFIFORW:
			n := copy(r, f.fifo)
			f.fifo = f.fifo[n:]
			return
		case regMemRW:
			for i := range r {
				r[i] = f.mem[f.memPos()]
				f.memAddr++
			}
			return
		}
	}
	copy(r, f.regs[f.bank][reg:])
}

func (f *fakeICM) memUint16(addr uint16) uint16 {
	return binary.BigEndian.Uint16(f.mem[addr:])
}

func quat6Packet(q imu.Quat6) []byte {
	b := binary.BigEndian.AppendUint16(nil, imu.HeaderQuat6)
	b = binary.BigEndian.AppendUint32(b, uint32(q.Q1))
	b = binary.BigEndian.AppendUint32(b, uint32(q.Q2))
	b = binary.BigEndian.AppendUint32(b, uint32(q.Q3))
	return append(b, 0x00, 0x01) // footer
}

func TestICM20948BeginChecksIdentity(t *testing.T) {
	f := newFakeICM()
	dev := NewICM20948(f, nil)
	if err := dev.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if got := f.regs[0][regPwrMgmt1]; got != pwrClkAuto {
		t.Errorf("PWR_MGMT_1 = 0x%02X, want 0x%02X", got, pwrClkAuto)
	}

	f.regs[0][regWhoAmI] = 0x71
	if err := NewICM20948(f, nil).Begin(); err == nil {
		t.Error("Begin accepted wrong WHO_AM_I")
	}
}

func TestICM20948InitializeDMP(t *testing.T) {
	firmware := make([]byte, 700) // spans several 256-byte DMP banks
	for i := range firmware {
		firmware[i] = byte(i * 7)
	}
	f := newFakeICM()
	dev := NewICM20948(f, firmware)
	if err := dev.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := dev.InitializeDMP(); err != nil {
		t.Fatalf("InitializeDMP: %v", err)
	}
	// the config words below live inside the image, so check it before they land
	if !bytes.Equal(f.mem[dmpLoadStart:dmpLoadStart+len(firmware)], firmware) {
		t.Error("firmware not uploaded to DMP memory")
	}

	f = newFakeICM()
	dev = NewICM20948(f, firmware)
	if err := NewDMPSource(dev, 3).Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := binary.BigEndian.Uint16(f.regs[2][regPrgmStartAddrH:]); got != dmpStartAddress {
		t.Errorf("program start = 0x%04X, want 0x%04X", got, dmpStartAddress)
	}
	if got := f.memUint16(dmpDataOutCtl1); got != imu.HeaderQuat6 {
		t.Errorf("DATA_OUT_CTL1 = 0x%04X, want Quat6", got)
	}
	if got := f.memUint16(dmpODRQuat6); got != 3 {
		t.Errorf("ODR_QUAT6 = %d, want 3", got)
	}
	want := uint8(userCtrlDMPEn | userCtrlFIFOEn | userCtrlDMPRst | userCtrlSRAMRst)
	if got := f.regs[0][regUserCtrl]; got != want {
		t.Errorf("USER_CTRL = 0x%02X, want 0x%02X", got, want)
	}
}

func TestICM20948InitializeDMPWithoutFirmware(t *testing.T) {
	err := NewDMPSource(NewICM20948(newFakeICM(), nil), 0).Init()
	if !errors.Is(err, errNoFirmware) {
		t.Fatalf("Init error = %v, want errNoFirmware", err)
	}
}

func TestICM20948ReadFrame(t *testing.T) {
	f := newFakeICM()
	dev := NewICM20948(f, nil)

	if _, st, err := dev.ReadFrame(); err != nil || st != PollEmpty {
		t.Fatalf("empty FIFO: status %v, err %v", st, err)
	}

	q1 := imu.Quat6{Q1: 1 << 29, Q2: -(1 << 28), Q3: 12345}
	q2 := imu.Quat6{Q1: -7, Q2: 8, Q3: -9}
	f.fifo = append(quat6Packet(q1), quat6Packet(q2)...)

	frame, st, err := dev.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if st != PollSampleMore {
		t.Errorf("first status = %v, want sample+more", st)
	}
	if !frame.HasQuat6() || frame.Quat6 != q1 {
		t.Errorf("first frame = %+v, want %+v", frame, q1)
	}

	frame, st, err = dev.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if st != PollSample {
		t.Errorf("second status = %v, want sample", st)
	}
	if frame.Quat6 != q2 {
		t.Errorf("second frame = %+v, want %+v", frame.Quat6, q2)
	}
}

func TestICM20948ReadFramePartialPacket(t *testing.T) {
	f := newFakeICM()
	dev := NewICM20948(f, nil)
	pkt := quat6Packet(imu.Quat6{Q1: 1, Q2: 2, Q3: 3})

	f.fifo = append([]byte(nil), pkt[:5]...)
	if _, st, err := dev.ReadFrame(); err != nil || st != PollEmpty {
		t.Fatalf("partial packet: status %v, err %v", st, err)
	}

	f.fifo = append(f.fifo, pkt[5:]...)
	frame, st, err := dev.ReadFrame()
	if err != nil || st != PollSample {
		t.Fatalf("completed packet: status %v, err %v", st, err)
	}
	if frame.Quat6 != (imu.Quat6{Q1: 1, Q2: 2, Q3: 3}) {
		t.Errorf("frame = %+v", frame.Quat6)
	}
}

func TestParsePacketSkipsOtherSections(t *testing.T) {
	q := imu.Quat6{Q1: 100, Q2: 200, Q3: 300}
	b := binary.BigEndian.AppendUint16(nil, imu.HeaderAccel|imu.HeaderQuat6|imu.HeaderHeader2)
	b = binary.BigEndian.AppendUint16(b, imu.Header2AccelAccuracy)
	b = append(b, make([]byte, 6)...) // accel
	b = binary.BigEndian.AppendUint32(b, uint32(q.Q1))
	b = binary.BigEndian.AppendUint32(b, uint32(q.Q2))
	b = binary.BigEndian.AppendUint32(b, uint32(q.Q3))
	b = append(b, 0, 0) // accel accuracy
	b = append(b, 0, 0) // footer

	frame, n, err := parsePacket(b)
	if err != nil {
		t.Fatalf("parsePacket: %v", err)
	}
	if n != len(b) {
		t.Errorf("n = %d, want %d", n, len(b))
	}
	if frame.Quat6 != q {
		t.Errorf("quat = %+v, want %+v", frame.Quat6, q)
	}
}

func TestParsePacketRejectsReservedBits(t *testing.T) {
	_, _, err := parsePacket([]byte{0x00, 0x01, 0, 0})
	if !errors.Is(err, errCorruptPacket) {
		t.Fatalf("err = %v, want errCorruptPacket", err)
	}
}

func TestICM20948BusError(t *testing.T) {
	f := newFakeICM()
	f.txErr = errors.New("i2c: nack")
	_, _, err := NewICM20948(f, nil).ReadFrame()
	if err == nil {
		t.Fatal("expected bus error")
	}
}
