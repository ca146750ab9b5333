// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meterbus

import "fmt"

// Control is the link layer control field (C field).
//
//	bit 7    reserved (0)
//	bit 6    direction, 1 = master to slave
//	bit 5    FCB (master) / ACD (slave)
//	bit 4    FCV (master) / DFC (slave)
//	bit 3-0  function code
type Control byte

// Control field masks
const (
	ControlMaskDirection Control = 0x40
	ControlMaskFCB       Control = 0x20
	ControlMaskFCV       Control = 0x10
	ControlMaskACD       Control = 0x20
	ControlMaskDFC       Control = 0x10
	ControlMaskFunction  Control = 0x0F
)

// Function codes used by a master, with the direction and FCV bits as sent
// on the wire.
const (
	ControlSndNke Control = 0x40 // link reset
	ControlSndUd  Control = 0x53 // send user data
	ControlReqUd1 Control = 0x5A // request class 1 (alarm) data
	ControlReqUd2 Control = 0x5B // request class 2 data
	ControlRspUd  Control = 0x08 // slave response with user data
)

// Function returns the function code bits.
func (c Control) Function() byte {
	return byte(c & ControlMaskFunction)
}

// FromMaster reports whether the direction bit marks a master-to-slave frame.
func (c Control) FromMaster() bool {
	return c&ControlMaskDirection != 0
}

// FCB returns the frame count bit.
func (c Control) FCB() bool {
	return c&ControlMaskFCB != 0
}

// FCV returns the frame count valid bit.
func (c Control) FCV() bool {
	return c&ControlMaskFCV != 0
}

// WithFCB returns c with the frame count bit set or cleared.
func (c Control) WithFCB(fcb bool) Control {
	if fcb {
		return c | ControlMaskFCB
	}
	return c &^ ControlMaskFCB
}

// String returns the function name
func (c Control) String() string {
	if c.FromMaster() {
		switch c.Function() {
		case ControlSndNke.Function():
			return "SND_NKE"
		case ControlSndUd.Function():
			return "SND_UD"
		case ControlReqUd1.Function():
			return "REQ_UD1"
		case ControlReqUd2.Function():
			return "REQ_UD2"
		}
	} else if c.Function() == ControlRspUd.Function() {
		return "RSP_UD"
	}
	return fmt.Sprintf("C_0x%02X", byte(c))
}

// ControlInformation is the CI field selecting how a long frame's data is
// interpreted.
type ControlInformation byte

// Control information values
const (
	CIApplicationReset    ControlInformation = 0x50
	CIDataSend            ControlInformation = 0x51
	CISelectSlave         ControlInformation = 0x52
	CISyncAction          ControlInformation = 0x54
	CIResponseError       ControlInformation = 0x70
	CIResponseAlarm       ControlInformation = 0x71
	CIResponseVariable    ControlInformation = 0x72
	CIResponseFixed       ControlInformation = 0x73
	CIResponseVariableMSB ControlInformation = 0x76
	CIResponseFixedMSB    ControlInformation = 0x77
	CISetBaudRate300      ControlInformation = 0xB8
	CISetBaudRate600      ControlInformation = 0xB9
	CISetBaudRate1200     ControlInformation = 0xBA
	CISetBaudRate2400     ControlInformation = 0xBB
	CISetBaudRate4800     ControlInformation = 0xBC
	CISetBaudRate9600     ControlInformation = 0xBD
	CISetBaudRate19200    ControlInformation = 0xBE
	CISetBaudRate38400    ControlInformation = 0xBF
)

var baudRateCI = map[int]ControlInformation{
	300:   CISetBaudRate300,
	600:   CISetBaudRate600,
	1200:  CISetBaudRate1200,
	2400:  CISetBaudRate2400,
	4800:  CISetBaudRate4800,
	9600:  CISetBaudRate9600,
	19200: CISetBaudRate19200,
	38400: CISetBaudRate38400,
}

// BaudRateCI returns the control information switching a device to baud.
func BaudRateCI(baud int) (ControlInformation, error) {
	ci, ok := baudRateCI[baud]
	if !ok {
		return 0, fmt.Errorf("unsupported baud rate %d", baud)
	}
	return ci, nil
}

// IsFixedData reports whether the CI announces a fixed data structure.
func (ci ControlInformation) IsFixedData() bool {
	return ci == CIResponseFixed || ci == CIResponseFixedMSB
}

// IsVariableData reports whether the CI announces a variable data structure.
func (ci ControlInformation) IsVariableData() bool {
	return ci == CIResponseVariable || ci == CIResponseVariableMSB
}

// String returns the CI name
func (ci ControlInformation) String() string {
	switch ci {
	case CIApplicationReset:
		return "APPLICATION_RESET"
	case CIDataSend:
		return "DATA_SEND"
	case CISelectSlave:
		return "SELECT_SLAVE"
	case CISyncAction:
		return "SYNC_ACTION"
	case CIResponseError:
		return "RESPONSE_ERROR"
	case CIResponseAlarm:
		return "RESPONSE_ALARM"
	case CIResponseVariable:
		return "RESPONSE_VARIABLE"
	case CIResponseFixed:
		return "RESPONSE_FIXED"
	case CIResponseVariableMSB:
		return "RESPONSE_VARIABLE_MSB"
	case CIResponseFixedMSB:
		return "RESPONSE_FIXED_MSB"
	}
	if ci >= CISetBaudRate300 && ci <= CISetBaudRate38400 {
		for baud, v := range baudRateCI {
			if v == ci {
				return fmt.Sprintf("SET_BAUDRATE_%d", baud)
			}
		}
	}
	return fmt.Sprintf("CI_0x%02X", byte(ci))
}
