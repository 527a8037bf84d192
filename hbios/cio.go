// This file implements the character I/O functions.
//
// We have a single console device, which is unit zero.

package hbios

const (
	// CIOConsole is the unit number which means "the current console".
	CIOConsole = 0x80

	// CIODeviceUART is the device type we report for the console.
	CIODeviceUART = 0x00

	// CIOLineConfig is reported by CIOQUERY: 8 data bits, no parity,
	// one stop bit.
	CIOLineConfig = 0x0003
)

var cioFunctions = map[uint8]Handler{
	0x00: {Desc: "CIOIN", Handler: CIOIn},
	0x01: {Desc: "CIOOUT", Handler: CIOOut},
	0x02: {Desc: "CIOIST", Handler: CIOInputStatus},
	0x03: {Desc: "CIOOST", Handler: CIOOutputStatus},
	0x04: {Desc: "CIOINIT", Handler: CIOInit},
	0x05: {Desc: "CIOQUERY", Handler: CIOQuery},
	0x06: {Desc: "CIODEVICE", Handler: CIODevice},
}

// cioUnit checks the unit refers to the console.
func cioUnit(c *Call) error {
	if c.Unit != 0 && c.Unit != CIOConsole {
		return ErrNoUnit
	}
	return nil
}

// CIOIn returns the next character of console input in E.
//
// If nothing is queued the call is retried once something is.
func CIOIn(d *Dispatcher, c *Call) (Effect, error) {
	if err := cioUnit(c); err != nil {
		return EffectNone, err
	}

	for {
		ch, ok := c.Device.ReadInput()
		if ok {
			c.Regs.DE.Lo = ch
			return EffectNone, nil
		}
		if c.Device.WaitForInput() {
			return EffectWaitInput, nil
		}
	}
}

// CIOOut writes the character in E to the console.
func CIOOut(d *Dispatcher, c *Call) (Effect, error) {
	if err := cioUnit(c); err != nil {
		return EffectNone, err
	}
	c.Device.WriteOutput(c.Regs.DE.Lo)
	return EffectNone, nil
}

// CIOInputStatus returns the number of pending characters in A.
func CIOInputStatus(d *Dispatcher, c *Call) (Effect, error) {
	if err := cioUnit(c); err != nil {
		return EffectNone, err
	}

	n := c.Device.PendingInput()
	if n > 0xFF {
		n = 0xFF
	}
	c.SetA(uint8(n))
	return EffectNone, nil
}

// CIOOutputStatus returns the space in the output buffer, which is never
// full.
func CIOOutputStatus(d *Dispatcher, c *Call) (Effect, error) {
	if err := cioUnit(c); err != nil {
		return EffectNone, err
	}
	c.SetA(1)
	return EffectNone, nil
}

// CIOInit would change the line configuration, there's nothing for us
// to do.
func CIOInit(d *Dispatcher, c *Call) (Effect, error) {
	return EffectNone, cioUnit(c)
}

// CIOQuery returns the line configuration in DE.
func CIOQuery(d *Dispatcher, c *Call) (Effect, error) {
	if err := cioUnit(c); err != nil {
		return EffectNone, err
	}
	c.Regs.DE.SetU16(CIOLineConfig)
	return EffectNone, nil
}

// CIODevice describes the console: type in D, number in E, and
// attributes in C.
func CIODevice(d *Dispatcher, c *Call) (Effect, error) {
	if err := cioUnit(c); err != nil {
		return EffectNone, err
	}
	c.Regs.DE.Hi = CIODeviceUART
	c.Regs.DE.Lo = 0
	c.Regs.BC.Lo = 0
	return EffectNone, nil
}
