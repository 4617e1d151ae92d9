package actuator

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// LCD talks HD44780 4-bit protocol through a PCF8574 I²C backpack, the
// usual 16x2 character module wiring. Bit layout on the expander:
// P0=RS, P1=RW, P2=EN, P3=backlight, P4..P7=data nibble.
type LCD struct {
	dev  i2c.Dev
	cols int
}

const (
	lcdBacklight = 0x08
	lcdEnable    = 0x04
	lcdRegSelect = 0x01

	lcdCmdClear       = 0x01
	lcdCmdEntryMode   = 0x06 // increment, no shift
	lcdCmdDisplayOn   = 0x0C // display on, cursor off
	lcdCmdFunction4x2 = 0x28 // 4-bit, 2 lines, 5x8 font
	lcdCmdLine2       = 0xC0 // DDRAM address of row 1
)

// NewLCD probes the backpack and runs the 4-bit init sequence. A write
// failure here means the module is absent or miswired.
func NewLCD(bus i2c.Bus, addr uint16, cols int) (*LCD, error) {
	if cols <= 0 {
		cols = 16
	}
	l := &LCD{dev: i2c.Dev{Bus: bus, Addr: addr}, cols: cols}

	// Reset into 4-bit mode (three 0x3 nibbles, then 0x2), per the
	// HD44780 datasheet power-on procedure.
	for _, nib := range []byte{0x30, 0x30, 0x30, 0x20} {
		if err := l.strobe(nib); err != nil {
			return nil, fmt.Errorf("lcd init: %w", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	for _, cmd := range []byte{lcdCmdFunction4x2, lcdCmdDisplayOn, lcdCmdEntryMode, lcdCmdClear} {
		if err := l.command(cmd); err != nil {
			return nil, fmt.Errorf("lcd init: %w", err)
		}
	}
	time.Sleep(2 * time.Millisecond)
	return l, nil
}

// Show clears the display and writes the two lines, truncated to width.
func (l *LCD) Show(line1, line2 string) error {
	if err := l.command(lcdCmdClear); err != nil {
		return err
	}
	time.Sleep(2 * time.Millisecond)
	if err := l.writeString(line1); err != nil {
		return err
	}
	if line2 != "" {
		if err := l.command(lcdCmdLine2); err != nil {
			return err
		}
		if err := l.writeString(line2); err != nil {
			return err
		}
	}
	return nil
}

func (l *LCD) Clear() error {
	err := l.command(lcdCmdClear)
	time.Sleep(2 * time.Millisecond)
	return err
}

func (l *LCD) writeString(s string) error {
	if len(s) > l.cols {
		s = s[:l.cols]
	}
	for i := 0; i < len(s); i++ {
		if err := l.writeByte(s[i], lcdRegSelect); err != nil {
			return err
		}
	}
	return nil
}

func (l *LCD) command(b byte) error {
	return l.writeByte(b, 0)
}

// writeByte sends one byte as two strobed nibbles with the given RS bit.
func (l *LCD) writeByte(b, rs byte) error {
	if err := l.strobe((b & 0xF0) | rs); err != nil {
		return err
	}
	return l.strobe((b << 4 & 0xF0) | rs)
}

// strobe latches a nibble by pulsing EN high then low around the data.
func (l *LCD) strobe(b byte) error {
	b |= lcdBacklight
	if err := l.write(b | lcdEnable); err != nil {
		return err
	}
	time.Sleep(time.Millisecond)
	if err := l.write(b &^ lcdEnable); err != nil {
		return err
	}
	time.Sleep(50 * time.Microsecond)
	return nil
}

func (l *LCD) write(b byte) error {
	_, err := l.dev.Write([]byte{b})
	return err
}
