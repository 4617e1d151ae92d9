package actuator

import (
	"context"
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// GPIOConfig names the Raspberry Pi pins and timings for the real gate.
type GPIOConfig struct {
	Servo1Pin int // left leaf
	Servo2Pin int // right leaf (mirrored)
	LEDRedPin int
	LEDGreenPin int

	LCDAddr uint16 // I²C address of the PCF8574 backpack, 0 disables the LCD
	LCDCols int

	OpenAngle   int // degrees, leaf 1 (leaf 2 mirrors around 180)
	ClosedAngle int

	Travel time.Duration // full sweep duration
	Settle time.Duration // pause after motion completes
}

const (
	servoFreq     = 50 * physic.Hertz
	servoPeriodNs = int64(20_000_000) // 20 ms at 50 Hz
	servoMinPulse = int64(500_000)    // 0.5 ms  -> 0°
	servoMaxPulse = int64(2_400_000)  // 2.4 ms  -> 180°
	sweepSteps    = 30
)

// GPIO drives the physical gate through periph.io: two PWM servos for
// the leaves, two LED outputs, and an optional HD44780 LCD behind a
// PCF8574 I²C expander. LCD probe failure is not fatal; the driver
// degrades to LED/servo-only operation.
type GPIO struct {
	servo1   gpio.PinOut
	servo2   gpio.PinOut
	ledRed   gpio.PinOut
	ledGreen gpio.PinOut
	lcd      *LCD

	cfg    GPIOConfig
	logger *log.Logger
}

// NewGPIO initialises the periph host, claims the pins, probes the LCD,
// and leaves the gate in the closed position with the red LED lit.
func NewGPIO(cfg GPIOConfig, logger *log.Logger) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	g := &GPIO{cfg: cfg, logger: logger}

	var err error
	if g.servo1, err = outPin(cfg.Servo1Pin); err != nil {
		return nil, err
	}
	if g.servo2, err = outPin(cfg.Servo2Pin); err != nil {
		return nil, err
	}
	if g.ledRed, err = outPin(cfg.LEDRedPin); err != nil {
		return nil, err
	}
	if g.ledGreen, err = outPin(cfg.LEDGreenPin); err != nil {
		return nil, err
	}

	if cfg.LCDAddr != 0 {
		bus, err := i2creg.Open("")
		if err != nil {
			logger.Printf("actuator: i2c bus unavailable, running without LCD: %v", err)
		} else if g.lcd, err = NewLCD(bus, cfg.LCDAddr, cfg.LCDCols); err != nil {
			logger.Printf("actuator: LCD not detected at 0x%02x, running without it: %v", cfg.LCDAddr, err)
			g.lcd = nil
		}
	}

	// Start closed: red on, leaves parked.
	_ = g.ledGreen.Out(gpio.Low)
	_ = g.ledRed.Out(gpio.High)
	g.setAngles(cfg.ClosedAngle)
	return g, nil
}

func outPin(n int) (gpio.PinOut, error) {
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if p == nil {
		return nil, fmt.Errorf("gpio pin GPIO%d not found", n)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio pin GPIO%d: %w", n, err)
	}
	return p, nil
}

func (g *GPIO) Open(_ context.Context, user string) error {
	if err := g.ledRed.Out(gpio.Low); err != nil {
		return fmt.Errorf("red led: %w", err)
	}
	if err := g.ledGreen.Out(gpio.High); err != nil {
		return fmt.Errorf("green led: %w", err)
	}
	_ = g.Display("ACCESS OK", user)

	if err := g.sweep(g.cfg.ClosedAngle, g.cfg.OpenAngle); err != nil {
		return err
	}
	time.Sleep(g.cfg.Settle)
	return nil
}

func (g *GPIO) Close(_ context.Context) error {
	_ = g.Display("Closing...", "")
	time.Sleep(g.cfg.Settle)

	if err := g.sweep(g.cfg.OpenAngle, g.cfg.ClosedAngle); err != nil {
		return err
	}
	if err := g.ledGreen.Out(gpio.Low); err != nil {
		return fmt.Errorf("green led: %w", err)
	}
	if err := g.ledRed.Out(gpio.High); err != nil {
		return fmt.Errorf("red led: %w", err)
	}
	time.Sleep(g.cfg.Settle)
	return nil
}

func (g *GPIO) Display(line1, line2 string) error {
	if g.lcd == nil {
		return nil
	}
	if err := g.lcd.Show(line1, line2); err != nil {
		// Display loss is a degradation, never a control failure.
		g.logger.Printf("actuator: lcd write failed: %v", err)
	}
	return nil
}

func (g *GPIO) Shutdown() {
	g.setAngles(g.cfg.ClosedAngle)
	_ = g.ledGreen.Out(gpio.Low)
	_ = g.ledRed.Out(gpio.Low)
	_ = g.servo1.Halt()
	_ = g.servo2.Halt()
	if g.lcd != nil {
		_ = g.lcd.Clear()
	}
}

// sweep moves both leaves in lockstep from one angle to the other over
// the configured travel time. Leaf 2 mirrors leaf 1 around 180°.
func (g *GPIO) sweep(from, to int) error {
	stepDelay := g.cfg.Travel / sweepSteps
	for i := 0; i <= sweepSteps; i++ {
		angle := from + (to-from)*i/sweepSteps
		if err := g.setAngle(g.servo1, angle); err != nil {
			return err
		}
		if err := g.setAngle(g.servo2, 180-angle); err != nil {
			return err
		}
		time.Sleep(stepDelay)
	}
	return nil
}

func (g *GPIO) setAngles(angle int) {
	_ = g.setAngle(g.servo1, angle)
	_ = g.setAngle(g.servo2, 180-angle)
}

func (g *GPIO) setAngle(p gpio.PinOut, angle int) error {
	if angle < 0 {
		angle = 0
	}
	if angle > 180 {
		angle = 180
	}
	pulse := servoMinPulse + (servoMaxPulse-servoMinPulse)*int64(angle)/180
	duty := gpio.Duty(int64(gpio.DutyMax) * pulse / servoPeriodNs)
	if err := p.PWM(duty, servoFreq); err != nil {
		return fmt.Errorf("servo pwm %s: %w", p.Name(), err)
	}
	return nil
}
