package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/canmetro/turnstiled/internal/turnstile/types"
)

// GPIOConfig names the input pins.
type GPIOConfig struct {
	ButtonPin  int
	SensorAPin int
	SensorBPin int
}

// GPIOInput reads the real pins. The button is active-high; the beam
// receivers pull their pin low while the beam is interrupted, matching
// the pull-up wiring of the laser modules.
type GPIOInput struct {
	button  gpio.PinIn
	sensorA gpio.PinIn
	sensorB gpio.PinIn
}

// NewGPIOInput claims the three pins. host.Init must have run already
// (the actuator setup does it).
func NewGPIOInput(cfg GPIOConfig) (*GPIOInput, error) {
	in := &GPIOInput{}

	var err error
	if in.button, err = inPin(cfg.ButtonPin, gpio.PullDown); err != nil {
		return nil, err
	}
	if in.sensorA, err = inPin(cfg.SensorAPin, gpio.PullUp); err != nil {
		return nil, err
	}
	if in.sensorB, err = inPin(cfg.SensorBPin, gpio.PullUp); err != nil {
		return nil, err
	}
	return in, nil
}

func inPin(n int, pull gpio.Pull) (gpio.PinIn, error) {
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if p == nil {
		return nil, fmt.Errorf("gpio pin GPIO%d not found", n)
	}
	if err := p.In(pull, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("gpio pin GPIO%d: %w", n, err)
	}
	return p, nil
}

func (g *GPIOInput) ButtonPressed() bool {
	return g.button.Read() == gpio.High
}

func (g *GPIOInput) SensorBlocked(s types.Sensor) bool {
	switch s {
	case types.SensorA:
		return g.sensorA.Read() == gpio.Low
	case types.SensorB:
		return g.sensorB.Read() == gpio.Low
	}
	return false
}
