/*
NAME
  actuator.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package sensord

import (
	"github.com/ausocean/utils/logging"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// LEDState is the tri-color status LED's possible states.
type LEDState int

const (
	LEDOff LEDState = iota
	LEDGreen
	LEDYellow
	LEDRed
)

func (s LEDState) String() string {
	switch s {
	case LEDGreen:
		return "GREEN"
	case LEDYellow:
		return "YELLOW"
	case LEDRed:
		return "RED"
	default:
		return "OFF"
	}
}

// Actuator is the motor-tilt and LED collaborator the sensor event loop
// drives. It is satisfied by gpioActuator (real GPIO pins via periph) or
// by a test double.
type Actuator interface {
	SetLED(s LEDState) error
	Tilt() int
	SetTilt(degrees int) error
	// PollMotor performs one non-blocking iteration of motor event
	// processing; real motor hardware (e.g. a geared tilt stage) may need
	// to pump an internal state machine even when no tilt change is
	// pending.
	PollMotor() error
	Present() bool
}

// gpioActuator drives three discrete LED pins and a PWM-capable tilt pin
// through periph's GPIO abstraction — the stand-in for the out-of-scope
// sensor library's motor/LED control surface.
type gpioActuator struct {
	log    logging.Logger
	green  gpio.PinIO
	yellow gpio.PinIO
	red    gpio.PinIO
	motor  gpio.PinIO
	tilt   int
	ok     bool
}

// NewGPIOActuator initializes periph's host drivers and resolves the
// named pins. It never returns an error: Present reports false if host
// initialization fails or any of the three LED pins cannot be resolved,
// and a missing motor pin only disables tilt output (SetTilt still
// records the clamped angle).
func NewGPIOActuator(log logging.Logger, greenPin, yellowPin, redPin, motorPin string) Actuator {
	a := &gpioActuator{log: log}

	if _, err := host.Init(); err != nil {
		log.Warning("periph host init failed; LED/tilt actuation disabled", "error", err.Error())
		return a
	}

	a.green = gpioreg.ByName(greenPin)
	a.yellow = gpioreg.ByName(yellowPin)
	a.red = gpioreg.ByName(redPin)
	a.motor = gpioreg.ByName(motorPin)

	a.ok = a.green != nil && a.yellow != nil && a.red != nil
	if !a.ok {
		log.Warning("one or more LED pins not found; LED actuation disabled")
	}
	if a.motor == nil {
		log.Info("no motor pin found; tilt control disabled")
	}
	return a
}

func (a *gpioActuator) Present() bool { return a.ok }

func (a *gpioActuator) SetLED(s LEDState) error {
	if !a.ok {
		return nil
	}
	green, yellow, red := gpio.Low, gpio.Low, gpio.Low
	switch s {
	case LEDGreen:
		green = gpio.High
	case LEDYellow:
		yellow = gpio.High
	case LEDRed:
		red = gpio.High
	}
	if err := a.green.Out(green); err != nil {
		return err
	}
	if err := a.yellow.Out(yellow); err != nil {
		return err
	}
	return a.red.Out(red)
}

// tiltMin/tiltMax are the motor's clamp range in degrees.
const (
	tiltMin = -15
	tiltMax = 15
)

func (a *gpioActuator) Tilt() int { return a.tilt }

func (a *gpioActuator) SetTilt(degrees int) error {
	if degrees < tiltMin {
		degrees = tiltMin
	}
	if degrees > tiltMax {
		degrees = tiltMax
	}
	a.tilt = degrees
	if a.motor == nil {
		return nil
	}
	// Map [-15,15] degrees onto the pin's [0,gpio.Max] PWM duty range.
	duty := (degrees + tiltMax) * gpio.Max / (2 * tiltMax)
	return a.motor.PWM(duty)
}

func (a *gpioActuator) PollMotor() error {
	return nil
}
