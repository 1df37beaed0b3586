//go:build linux

package hal

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// RaspberryPiHAL drives the SSR GPIO pin through go-rpio and the MAX31855
// thermocouple front end through periph.io's SPI stack.
type RaspberryPiHAL struct {
	gpio *rpiGPIO
	spi  *rpiSPI
}

// NewRaspberryPiHAL initializes periph.io's host drivers and opens the
// go-rpio memory-mapped GPIO register file.
func NewRaspberryPiHAL() (*RaspberryPiHAL, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io host: %w", err)
	}
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w", err)
	}
	return &RaspberryPiHAL{
		gpio: &rpiGPIO{pins: make(map[int]rpio.Pin)},
		spi:  &rpiSPI{},
	}, nil
}

func (h *RaspberryPiHAL) GPIO() GPIOProvider { return h.gpio }
func (h *RaspberryPiHAL) SPI() SPIProvider   { return h.spi }
func (h *RaspberryPiHAL) Info() BoardInfo {
	return BoardInfo{Model: BoardRaspberryPi, Name: "Raspberry Pi"}
}

func (h *RaspberryPiHAL) Close() error {
	h.spi.Close()
	return rpio.Close()
}

type rpiGPIO struct {
	mu   sync.Mutex
	pins map[int]rpio.Pin
}

func (g *rpiGPIO) SetMode(pin int, mode PinMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unsupported pin mode: %v", mode)
	}
	g.pins[pin] = p
	return nil
}

func (g *rpiGPIO) DigitalWrite(pin int, value bool) error {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %d not initialized", pin)
	}
	if value {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (g *rpiGPIO) DigitalRead(pin int) (bool, error) {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("pin %d not initialized", pin)
	}
	return p.Read() == rpio.High, nil
}

func (g *rpiGPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pins = make(map[int]rpio.Pin)
	return nil
}

type rpiSPI struct {
	mu   sync.Mutex
	port spi.PortCloser
	conn spi.Conn
	hz   int64
	mode spi.Mode
}

func (s *rpiSPI) Open(bus, device int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	port, err := spireg.Open(fmt.Sprintf("SPI%d.%d", bus, device))
	if err != nil {
		return fmt.Errorf("failed to open SPI device: %w", err)
	}
	s.port = port
	if s.hz == 0 {
		s.hz = 5_000_000
	}
	return s.connectLocked()
}

func (s *rpiSPI) connectLocked() error {
	conn, err := s.port.Connect(physic.Frequency(s.hz)*physic.Hertz, s.mode, 8)
	if err != nil {
		return fmt.Errorf("failed to connect to SPI device: %w", err)
	}
	s.conn = conn
	return nil
}

func (s *rpiSPI) Transfer(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, fmt.Errorf("SPI device not open")
	}
	read := make([]byte, len(data))
	if err := s.conn.Tx(data, read); err != nil {
		return nil, fmt.Errorf("SPI transfer failed: %w", err)
	}
	return read, nil
}

func (s *rpiSPI) SetSpeed(speed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hz = int64(speed)
	if s.port != nil {
		return s.connectLocked()
	}
	return nil
}

func (s *rpiSPI) SetMode(mode byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = spi.Mode(mode)
	if s.port != nil {
		return s.connectLocked()
	}
	return nil
}

func (s *rpiSPI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		err := s.port.Close()
		s.port = nil
		s.conn = nil
		return err
	}
	return nil
}
