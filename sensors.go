package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"kettle-autotune/internal/kettle"
)

// TemperatureSensor provides kettle temperature readings in degrees Celsius
type TemperatureSensor interface {
	ReadTemperature() (float64, error)
	Close() error
}

// openSerialFn is replaced in tests
var openSerialFn = func(port string, baud int) (io.ReadCloser, error) {
	return serial.Open(port, &serial.Mode{BaudRate: baud})
}

// openSensor creates the configured temperature sensor. sim is only used by the sim backend.
func openSensor(cfg SensorConfig, sim *kettle.Simulator) (TemperatureSensor, error) {
	switch cfg.Backend {
	case backendSim:
		return &simSensor{sim: sim}, nil
	case backendW1:
		return &w1Sensor{path: cfg.W1Device}, nil
	case backendSerial:
		port, err := openSerialFn(cfg.SerialPort, cfg.BaudRate)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.SerialPort, err)
		}
		return newLineSensor(port, time.Now, cfg.StaleAfter), nil
	}
	return nil, fmt.Errorf("unknown sensor backend %q", cfg.Backend)
}

// simSensor reads the lagged temperature of a simulated kettle
type simSensor struct {
	sim *kettle.Simulator
}

func (s *simSensor) ReadTemperature() (float64, error) { return s.sim.Reading(), nil }
func (s *simSensor) Close() error                      { return nil }

// w1Sensor reads a DS18B20 probe through the kernel w1 sysfs driver
type w1Sensor struct {
	path string
}

func (s *w1Sensor) ReadTemperature() (float64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read w1 sensor %s: %w", s.path, err)
	}
	return parseW1Slave(string(data))
}

func (s *w1Sensor) Close() error { return nil }

// parseW1Slave parses w1_slave content:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func parseW1Slave(content string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("unexpected w1_slave format: %q", content)
	}

	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("w1 sensor CRC check failed")
	}

	idx := strings.LastIndex(lines[1], "t=")
	if idx < 0 {
		return 0, fmt.Errorf("no temperature in w1_slave output")
	}

	// Parse millidegrees and convert to degrees
	millidegrees, err := strconv.ParseInt(strings.TrimSpace(lines[1][idx+2:]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse w1 temperature: %w", err)
	}

	// 85000 is the DS18B20 power-on reset value, not a measurement
	if millidegrees == 85000 {
		return 0, fmt.Errorf("w1 sensor returned power-on reset value")
	}

	return float64(millidegrees) / 1000.0, nil
}

// lineSensor consumes a stream of newline-terminated readings, such as a
// serial thermometer, and serves the newest one.
type lineSensor struct {
	r          io.ReadCloser
	now        func() time.Time
	staleAfter time.Duration

	mu      sync.Mutex
	value   float64
	at      time.Time
	lastErr error
	done    chan struct{}
}

func newLineSensor(r io.ReadCloser, now func() time.Time, staleAfter time.Duration) *lineSensor {
	s := &lineSensor{r: r, now: now, staleAfter: staleAfter, done: make(chan struct{})}
	go s.readLoop()
	return s
}

func (s *lineSensor) readLoop() {
	defer close(s.done)

	scanner := bufio.NewScanner(s.r)
	for scanner.Scan() {
		temp, err := parseSerialLine(scanner.Text())

		s.mu.Lock()
		if err != nil {
			s.lastErr = err
		} else {
			s.value = temp
			s.at = s.now()
			s.lastErr = nil
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	if err := scanner.Err(); err != nil {
		s.lastErr = fmt.Errorf("serial sensor stream failed: %w", err)
	} else {
		s.lastErr = io.EOF
	}
	s.mu.Unlock()
}

func (s *lineSensor) ReadTemperature() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.at.IsZero() {
		if s.lastErr != nil {
			return 0, fmt.Errorf("no serial reading: %w", s.lastErr)
		}
		return 0, fmt.Errorf("no serial reading yet")
	}
	if age := s.now().Sub(s.at); age > s.staleAfter {
		return 0, fmt.Errorf("serial reading is stale (%v old)", age)
	}
	return s.value, nil
}

func (s *lineSensor) Close() error {
	err := s.r.Close()
	<-s.done
	return err
}

// parseSerialLine accepts "65.25", "T:65.25" or "temp=65.25"
func parseSerialLine(line string) (float64, error) {
	line = strings.TrimSpace(line)
	if i := strings.LastIndexAny(line, ":="); i >= 0 {
		line = strings.TrimSpace(line[i+1:])
	}
	if line == "" {
		return 0, fmt.Errorf("empty serial reading")
	}
	temp, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse serial reading %q: %w", line, err)
	}
	return temp, nil
}
