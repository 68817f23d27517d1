package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kettle-autotune/internal/kettle"
)

// TestParseW1Slave_ValidReading tests a normal DS18B20 reading
func TestParseW1Slave_ValidReading(t *testing.T) {
	// Arrange
	content := "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=23125\n"

	// Act
	temp, err := parseW1Slave(content)

	// Assert
	require.NoError(t, err)
	assert.InDelta(t, 23.125, temp, 0.0001)
}

// TestParseW1Slave_Negative tests a sub-zero reading
func TestParseW1Slave_Negative(t *testing.T) {
	// Arrange
	content := "ff ff 4b 46 7f ff 0e 10 57 : crc=57 YES\nff ff 4b 46 7f ff 0e 10 57 t=-1250\n"

	// Act
	temp, err := parseW1Slave(content)

	// Assert
	require.NoError(t, err)
	assert.InDelta(t, -1.25, temp, 0.0001)
}

// TestParseW1Slave_Errors tests rejected sensor output
func TestParseW1Slave_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"crc failure", "72 01 4b 46 7f ff 0e 10 57 : crc=57 NO\n72 01 4b 46 7f ff 0e 10 57 t=23125", "CRC"},
		{"single line", "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES", "unexpected w1_slave format"},
		{"no temperature", "72 01 : crc=57 YES\n72 01 4b 46", "no temperature"},
		{"garbage temperature", "72 01 : crc=57 YES\n72 01 t=abc", "failed to parse"},
		{"power-on reset", "50 05 : crc=57 YES\n50 05 t=85000", "power-on reset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			_, err := parseW1Slave(tt.content)

			// Assert
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// TestW1Sensor_ReadsFile tests reading the sysfs file
func TestW1Sensor_ReadsFile(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "w1_slave")
	err := os.WriteFile(path, []byte("4b 04 : crc=2c YES\n4b 04 t=67687\n"), 0644)
	require.NoError(t, err)
	sensor, err := openSensor(SensorConfig{Backend: backendW1, W1Device: path}, nil)
	require.NoError(t, err)

	// Act
	temp, err := sensor.ReadTemperature()

	// Assert
	require.NoError(t, err)
	assert.InDelta(t, 67.687, temp, 0.0001)
	assert.NoError(t, sensor.Close())
}

// TestW1Sensor_MissingDevice tests a probe that disappeared
func TestW1Sensor_MissingDevice(t *testing.T) {
	// Arrange
	sensor := &w1Sensor{path: filepath.Join(t.TempDir(), "missing")}

	// Act
	_, err := sensor.ReadTemperature()

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read w1 sensor")
}

// TestParseSerialLine_Formats tests the accepted serial line formats
func TestParseSerialLine_Formats(t *testing.T) {
	tests := []struct {
		line string
		want float64
	}{
		{"65.25", 65.25},
		{"T:65.25", 65.25},
		{"temp=65.25\r", 65.25},
		{"  -3.5  ", -3.5},
		{"T: 21", 21},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			// Act
			temp, err := parseSerialLine(tt.line)

			// Assert
			require.NoError(t, err)
			assert.Equal(t, tt.want, temp)
		})
	}
}

// TestParseSerialLine_Invalid tests rejected serial lines
func TestParseSerialLine_Invalid(t *testing.T) {
	for _, line := range []string{"", "T:", "hello", "temp=warm"} {
		_, err := parseSerialLine(line)
		assert.Error(t, err, line)
	}
}

// testClock is a mutex-guarded manual clock shared with a reader goroutine
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestLineSensor_NewestReading tests that the latest valid line is served
func TestLineSensor_NewestReading(t *testing.T) {
	// Arrange
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r, w := io.Pipe()
	sensor := newLineSensor(r, clock.Now, 10*time.Second)

	// Act
	_, err := io.WriteString(w, "T:60.5\nT:61.0\n")
	require.NoError(t, err)

	// Assert
	require.Eventually(t, func() bool {
		temp, err := sensor.ReadTemperature()
		return err == nil && temp == 61.0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Close())
	assert.NoError(t, sensor.Close())
}

// TestLineSensor_NoReadingYet tests reading before any line arrived
func TestLineSensor_NoReadingYet(t *testing.T) {
	// Arrange
	r, w := io.Pipe()
	sensor := newLineSensor(r, time.Now, time.Second)
	defer func() {
		w.Close()
		sensor.Close()
	}()

	// Act
	_, err := sensor.ReadTemperature()

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no serial reading")
}

// TestLineSensor_StaleReading tests that old readings are rejected
func TestLineSensor_StaleReading(t *testing.T) {
	// Arrange
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r, w := io.Pipe()
	sensor := newLineSensor(r, clock.Now, 10*time.Second)
	defer func() {
		w.Close()
		sensor.Close()
	}()
	_, err := io.WriteString(w, "60.5\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := sensor.ReadTemperature()
		return err == nil
	}, time.Second, 5*time.Millisecond)

	// Act
	clock.Advance(11 * time.Second)
	_, err = sensor.ReadTemperature()

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale")
}

// TestLineSensor_StreamEnded tests the error once the stream closes without data
func TestLineSensor_StreamEnded(t *testing.T) {
	// Arrange
	r, w := io.Pipe()
	sensor := newLineSensor(r, time.Now, time.Second)

	// Act
	require.NoError(t, w.Close())
	<-sensor.done
	_, err := sensor.ReadTemperature()

	// Assert
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.EOF))
	assert.NoError(t, sensor.Close())
}

// TestOpenSensor_Serial tests the serial backend uses the port opener
func TestOpenSensor_Serial(t *testing.T) {
	// Arrange
	orig := openSerialFn
	defer func() { openSerialFn = orig }()

	var gotPort string
	var gotBaud int
	r, w := io.Pipe()
	openSerialFn = func(port string, baud int) (io.ReadCloser, error) {
		gotPort, gotBaud = port, baud
		return r, nil
	}

	// Act
	sensor, err := openSensor(SensorConfig{
		Backend:    backendSerial,
		SerialPort: "/dev/ttyACM0",
		BaudRate:   19200,
		StaleAfter: time.Minute,
	}, nil)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", gotPort)
	assert.Equal(t, 19200, gotBaud)

	_, err = io.WriteString(w, "temp=70.0\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		temp, err := sensor.ReadTemperature()
		return err == nil && temp == 70.0
	}, time.Second, 5*time.Millisecond)

	w.Close()
	assert.NoError(t, sensor.Close())
}

// TestOpenSensor_SerialOpenFails tests the serial open error is wrapped
func TestOpenSensor_SerialOpenFails(t *testing.T) {
	// Arrange
	orig := openSerialFn
	defer func() { openSerialFn = orig }()
	openSerialFn = func(string, int) (io.ReadCloser, error) {
		return nil, errors.New("no such device")
	}

	// Act
	_, err := openSensor(SensorConfig{Backend: backendSerial, SerialPort: "/dev/ttyS9"}, nil)

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open serial port /dev/ttyS9")
}

// TestOpenSensor_Sim tests the sim backend reads the lagged kettle temperature
func TestOpenSensor_Sim(t *testing.T) {
	// Arrange
	sim := kettle.NewSimulator(kettle.SimConfig{
		Diameter:    35,
		Volume:      40,
		InitialTemp: 42,
		HeaterPower: 2.8,
		AmbientTemp: 20,
		Step:        5 * time.Second,
	})
	sensor, err := openSensor(SensorConfig{Backend: backendSim}, sim)
	require.NoError(t, err)

	// Act
	temp, err := sensor.ReadTemperature()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 42.0, temp)
}

// TestOpenSensor_UnknownBackend tests an unknown backend is rejected
func TestOpenSensor_UnknownBackend(t *testing.T) {
	_, err := openSensor(SensorConfig{Backend: "thermocouple"}, nil)
	assert.Error(t, err)
}
