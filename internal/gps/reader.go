package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/sphere_capture/internal/logging"
)

// ErrNoFix is returned when the stream ends before a valid fix arrives.
var ErrNoFix = errors.New("gps: no valid fix")

// ReadFix opens the GPS serial port and returns the first valid fix.
func ReadFix(ctx context.Context, portName string, baud int) (Fix, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return Fix{}, fmt.Errorf("gps: open %s: %w", portName, err)
	}
	defer port.Close()
	logging.Info("gps: serial port opened", "port", portName, "baud", baud)

	// Closing the port unblocks the reader when the context ends.
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer stop()

	fix, err := ScanFix(port)
	if err != nil && ctx.Err() != nil {
		return Fix{}, ctx.Err()
	}
	return fix, err
}

// ScanFix reads NMEA lines from r until an RMC sentence reports a valid fix.
func ScanFix(r io.Reader) (Fix, error) {
	var tracker Tracker
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			// noisy GPS or partial sentences are expected; skip them
			if done, perr := tracker.Apply(line); perr == nil && done && tracker.Fix().Valid() {
				return tracker.Fix(), nil
			}
		}
		if err == io.EOF {
			return Fix{}, ErrNoFix
		}
		if err != nil {
			return Fix{}, fmt.Errorf("gps: read: %w", err)
		}
	}
}
