//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Chip is an open GPIO character device.
type Chip struct {
	chip *gpiocdev.Chip
}

// OpenChip opens the named GPIO chip, e.g. "gpiochip0".
func OpenChip(name string) (*Chip, error) {
	c, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", name, err)
	}
	return &Chip{chip: c}, nil
}

// Output requests offset as an output, initially inactive.
func (c *Chip) Output(offset int, activeLow bool) (Output, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	l, err := c.chip.RequestLine(offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("request output pin %d: %w", offset, err)
	}
	return &realOutput{line: l, offset: offset}, nil
}

// Input requests offset as an input. With pullUp false the line is pulled
// down, matching Pi boot defaults.
func (c *Chip) Input(offset int, activeLow, pullUp bool) (Input, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput}
	if pullUp {
		opts = append(opts, gpiocdev.WithPullUp)
	} else {
		opts = append(opts, gpiocdev.WithPullDown)
	}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	l, err := c.chip.RequestLine(offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("request input pin %d: %w", offset, err)
	}
	return &realInput{line: l, offset: offset}, nil
}

// Close releases the chip. Lines must be closed first.
func (c *Chip) Close() error {
	if err := c.chip.Close(); err != nil {
		return fmt.Errorf("close chip: %w", err)
	}
	return nil
}

type realOutput struct {
	line   *gpiocdev.Line
	offset int
}

func (o *realOutput) Set(active bool) error {
	v := 0
	if active {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", o.offset, err)
	}
	return nil
}

// Close drives the line inactive, then hands it back as an input with
// pull-down so a relay cannot stay energised across a restart.
func (o *realOutput) Close() error {
	var errs []error
	if err := o.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("reset pin %d: %w", o.offset, err))
	}
	if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", o.offset, err))
	}
	if err := o.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin %d: %w", o.offset, err))
	}
	return errors.Join(errs...)
}

type realInput struct {
	line   *gpiocdev.Line
	offset int
}

func (i *realInput) Active() (bool, error) {
	v, err := i.line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", i.offset, err)
	}
	return v == 1, nil
}

func (i *realInput) Close() error {
	if err := i.line.Close(); err != nil {
		return fmt.Errorf("close pin %d: %w", i.offset, err)
	}
	return nil
}
