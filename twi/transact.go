package twi

import (
	"context"
	"errors"
	"fmt"

	"github.com/mklimuk/envmon"
)

var _ envmon.I2CBus = &Transactor{}

// Transactor runs whole transactions over a byte-level Primitive, so
// transaction-level drivers can share a bit-banged or simulated bus.
type Transactor struct {
	p envmon.Primitive
}

func Transact(p envmon.Primitive) *Transactor {
	return &Transactor{p: p}
}

func (t *Transactor) ReadFromAddr(_ context.Context, address byte, buffer []byte) error {
	return t.Tx(uint16(address), nil, buffer)
}

func (t *Transactor) WriteToAddr(_ context.Context, address byte, buffer []byte) error {
	return t.Tx(uint16(address), buffer, nil)
}

func (t *Transactor) Release(context.Context) error {
	return nil
}

// Tx writes w and reads into r in one transaction. The write and read parts
// are joined with a repeated start when the primitive supports it.
func (t *Transactor) Tx(addr uint16, w, r []byte) (err error) {
	a := byte(addr)
	if err := t.p.Start(); err != nil {
		return errors.Join(err, t.p.Stop())
	}
	defer func() {
		if stopErr := t.p.Stop(); err == nil && stopErr != nil {
			err = stopErr
		}
	}()
	if len(w) > 0 || len(r) == 0 {
		if err := t.p.WriteByte(envmon.WriteAddress(a)); err != nil {
			return fmt.Errorf("twi: address %#x: %w", a, err)
		}
		for _, b := range w {
			if err := t.p.WriteByte(b); err != nil {
				return err
			}
		}
		if len(r) == 0 {
			return nil
		}
		if rs, ok := t.p.(envmon.RepeatedStarter); ok {
			err = rs.RepeatedStart()
		} else if err = t.p.Stop(); err == nil {
			err = t.p.Start()
		}
		if err != nil {
			return err
		}
	}
	if err := t.p.WriteByte(envmon.ReadAddress(a)); err != nil {
		return fmt.Errorf("twi: address %#x: %w", a, err)
	}
	for i := range r {
		policy := envmon.ExpectMore
		if i == len(r)-1 {
			policy = envmon.LastByte
		}
		if r[i], err = t.p.Receive(policy); err != nil {
			return err
		}
	}
	return nil
}
