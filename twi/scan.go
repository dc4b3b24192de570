package twi

import "github.com/mklimuk/envmon"

// Probe addresses a device for writing and reports whether it acknowledged.
// The bus is always released afterwards.
func Probe(p envmon.Primitive, addr byte) bool {
	if err := p.Start(); err != nil {
		_ = p.Stop()
		return false
	}
	err := p.WriteByte(envmon.WriteAddress(addr))
	stopErr := p.Stop()
	return err == nil && stopErr == nil
}

// Scan probes every address in [first, last) and returns those that answered.
func Scan(p envmon.Primitive, first, last byte) []byte {
	var found []byte
	for addr := first; addr < last; addr++ {
		if Probe(p, addr) {
			found = append(found, addr)
		}
	}
	return found
}
