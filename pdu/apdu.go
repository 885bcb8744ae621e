package pdu

// APDU is the raw application-protocol-data-unit byte slice: a code byte
// followed by payload, as transmitted on the wire. A zero-length APDU is a
// valid edge case (spec §8 "APDU length 0 on ACKD: accepted; emitted PDU
// has length 1 [the TPDU header byte only, no APDU bytes follow]").
type APDU []byte

// Code returns the APDU's code byte, or 0 if the APDU is empty.
func (a APDU) Code() byte {
	if len(a) == 0 {
		return 0
	}
	return a[0]
}

// Payload returns the bytes following the code byte, or nil if the APDU
// has no payload (including the empty-APDU edge case).
func (a APDU) Payload() []byte {
	if len(a) <= 1 {
		return nil
	}
	return a[1:]
}

// Clone returns an independent copy of a, so a caller that retains it
// (e.g. a saved response, or a transmit record's APDU copy) does not alias
// the queue slot it was read from.
func (a APDU) Clone() APDU {
	if a == nil {
		return nil
	}
	c := make(APDU, len(a))
	copy(c, a)
	return c
}

// Equal reports whether two APDUs carry identical bytes.
func (a APDU) Equal(b APDU) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
